// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mf

import (
	"context"
	"io"
	"reflect"

	"github.com/gorse-io/latent/base/encoding"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Status is the state of a training run.
type Status int32

const (
	StatusIdle Status = iota
	StatusTraining
	StatusConverged
	StatusMaxIterReached
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusTraining:
		return "Training"
	case StatusConverged:
		return "Converged"
	case StatusMaxIterReached:
		return "MaxIterReached"
	case StatusAborted:
		return "Aborted"
	}
	return "Unknown"
}

// formatVersion is written after the model name by MarshalModel.
const formatVersion = 1

type Model interface {
	model.Model
	// Init binds the train set and randomly initializes factors.
	Init(trainSet *dataset.Dataset) error
	// Iterate runs one epoch.
	Iterate(ctx context.Context) error
	// Train runs Init and then Iterate until convergence or the epoch limit.
	Train(ctx context.Context, trainSet *dataset.Dataset) error
	// ComputeFit reports the training error without changing the model.
	ComputeFit() float32
	// GetFactorModel returns the trained factors.
	GetFactorModel() *FactorModel
	// GetUserIndex returns user index.
	GetUserIndex() *dataset.Dict
	// GetItemIndex returns item index.
	GetItemIndex() *dataset.Dict
	// Predict the score given by a user (userId) to a item (itemId).
	Predict(userId, itemId string) float32
	// Status returns the state of the current training run.
	Status() Status
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
	// Bind attaches a train set to a loaded model.
	Bind(trainSet *dataset.Dataset) error
}

// BaseMatrixFactorization is shared by the pointwise and pairwise trainers.
type BaseMatrixFactorization struct {
	model.BaseModel
	FactorModel
	UserIndex *dataset.Dict
	ItemIndex *dataset.Dict
	trainSet  *dataset.Dataset
	status    atomic.Int32
	epoch     int
}

func (baseModel *BaseMatrixFactorization) init(trainSet *dataset.Dataset, k int, mean, stdDev float32) {
	baseModel.ResetRandomGenerator()
	baseModel.trainSet = trainSet
	baseModel.UserIndex = trainSet.GetUserDict()
	baseModel.ItemIndex = trainSet.GetItemDict()
	baseModel.K = k
	baseModel.FactorModel.Init(trainSet.CountUsers(), trainSet.CountItems(), baseModel.GetRandomGenerator(), mean, stdDev)
	baseModel.markPredictable()
	baseModel.epoch = 0
	baseModel.setStatus(StatusIdle)
}

// markPredictable flags users and items with feedback in the train set.
func (baseModel *BaseMatrixFactorization) markPredictable() {
	for userIndex, feedback := range baseModel.trainSet.GetUserFeedback() {
		if len(feedback) > 0 {
			baseModel.UserPredictable.Set(uint(userIndex))
		}
	}
	for itemIndex, feedback := range baseModel.trainSet.GetItemFeedback() {
		if len(feedback) > 0 {
			baseModel.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

// Grow extends the model with zero rows for users and items registered in the train
// set since Init. It must not run concurrently with Iterate.
func (baseModel *BaseMatrixFactorization) Grow() {
	if baseModel.trainSet == nil {
		return
	}
	if n := baseModel.trainSet.CountUsers(); n > 0 {
		baseModel.AddUser(int32(n - 1))
	}
	if n := baseModel.trainSet.CountItems(); n > 0 {
		baseModel.AddItem(int32(n - 1))
	}
	baseModel.markPredictable()
}

// Bind attaches a train set to a loaded model so that training can continue.
func (baseModel *BaseMatrixFactorization) Bind(trainSet *dataset.Dataset) error {
	if err := baseModel.CheckDimensions(trainSet.CountUsers(), trainSet.CountItems()); err != nil {
		return errors.Trace(err)
	}
	baseModel.trainSet = trainSet
	baseModel.UserIndex = trainSet.GetUserDict()
	baseModel.ItemIndex = trainSet.GetItemDict()
	return nil
}

// checkTrainSet fails if the train set has outgrown the model.
func (baseModel *BaseMatrixFactorization) checkTrainSet() error {
	if baseModel.trainSet == nil || baseModel.UserFactor == nil {
		return errors.Trace(ErrNotInitialized)
	}
	if baseModel.trainSet.CountUsers() > baseModel.NumUsers() {
		return &DimensionMismatchError{Field: "users", Expected: baseModel.trainSet.CountUsers(), Actual: baseModel.NumUsers()}
	}
	if baseModel.trainSet.CountItems() > baseModel.NumItems() {
		return &DimensionMismatchError{Field: "items", Expected: baseModel.trainSet.CountItems(), Actual: baseModel.NumItems()}
	}
	return nil
}

func (baseModel *BaseMatrixFactorization) GetFactorModel() *FactorModel {
	return &baseModel.FactorModel
}

func (baseModel *BaseMatrixFactorization) GetUserIndex() *dataset.Dict {
	return baseModel.UserIndex
}

func (baseModel *BaseMatrixFactorization) GetItemIndex() *dataset.Dict {
	return baseModel.ItemIndex
}

// GetTrainSet returns the bound train set.
func (baseModel *BaseMatrixFactorization) GetTrainSet() *dataset.Dataset {
	return baseModel.trainSet
}

func (baseModel *BaseMatrixFactorization) Status() Status {
	return Status(baseModel.status.Load())
}

func (baseModel *BaseMatrixFactorization) setStatus(status Status) {
	baseModel.status.Store(int32(status))
}

// Epoch returns the number of epochs run since Init.
func (baseModel *BaseMatrixFactorization) Epoch() int {
	return baseModel.epoch
}

// Predict scores by external identifiers. Unknown identifiers are logged and scored
// with the global bias.
func (baseModel *BaseMatrixFactorization) Predict(userId, itemId string) float32 {
	userIndex, itemIndex := int32(-1), int32(-1)
	if baseModel.UserIndex != nil {
		if index, ok := baseModel.UserIndex.Lookup(userId); ok {
			userIndex = index
		}
	}
	if baseModel.ItemIndex != nil {
		if index, ok := baseModel.ItemIndex.Lookup(itemId); ok {
			itemIndex = index
		}
	}
	if userIndex < 0 {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
	}
	if itemIndex < 0 {
		log.Logger().Warn("unknown item", zap.String("item_id", itemId))
	}
	return baseModel.Score(userIndex, itemIndex)
}

func (baseModel *BaseMatrixFactorization) Clear() {
	baseModel.UserIndex = nil
	baseModel.ItemIndex = nil
	baseModel.UserFactor = nil
	baseModel.ItemFactor = nil
	baseModel.UserBias = nil
	baseModel.ItemBias = nil
	baseModel.trainSet = nil
	baseModel.setStatus(StatusIdle)
}

func (baseModel *BaseMatrixFactorization) Invalid() bool {
	return baseModel == nil ||
		baseModel.UserIndex == nil ||
		baseModel.ItemIndex == nil ||
		baseModel.UserFactor == nil ||
		baseModel.ItemFactor == nil
}

// Marshal writes the factor model, then hyper-parameters and identifier names.
func (baseModel *BaseMatrixFactorization) Marshal(w io.Writer) error {
	if err := baseModel.FactorModel.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, baseModel.Params); err != nil {
		return errors.Trace(err)
	}
	if err := writeDict(w, baseModel.UserIndex, baseModel.NumUsers()); err != nil {
		return errors.Trace(err)
	}
	if err := writeDict(w, baseModel.ItemIndex, baseModel.NumItems()); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal reads a model written by Marshal.
func (baseModel *BaseMatrixFactorization) Unmarshal(r io.Reader) error {
	if err := baseModel.FactorModel.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	baseModel.Params = params
	var err error
	if baseModel.UserIndex, err = readDict(r, "user names", baseModel.NumUsers()); err != nil {
		return errors.Trace(err)
	}
	if baseModel.ItemIndex, err = readDict(r, "item names", baseModel.NumItems()); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// writeDict writes n names. Rows beyond the dictionary are named by their index.
func writeDict(w io.Writer, dict *dataset.Dict, n int) error {
	if err := encoding.WriteInt64(w, int64(n)); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < n; i++ {
		var name string
		if dict != nil {
			name, _ = dict.String(int32(i))
		}
		if err := encoding.WriteString(w, name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func readDict(r io.Reader, field string, expected int) (*dataset.Dict, error) {
	n, err := encoding.ReadInt64(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if int(n) != expected {
		return nil, &DimensionMismatchError{Field: field, Expected: expected, Actual: int(n)}
	}
	dict := dataset.NewDict()
	for i := 0; i < int(n); i++ {
		name, err := encoding.ReadString(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		dict.Append(name)
	}
	return dict, nil
}

// converged reports whether the relative change from previous to current is below
// tolerance. A non-positive tolerance never converges.
func converged(previous, current, tolerance float32) bool {
	if tolerance <= 0 || previous == 0 {
		return false
	}
	change := (previous - current) / previous
	if change < 0 {
		change = -change
	}
	return change < tolerance
}

// NewModel creates a model by name.
func NewModel(name string, params model.Params) (Model, error) {
	switch name {
	case "mf":
		return NewMF(params), nil
	case "bpr":
		return NewBPR(params), nil
	}
	return nil, errors.NotFoundf("model %v", name)
}

func GetModelName(m Model) string {
	switch m.(type) {
	case *MF:
		return "mf"
	case *BPR:
		return "bpr"
	default:
		return reflect.TypeOf(m).String()
	}
}

// MarshalModel writes the model name and format version followed by the model.
func MarshalModel(w io.Writer, m Model) error {
	if err := writeHeader(w, GetModelName(m), formatVersion); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func writeHeader(w io.Writer, name string, version int64) error {
	if err := encoding.WriteString(w, name); err != nil {
		return errors.Trace(err)
	}
	return encoding.WriteInt64(w, version)
}

// UnmarshalModel reads a model written by MarshalModel.
func UnmarshalModel(r io.Reader) (Model, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	version, err := encoding.ReadInt64(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if version != formatVersion {
		return nil, errors.NotSupportedf("model format version %d", version)
	}
	switch name {
	case "mf":
		var mf MF
		if err := mf.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &mf, nil
	case "bpr":
		var bpr BPR
		if err := bpr.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &bpr, nil
	}
	return nil, errors.NotFoundf("model %v", name)
}

// LoadModel reads a model and binds it to trainSet. It fails with a dimension
// mismatch if the model does not cover exactly the users and items of trainSet.
func LoadModel(r io.Reader, trainSet *dataset.Dataset) (Model, error) {
	m, err := UnmarshalModel(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if trainSet != nil {
		if err = m.Bind(trainSet); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return m, nil
}
