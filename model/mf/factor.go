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
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/base/encoding"
	"github.com/gorse-io/latent/common/floats"
	"github.com/juju/errors"
)

// FactorModel holds biases and latent factors indexed densely by user and item.
// Rows only grow, and grown rows are zero until trained.
type FactorModel struct {
	K               int
	GlobalBias      float32
	UserBias        []float32
	ItemBias        []float32
	UserFactor      [][]float32 // p_u
	ItemFactor      [][]float32 // q_i
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
}

// NewFactorModel creates an empty model with k latent factors.
func NewFactorModel(k int) *FactorModel {
	return &FactorModel{
		K:               k,
		UserPredictable: bitset.New(0),
		ItemPredictable: bitset.New(0),
	}
}

// Init resizes the model and draws every factor from a gaussian. Biases are reset to zero.
func (m *FactorModel) Init(numUsers, numItems int, rng base.RandomGenerator, mean, stdDev float32) {
	m.GlobalBias = 0
	m.UserBias = make([]float32, numUsers)
	m.ItemBias = make([]float32, numItems)
	m.UserFactor = rng.NormalMatrix(numUsers, m.K, mean, stdDev)
	m.ItemFactor = rng.NormalMatrix(numItems, m.K, mean, stdDev)
	m.UserPredictable = bitset.New(uint(numUsers))
	m.ItemPredictable = bitset.New(uint(numItems))
}

func (m *FactorModel) NumUsers() int {
	return len(m.UserFactor)
}

func (m *FactorModel) NumItems() int {
	return len(m.ItemFactor)
}

// AddUser grows the model so that userIndex is valid. Existing rows are untouched and
// new rows are zero. It is a no-op if userIndex is already valid.
func (m *FactorModel) AddUser(userIndex int32) {
	for len(m.UserFactor) <= int(userIndex) {
		m.UserFactor = append(m.UserFactor, make([]float32, m.K))
		m.UserBias = append(m.UserBias, 0)
	}
}

// AddItem grows the model so that itemIndex is valid.
func (m *FactorModel) AddItem(itemIndex int32) {
	for len(m.ItemFactor) <= int(itemIndex) {
		m.ItemFactor = append(m.ItemFactor, make([]float32, m.K))
		m.ItemBias = append(m.ItemBias, 0)
	}
}

// IsUserPredictable returns false if the user is unknown or its factors never received
// training signal.
func (m *FactorModel) IsUserPredictable(userIndex int32) bool {
	if userIndex < 0 || int(userIndex) >= m.NumUsers() {
		return false
	}
	return m.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if the item is unknown or its factors never received
// training signal.
func (m *FactorModel) IsItemPredictable(itemIndex int32) bool {
	if itemIndex < 0 || int(itemIndex) >= m.NumItems() {
		return false
	}
	return m.ItemPredictable.Test(uint(itemIndex))
}

// CanPredict reports whether Score(userIndex, itemIndex) is backed by trained factors.
func (m *FactorModel) CanPredict(userIndex, itemIndex int32) bool {
	return m.IsUserPredictable(userIndex) && m.IsItemPredictable(itemIndex)
}

// InternalPredict scores without bound checks.
func (m *FactorModel) InternalPredict(userIndex, itemIndex int32) float32 {
	return m.GlobalBias + m.UserBias[userIndex] + m.ItemBias[itemIndex] +
		floats.Dot(m.UserFactor[userIndex], m.ItemFactor[itemIndex])
}

// Score returns the predicted preference. Unknown users or items get the global bias.
func (m *FactorModel) Score(userIndex, itemIndex int32) float32 {
	if userIndex < 0 || int(userIndex) >= m.NumUsers() || itemIndex < 0 || int(itemIndex) >= m.NumItems() {
		return m.GlobalBias
	}
	return m.InternalPredict(userIndex, itemIndex)
}

// ScoreStrict is Score but fails for users or items that cannot be predicted.
func (m *FactorModel) ScoreStrict(userIndex, itemIndex int32) (float32, error) {
	if !m.IsUserPredictable(userIndex) {
		return 0, errors.NotFoundf("user %d", userIndex)
	}
	if !m.IsItemPredictable(itemIndex) {
		return 0, errors.NotFoundf("item %d", itemIndex)
	}
	return m.InternalPredict(userIndex, itemIndex), nil
}

// CheckDimensions fails if the model does not cover exactly the given numbers of users
// and items.
func (m *FactorModel) CheckDimensions(numUsers, numItems int) error {
	if m.NumUsers() != numUsers {
		return &DimensionMismatchError{Field: "users", Expected: numUsers, Actual: m.NumUsers()}
	}
	if m.NumItems() != numItems {
		return &DimensionMismatchError{Field: "items", Expected: numItems, Actual: m.NumItems()}
	}
	return nil
}

// Marshal writes K, the global bias, both bias vectors, both factor matrices and
// the predictable flags.
func (m *FactorModel) Marshal(w io.Writer) error {
	if err := encoding.WriteInt64(w, int64(m.K)); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.GlobalBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, m.UserBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, m.ItemBias); err != nil {
		return errors.Trace(err)
	}
	for _, factor := range [][][]float32{m.UserFactor, m.ItemFactor} {
		if err := encoding.WriteInt64(w, int64(len(factor))); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteInt64(w, int64(m.K)); err != nil {
			return errors.Trace(err)
		}
		for _, row := range factor {
			if len(row) != m.K {
				return &DimensionMismatchError{Field: "factor columns", Expected: m.K, Actual: len(row)}
			}
		}
		if err := encoding.WriteMatrix(w, factor); err != nil {
			return errors.Trace(err)
		}
	}
	if _, err := m.UserPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	if _, err := m.ItemPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal reads a model written by Marshal. Inconsistent dimensions are reported as
// *DimensionMismatchError.
func (m *FactorModel) Unmarshal(r io.Reader) error {
	k, err := encoding.ReadInt64(r)
	if err != nil {
		return errors.Trace(err)
	}
	if k <= 0 || k > encoding.MaxColumns {
		return errors.NotValidf("number of factors %d", k)
	}
	m.K = int(k)
	if err = binary.Read(r, binary.LittleEndian, &m.GlobalBias); err != nil {
		return errors.Trace(err)
	}
	if m.UserBias, err = encoding.ReadVector(r); err != nil {
		return errors.Trace(err)
	}
	if m.ItemBias, err = encoding.ReadVector(r); err != nil {
		return errors.Trace(err)
	}
	if m.UserFactor, err = readFactor(r, "user", m.K, len(m.UserBias)); err != nil {
		return errors.Trace(err)
	}
	if m.ItemFactor, err = readFactor(r, "item", m.K, len(m.ItemBias)); err != nil {
		return errors.Trace(err)
	}
	if m.UserPredictable, err = readPredictable(r, "user flags", len(m.UserFactor)); err != nil {
		return errors.Trace(err)
	}
	if m.ItemPredictable, err = readPredictable(r, "item flags", len(m.ItemFactor)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// readPredictable checks the length header of a bitset before it is allocated.
func readPredictable(r io.Reader, field string, rows int) (*bitset.BitSet, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Trace(err)
	}
	if length := bitset.BinaryOrder().Uint64(header); length > uint64(rows) {
		return nil, &DimensionMismatchError{Field: field, Expected: rows, Actual: int(min(length, math.MaxInt32))}
	}
	flags := bitset.New(uint(rows))
	if _, err := flags.ReadFrom(io.MultiReader(bytes.NewReader(header), r)); err != nil {
		return nil, errors.Trace(err)
	}
	return flags, nil
}

func readFactor(r io.Reader, name string, k, expectedRows int) ([][]float32, error) {
	rows, err := encoding.ReadInt64(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cols, err := encoding.ReadInt64(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if int(rows) != expectedRows {
		return nil, &DimensionMismatchError{Field: name + " factor rows", Expected: expectedRows, Actual: int(rows)}
	}
	if int(cols) != k {
		return nil, &DimensionMismatchError{Field: name + " factor columns", Expected: k, Actual: int(cols)}
	}
	factor, err := encoding.ReadMatrix(r, rows, cols)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return factor, nil
}
