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
	"context"
	"testing"

	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

// newRatingDataset creates 3 users, 4 items and 5 ratings.
func newRatingDataset() *dataset.Dataset {
	trainSet := dataset.NewDataset(0, 0)
	trainSet.AddInteraction(dataset.Interaction{User: 0, Item: 0, Rating: 5})
	trainSet.AddInteraction(dataset.Interaction{User: 0, Item: 1, Rating: 3})
	trainSet.AddInteraction(dataset.Interaction{User: 1, Item: 1, Rating: 4})
	trainSet.AddInteraction(dataset.Interaction{User: 2, Item: 2, Rating: 1})
	trainSet.AddInteraction(dataset.Interaction{User: 2, Item: 3, Rating: 2})
	return trainSet
}

func TestMF_RMSEDecreases(t *testing.T) {
	m := NewMF(model.Params{
		model.NFactors:    2,
		model.Lr:          0.05,
		model.Reg:         0.01,
		model.RandomState: int64(42),
	})
	assert.NoError(t, m.Init(newRatingDataset()))
	assert.NoError(t, m.Iterate(context.Background()))
	first := m.ComputeFit()
	for epoch := 2; epoch <= 50; epoch++ {
		assert.NoError(t, m.Iterate(context.Background()))
	}
	assert.Equal(t, 50, m.Epoch())
	assert.Less(t, m.ComputeFit(), first)
}

func TestMF_Train(t *testing.T) {
	m := NewMF(model.Params{model.NFactors: 2, model.NEpochs: 20})
	assert.Equal(t, StatusIdle, m.Status())
	assert.NoError(t, m.Train(context.Background(), newRatingDataset()))
	assert.Equal(t, StatusMaxIterReached, m.Status())
	assert.Equal(t, 20, m.Epoch())
	assert.Equal(t, float32(3), m.GlobalBias)
	assert.True(t, m.CanPredict(2, 3))
	assert.Greater(t, m.ComputeFit(), float32(0))
	assert.Equal(t, m.Score(0, 1), m.Predict("0", "1"))
	assert.Equal(t, m.GlobalBias, m.Predict("0", "unknown"))
}

func TestMF_Converged(t *testing.T) {
	m := NewMF(model.Params{model.NFactors: 2, model.NEpochs: 100, model.Tolerance: 0.5})
	assert.NoError(t, m.Train(context.Background(), newRatingDataset()))
	assert.Equal(t, StatusConverged, m.Status())
	assert.Less(t, m.Epoch(), 100)
}

func TestMF_Aborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMF(model.Params{model.NFactors: 2})
	err := m.Train(ctx, newRatingDataset())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StatusAborted, m.Status())
}

func TestMF_IterateBeforeInit(t *testing.T) {
	m := NewMF(nil)
	assert.True(t, errors.Is(m.Iterate(context.Background()), ErrNotInitialized))
	assert.Zero(t, m.ComputeFit())
}

func TestMF_Grow(t *testing.T) {
	trainSet := newRatingDataset()
	m := NewMF(model.Params{model.NFactors: 2, model.NEpochs: 5})
	assert.NoError(t, m.Train(context.Background(), trainSet))
	before := append([]float32(nil), m.UserFactor[2]...)
	// the train set outgrows the model
	trainSet.AddUser("new")
	assert.True(t, errors.Is(m.Iterate(context.Background()), ErrDimensionMismatch))
	m.Grow()
	assert.Equal(t, 4, m.NumUsers())
	assert.Equal(t, before, m.UserFactor[2])
	assert.Equal(t, []float32{0, 0}, m.UserFactor[3])
	assert.False(t, m.CanPredict(3, 0))
	assert.NoError(t, m.Iterate(context.Background()))
	// users without feedback receive no update
	assert.Equal(t, []float32{0, 0}, m.UserFactor[3])
}

func TestMF_MarshalModel(t *testing.T) {
	trainSet := newRatingDataset()
	m := NewMF(model.Params{model.NFactors: 3, model.NEpochs: 10, model.Lr: 0.02})
	assert.NoError(t, m.Train(context.Background(), trainSet))
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, m))
	loaded, err := LoadModel(buf, trainSet)
	assert.NoError(t, err)
	assert.IsType(t, &MF{}, loaded)
	assert.Equal(t, "mf", GetModelName(loaded))
	assert.Equal(t, m.GetParams(), loaded.GetParams())
	for u := int32(0); u < 3; u++ {
		for i := int32(0); i < 4; i++ {
			assert.InDelta(t, m.Score(u, i), loaded.GetFactorModel().Score(u, i), 1e-6)
		}
	}
	assert.Equal(t, m.Predict("1", "2"), loaded.Predict("1", "2"))
	// training continues after loading
	assert.NoError(t, loaded.Iterate(context.Background()))
}

func TestLoadModel_DimensionMismatch(t *testing.T) {
	trainSet := newRatingDataset()
	m := NewMF(model.Params{model.NFactors: 2, model.NEpochs: 1})
	assert.NoError(t, m.Train(context.Background(), trainSet))
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, m))
	trainSet.AddItem("extra")
	_, err := LoadModel(buf, trainSet)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	var mismatch *DimensionMismatchError
	assert.True(t, errors.As(err, &mismatch))
	assert.Equal(t, &DimensionMismatchError{Field: "items", Expected: 5, Actual: 4}, mismatch)
}

func TestUnmarshalModel_Unknown(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, writeHeader(buf, "svd", formatVersion))
	_, err := UnmarshalModel(buf)
	assert.True(t, errors.Is(err, errors.NotFound))

	buf.Reset()
	assert.NoError(t, writeHeader(buf, "mf", formatVersion+1))
	_, err = UnmarshalModel(buf)
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestNewModel(t *testing.T) {
	m, err := NewModel("mf", model.Params{model.NFactors: 3})
	assert.NoError(t, err)
	assert.IsType(t, &MF{}, m)
	assert.Equal(t, "mf", GetModelName(m))
	m, err = NewModel("bpr", nil)
	assert.NoError(t, err)
	assert.Equal(t, "bpr", GetModelName(m))
	_, err = NewModel("svd", nil)
	assert.True(t, errors.Is(err, errors.NotFound))
}
