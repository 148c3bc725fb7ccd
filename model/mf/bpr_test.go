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
	"math"
	"testing"

	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

// newSeparableDataset creates two groups: users 0-3 like items 0-3 and users 4-7 like
// items 4-7.
func newSeparableDataset() *dataset.Dataset {
	trainSet := dataset.NewDataset(0, 0)
	for u := int32(0); u < 8; u++ {
		group := u / 4
		for i := int32(0); i < 4; i++ {
			trainSet.AddInteraction(dataset.Interaction{User: u, Item: group*4 + i, Rating: 1})
		}
	}
	return trainSet
}

func countOrderedPairs(m *BPR, trainSet *dataset.Dataset) (int, int) {
	ordered, total := 0, 0
	for u := int32(0); int(u) < trainSet.CountUsers(); u++ {
		for _, i := range trainSet.GetUserFeedback()[u] {
			for j := int32(0); int(j) < trainSet.CountItems(); j++ {
				if !trainSet.IsPositive(u, j) {
					if m.Score(u, i) > m.Score(u, j) {
						ordered++
					}
					total++
				}
			}
		}
	}
	return ordered, total
}

func TestBPR_Separable(t *testing.T) {
	for _, withReplacement := range []bool{true, false} {
		for _, name := range samplerNames {
			trainSet := newSeparableDataset()
			m := NewBPR(model.Params{
				model.NFactors:        2,
				model.NEpochs:         100,
				model.Lr:              0.1,
				model.Reg:             0.01,
				model.RandomState:     int64(7),
				model.SamplerName:     name,
				model.WithReplacement: withReplacement,
			})
			assert.NoError(t, m.Train(context.Background(), trainSet))
			assert.Equal(t, StatusMaxIterReached, m.Status())
			ordered, total := countOrderedPairs(m, trainSet)
			assert.Equal(t, 128, total)
			assert.GreaterOrEqual(t, float64(ordered)/float64(total), 0.8, name)
			assert.GreaterOrEqual(t, m.ComputeFit(), float32(0.8), name)
		}
	}
}

func TestBPR_ScoreIsDotProduct(t *testing.T) {
	m := NewBPR(model.Params{model.NFactors: 2, model.NEpochs: 1})
	assert.NoError(t, m.Train(context.Background(), newSeparableDataset()))
	assert.Zero(t, m.GlobalBias)
	assert.InDelta(t, m.UserFactor[1][0]*m.ItemFactor[2][0]+m.UserFactor[1][1]*m.ItemFactor[2][1], m.Score(1, 2), 1e-6)
	assert.Zero(t, m.Score(100, 0))
}

func TestBPR_LossDecreases(t *testing.T) {
	trainSet := newSeparableDataset()
	m := NewBPR(model.Params{model.NFactors: 2, model.Lr: 0.1})
	assert.NoError(t, m.Init(trainSet))
	initial := m.ComputeLoss()
	for epoch := 0; epoch < 50; epoch++ {
		assert.NoError(t, m.Iterate(context.Background()))
	}
	assert.Less(t, m.ComputeLoss(), initial)
}

func TestBPR_BoldDriver(t *testing.T) {
	m := NewBPR(model.Params{model.NFactors: 2, model.NEpochs: 3, model.Lr: 0.05, model.BoldDriver: true})
	assert.NoError(t, m.Train(context.Background(), newSeparableDataset()))
	// the learning rate changed twice, each time by a factor of 0.5 or 1.1
	lr := m.GetLearningRate()
	assert.NotEqual(t, float32(0.05), lr)
	candidates := []float32{0.05 * 0.5 * 0.5, 0.05 * 0.5 * 1.1, 0.05 * 1.1 * 1.1}
	matched := false
	for _, candidate := range candidates {
		if candidate-lr < 1e-6 && lr-candidate < 1e-6 {
			matched = true
		}
	}
	assert.True(t, matched, lr)
	// training again starts from the configured learning rate
	assert.NoError(t, m.Init(newSeparableDataset()))
	assert.Equal(t, float32(0.05), m.GetLearningRate())
}

func TestBPR_BoldDriverCancelled(t *testing.T) {
	m := NewBPR(model.Params{model.NFactors: 2, model.Lr: 0.05, model.BoldDriver: true})
	assert.NoError(t, m.Init(newSeparableDataset()))
	assert.NoError(t, m.Iterate(context.Background()))
	lr := m.GetLearningRate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Iterate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, lr, m.GetLearningRate())
	_, _, err = m.pairwiseStats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBPR_LossRegularization(t *testing.T) {
	trainSet := newSeparableDataset()
	m := NewBPR(model.Params{
		model.NFactors: 3,
		model.RegU:     0.1,
		model.RegI:     0.2,
		model.RegJ:     0.7,
		model.NJobs:    2,
	})
	assert.NoError(t, m.Init(trainSet))
	norm := func(v []float32) float64 {
		sum := 0.0
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		return sum
	}
	expected := 0.0
	for u := int32(0); int(u) < trainSet.CountUsers(); u++ {
		for i := int32(0); int(i) < trainSet.CountItems(); i++ {
			if !trainSet.IsPositive(u, i) {
				continue
			}
			for j := int32(0); int(j) < trainSet.CountItems(); j++ {
				if trainSet.IsPositive(u, j) {
					continue
				}
				diff := float64(m.Score(u, i) - m.Score(u, j))
				expected += math.Log1p(math.Exp(-diff))
				expected += (0.1*norm(m.UserFactor[u]) + 0.2*norm(m.ItemFactor[i]) + 0.7*norm(m.ItemFactor[j])) / 2
			}
		}
	}
	assert.InEpsilon(t, expected, float64(m.ComputeLoss()), 1e-4)
	// negative items are weighted by reg_j alone
	m.regJ = 0
	assert.Less(t, m.ComputeLoss(), float32(expected))
}

func TestBPR_Converged(t *testing.T) {
	m := NewBPR(model.Params{model.NFactors: 2, model.NEpochs: 1000, model.Tolerance: 0.9})
	assert.NoError(t, m.Train(context.Background(), newSeparableDataset()))
	assert.Equal(t, StatusConverged, m.Status())
	assert.Less(t, m.Epoch(), 1000)
}

func TestBPR_NoEligibleUser(t *testing.T) {
	trainSet := dataset.NewDataset(0, 0)
	trainSet.AddInteraction(dataset.Interaction{User: 0, Item: 0})
	trainSet.AddInteraction(dataset.Interaction{User: 1, Item: 0})
	m := NewBPR(model.Params{model.NFactors: 2})
	err := m.Train(context.Background(), trainSet)
	assert.True(t, errors.Is(err, ErrNoEligibleUser))
	assert.Equal(t, StatusAborted, m.Status())
}

type failingSampler struct{}

func (failingSampler) NextUser() (int32, error) {
	return 0, ErrSamplingExhausted
}

func (failingSampler) OtherItem(int32, int32) (int32, bool, error) {
	return 0, false, ErrSamplingExhausted
}

func (failingSampler) NextTriple() (int32, int32, int32, error) {
	return 0, 0, 0, ErrSamplingExhausted
}

func TestBPR_SamplerFailure(t *testing.T) {
	for _, withReplacement := range []bool{true, false} {
		m := NewBPR(model.Params{model.NFactors: 2, model.WithReplacement: withReplacement})
		m.SetSampler(failingSampler{})
		err := m.Train(context.Background(), newSeparableDataset())
		assert.True(t, errors.Is(err, ErrSamplingExhausted))
		assert.Equal(t, StatusAborted, m.Status())
		assert.Equal(t, 0, m.Epoch())
	}
}

func TestBPR_MarshalModel(t *testing.T) {
	trainSet := newSeparableDataset()
	m := NewBPR(model.Params{model.NFactors: 3, model.NEpochs: 10, model.SamplerName: SamplerFrequencyPair})
	assert.NoError(t, m.Train(context.Background(), trainSet))
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, m))
	loaded, err := UnmarshalModel(buf)
	assert.NoError(t, err)
	assert.IsType(t, &BPR{}, loaded)
	for u := int32(0); u < 8; u++ {
		for i := int32(0); i < 8; i++ {
			assert.InDelta(t, m.Score(u, i), loaded.GetFactorModel().Score(u, i), 1e-6)
		}
	}
	assert.Equal(t, 3, loaded.GetFactorModel().K)
	// a loaded model needs a train set before it can iterate
	assert.True(t, errors.Is(loaded.Iterate(context.Background()), ErrNotInitialized))
	assert.NoError(t, loaded.Bind(trainSet))
	assert.NoError(t, loaded.Iterate(context.Background()))
}
