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

package mapping

import (
	"context"

	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Optimal maps an entity to the sum of a bias vector and the weight vectors of its
// attributes:
//
//	m_e = b + \sum_{a \in A(e)} W_a
//
// The weights are learned by BPR with m_e substituted for the factors of e. The bias
// starts from the mean of trained factors.
//
// Hyper-parameters:
//
//	 NEpochs	- The number of epochs. Default is 50.
//	 Lr 		- The learning rate of SGD. Default is 0.01.
//	 Reg 		- The regularization of weights. Default is 0.01.
//	 InitMean	- The mean of initial weights. Default is 0.
//	 InitStdDev	- The standard deviation of initial weights. Default is 0.1.
//	 Sampler	- The sampler of triples. Default is uniform_user.
type Optimal struct {
	BaseMapper
	config  pairwiseConfig
	Bias    []float32
	Weights [][]float32
}

func NewOptimal(side dataset.Side, params model.Params) *Optimal {
	m := &Optimal{BaseMapper: BaseMapper{Side: side}}
	m.SetParams(params)
	return m
}

func (m *Optimal) SetParams(params model.Params) {
	m.BaseMapper.SetParams(params)
	m.config = newPairwiseConfig(m.Params)
}

func (m *Optimal) Clear() {
	m.BaseMapper.Clear()
	m.Bias = nil
	m.Weights = nil
}

// Fit learns weights from the factors trained on trainSet.
func (m *Optimal) Fit(ctx context.Context, trainSet *dataset.Dataset, factors *mf.FactorModel, attributes *dataset.Attributes) (*Cached, error) {
	log.Logger().Info("fit optimal mapping",
		zap.String("side", string(m.Side)),
		zap.Int("n_attributes", attributes.NumAttributes()),
		zap.Any("params", m.GetParams()))
	if err := checkFactors(trainSet, factors); err != nil {
		return nil, errors.Trace(err)
	}
	m.bind(factors, attributes)
	m.Bias = floats.ColumnMean(factorsOf(factors, m.Side), factors.K, trainedEntities(factors, m.Side))
	m.Weights = m.GetRandomGenerator().NormalMatrix(attributes.NumAttributes(), factors.K, m.config.initMean, m.config.initStdDev)
	if err := fitPairwise(ctx, "optimal", m, &m.BaseMapper, m.config, trainSet); err != nil {
		return nil, errors.Trace(err)
	}
	logFit("optimal", m, &m.BaseMapper)
	return NewCached(m, factors.K, m.numMapped()), nil
}

// MapToFactors computes the mapped vector from current weights.
func (m *Optimal) MapToFactors(entity int32) []float32 {
	mapped := floats.Clone(m.Bias)
	for _, attribute := range m.Attributes.AttributesOf(entity) {
		if int(attribute) < len(m.Weights) {
			floats.Add(mapped, m.Weights[attribute])
		}
	}
	return mapped
}

func (m *Optimal) backward(entity int32, grad []float32, lr, reg float32) {
	floats.MulConstAdd(grad, lr, m.Bias)
	for _, attribute := range m.Attributes.AttributesOf(entity) {
		if int(attribute) < len(m.Weights) {
			weights := m.Weights[attribute]
			floats.MulConst(weights, 1-lr*reg)
			floats.MulConstAdd(grad, lr, weights)
		}
	}
}
