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

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/base/log"
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Complex maps attributes through a hidden layer:
//
//	h_e = tanh( \sum_{a \in A(e)} V_a )
//	m_e = b + W^T h_e
//
// Both layers are learned by BPR via the chain rule. An update costs
// O(|A(e)| * NHidden * K).
//
// Hyper-parameters:
//
//	 NHidden	- The width of the hidden layer. Default is 16.
//	 NEpochs, Lr, Reg, InitMean, InitStdDev, Sampler - Same as Optimal.
type Complex struct {
	BaseMapper
	config  pairwiseConfig
	nHidden int
	Bias    []float32
	Input   [][]float32 // attribute -> hidden
	Output  [][]float32 // hidden -> factor
}

func NewComplex(side dataset.Side, params model.Params) *Complex {
	m := &Complex{BaseMapper: BaseMapper{Side: side}}
	m.SetParams(params)
	return m
}

func (m *Complex) SetParams(params model.Params) {
	m.BaseMapper.SetParams(params)
	m.config = newPairwiseConfig(m.Params)
	m.nHidden = m.Params.GetInt(model.NHidden, 16)
}

func (m *Complex) Clear() {
	m.BaseMapper.Clear()
	m.Bias = nil
	m.Input = nil
	m.Output = nil
}

// Fit learns both layers from the factors trained on trainSet.
func (m *Complex) Fit(ctx context.Context, trainSet *dataset.Dataset, factors *mf.FactorModel, attributes *dataset.Attributes) (*Cached, error) {
	log.Logger().Info("fit complex mapping",
		zap.String("side", string(m.Side)),
		zap.Int("n_attributes", attributes.NumAttributes()),
		zap.Any("params", m.GetParams()))
	if m.nHidden <= 0 {
		return nil, errors.NotValidf("%d hidden units", m.nHidden)
	}
	if err := checkFactors(trainSet, factors); err != nil {
		return nil, errors.Trace(err)
	}
	m.bind(factors, attributes)
	rng := m.GetRandomGenerator()
	m.Bias = floats.ColumnMean(factorsOf(factors, m.Side), factors.K, trainedEntities(factors, m.Side))
	m.Input = rng.NormalMatrix(attributes.NumAttributes(), m.nHidden, m.config.initMean, m.config.initStdDev)
	m.Output = rng.NormalMatrix(m.nHidden, factors.K, m.config.initMean, m.config.initStdDev)
	if err := fitPairwise(ctx, "complex", m, &m.BaseMapper, m.config, trainSet); err != nil {
		return nil, errors.Trace(err)
	}
	logFit("complex", m, &m.BaseMapper)
	return NewCached(m, factors.K, m.numMapped()), nil
}

func (m *Complex) hidden(entity int32) []float32 {
	hidden := make([]float32, m.nHidden)
	for _, attribute := range m.Attributes.AttributesOf(entity) {
		if int(attribute) < len(m.Input) {
			floats.Add(hidden, m.Input[attribute])
		}
	}
	for i := range hidden {
		hidden[i] = math32.Tanh(hidden[i])
	}
	return hidden
}

// MapToFactors computes the mapped vector from current weights.
func (m *Complex) MapToFactors(entity int32) []float32 {
	mapped := floats.Clone(m.Bias)
	for i, h := range m.hidden(entity) {
		floats.MulConstAdd(m.Output[i], h, mapped)
	}
	return mapped
}

func (m *Complex) backward(entity int32, grad []float32, lr, reg float32) {
	hidden := m.hidden(entity)
	// gradient of hidden pre-activations
	hiddenGrad := make([]float32, m.nHidden)
	for i, h := range hidden {
		hiddenGrad[i] = floats.Dot(grad, m.Output[i]) * (1 - h*h)
	}
	floats.MulConstAdd(grad, lr, m.Bias)
	for i, h := range hidden {
		floats.MulConst(m.Output[i], 1-lr*reg)
		floats.MulConstAdd(grad, lr*h, m.Output[i])
	}
	for _, attribute := range m.Attributes.AttributesOf(entity) {
		if int(attribute) < len(m.Input) {
			floats.MulConst(m.Input[attribute], 1-lr*reg)
			floats.MulConstAdd(hiddenGrad, lr, m.Input[attribute])
		}
	}
}
