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
	"github.com/gorse-io/latent/common/parallel"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SVR fits one regressor per factor from the attributes of trained entities. The
// regressor is pluggable; ridge regression is used by default.
//
// Hyper-parameters:
//
//	 Ridge	- The L2 penalty of the default regressor. Default is 1.
//	 NJobs	- The number of factors fitted in parallel. Default is 1.
type SVR struct {
	BaseMapper
	ridge        float32
	nJobs        int
	NewRegressor func() Regressor
	Regressors   []Regressor
}

func NewSVR(side dataset.Side, params model.Params) *SVR {
	m := &SVR{BaseMapper: BaseMapper{Side: side}}
	m.SetParams(params)
	return m
}

func (m *SVR) SetParams(params model.Params) {
	m.BaseMapper.SetParams(params)
	m.ridge = m.Params.GetFloat32(model.Ridge, 1)
	m.nJobs = m.Params.GetInt(model.NJobs, 1)
}

func (m *SVR) Clear() {
	m.BaseMapper.Clear()
	m.Regressors = nil
}

// Fit regresses every factor of trained entities on their attributes.
func (m *SVR) Fit(ctx context.Context, trainSet *dataset.Dataset, factors *mf.FactorModel, attributes *dataset.Attributes) (*Cached, error) {
	log.Logger().Info("fit svr mapping",
		zap.String("side", string(m.Side)),
		zap.Int("n_attributes", attributes.NumAttributes()),
		zap.Any("params", m.GetParams()))
	if err := checkFactors(trainSet, factors); err != nil {
		return nil, errors.Trace(err)
	}
	m.bind(factors, attributes)
	entities := trainedEntities(factors, m.Side)
	features := lo.Map(entities, func(entity int32, _ int) []int32 {
		return attributes.AttributesOf(entity)
	})
	m.Regressors = make([]Regressor, factors.K)
	err := parallel.Parallel(ctx, factors.K, m.nJobs, func(_, factor int) error {
		targets := lo.Map(entities, func(entity int32, _ int) float64 {
			trained, _ := TrainedFactors(factors, m.Side, entity)
			return float64(trained[factor])
		})
		regressor := m.newRegressor()
		if err := regressor.Fit(features, targets, attributes.NumAttributes()); err != nil {
			return errors.Annotatef(err, "factor %d", factor)
		}
		m.Regressors[factor] = regressor
		return nil
	})
	if err != nil {
		m.Regressors = nil
		return nil, errors.Trace(err)
	}
	logFit("svr", m, &m.BaseMapper)
	return NewCached(m, factors.K, m.numMapped()), nil
}

func (m *SVR) newRegressor() Regressor {
	if m.NewRegressor != nil {
		return m.NewRegressor()
	}
	return NewRidge(float64(m.ridge))
}

// MapToFactors predicts every factor from the attributes of the entity.
func (m *SVR) MapToFactors(entity int32) []float32 {
	mapped := make([]float32, len(m.Regressors))
	features := m.Attributes.AttributesOf(entity)
	for i, regressor := range m.Regressors {
		mapped[i] = float32(regressor.Predict(features))
	}
	return mapped
}
