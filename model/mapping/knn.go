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
	"github.com/gorse-io/latent/model/correlation"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// KNN maps an entity to the similarity-weighted average of the trained factors of its
// nearest neighbors. Similarity is the cosine between attribute sets. Nothing is
// learned.
//
// Hyper-parameters:
//
//	 NNeighbors	- The number of neighbors. Default is 20.
//	 NJobs		- The number of workers building similarities. Default is 1.
type KNN struct {
	BaseMapper
	nNeighbors int
	nJobs      int
	Similarity *correlation.Matrix
}

func NewKNN(side dataset.Side, params model.Params) *KNN {
	m := &KNN{BaseMapper: BaseMapper{Side: side}}
	m.SetParams(params)
	return m
}

func (m *KNN) SetParams(params model.Params) {
	m.BaseMapper.SetParams(params)
	m.nNeighbors = m.Params.GetInt(model.NNeighbors, 20)
	m.nJobs = m.Params.GetInt(model.NJobs, 1)
}

func (m *KNN) Clear() {
	m.BaseMapper.Clear()
	m.Similarity = nil
}

// Fit builds similarities between entities of the factor model and entities only known
// by their attributes.
func (m *KNN) Fit(ctx context.Context, trainSet *dataset.Dataset, factors *mf.FactorModel, attributes *dataset.Attributes) (*Cached, error) {
	log.Logger().Info("fit knn mapping",
		zap.String("side", string(m.Side)),
		zap.Int("n_attributes", attributes.NumAttributes()),
		zap.Any("params", m.GetParams()))
	if m.nNeighbors <= 0 {
		return nil, errors.NotValidf("%d neighbors", m.nNeighbors)
	}
	if err := checkFactors(trainSet, factors); err != nil {
		return nil, errors.Trace(err)
	}
	m.bind(factors, attributes)
	similarity, err := correlation.NewCosine(ctx, attributes, m.numMapped(), m.nJobs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m.Similarity = similarity
	logFit("knn", m, &m.BaseMapper)
	return NewCached(m, factors.K, m.numMapped()), nil
}

// MapToFactors averages the factors of trained neighbors. An entity without positively
// similar trained neighbors maps to the zero vector.
func (m *KNN) MapToFactors(entity int32) []float32 {
	mapped := make([]float32, m.K())
	if entity < 0 || int(entity) >= m.Similarity.NumEntities() {
		return mapped
	}
	neighbors := m.Similarity.Neighbors(entity, m.nNeighbors, func(neighbor int32) bool {
		_, trained := TrainedFactors(m.Factors, m.Side, neighbor)
		return trained
	})
	sum := float32(0)
	for _, neighbor := range neighbors {
		factors, _ := TrainedFactors(m.Factors, m.Side, neighbor.Value)
		floats.MulConstAdd(factors, neighbor.Weight, mapped)
		sum += neighbor.Weight
	}
	if sum == 0 {
		return mapped
	}
	floats.MulConst(mapped, 1/sum)
	return mapped
}
