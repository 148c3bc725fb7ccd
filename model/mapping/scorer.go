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
	"github.com/gorse-io/latent/common/floats"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model/mf"
)

// Scorer scores pairs with trained factors when both sides have them. Otherwise the
// entity on the mapped side takes its factors from a mapper and contributes no bias.
type Scorer struct {
	Factors *mf.FactorModel
	Side    dataset.Side
	Mapper  Mapper
}

func NewScorer(factors *mf.FactorModel, side dataset.Side, mapper Mapper) *Scorer {
	return &Scorer{Factors: factors, Side: side, Mapper: mapper}
}

// CanPredict is true if the other side of the pair is trained.
func (s *Scorer) CanPredict(userIndex, itemIndex int32) bool {
	if s.Factors.CanPredict(userIndex, itemIndex) {
		return true
	}
	if s.Side == dataset.UserSide {
		return userIndex >= 0 && s.Factors.IsItemPredictable(itemIndex)
	}
	return itemIndex >= 0 && s.Factors.IsUserPredictable(userIndex)
}

// Score returns the global bias if the pair cannot be predicted.
func (s *Scorer) Score(userIndex, itemIndex int32) float32 {
	switch {
	case s.Factors.CanPredict(userIndex, itemIndex):
		return s.Factors.InternalPredict(userIndex, itemIndex)
	case !s.CanPredict(userIndex, itemIndex):
		return s.Factors.GlobalBias
	case s.Side == dataset.UserSide:
		return s.Factors.GlobalBias + s.Factors.ItemBias[itemIndex] +
			floats.Dot(s.Mapper.MapToFactors(userIndex), s.Factors.ItemFactor[itemIndex])
	default:
		return s.Factors.GlobalBias + s.Factors.UserBias[userIndex] +
			floats.Dot(s.Factors.UserFactor[userIndex], s.Mapper.MapToFactors(itemIndex))
	}
}
