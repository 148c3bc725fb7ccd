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
	"io"

	"github.com/chewxy/math32"
	"github.com/gorse-io/latent/base/encoding"
	"github.com/gorse-io/latent/dataset"
	"github.com/gorse-io/latent/model"
	"github.com/gorse-io/latent/model/mf"
	"github.com/juju/errors"
)

const (
	NameOptimal = "optimal"
	NameComplex = "complex"
	NameKNN     = "knn"
	NameSVR     = "svr"
)

// Mapper maps an entity to a vector in the latent space of a factor model.
type Mapper interface {
	MapToFactors(entity int32) []float32
}

// Trainable is a mapper that learns from a trained factor model. Fit returns a cached
// mapper that must be used once training is done.
type Trainable interface {
	Mapper
	model.Model
	Fit(ctx context.Context, trainSet *dataset.Dataset, factors *mf.FactorModel, attributes *dataset.Attributes) (*Cached, error)
}

// NewMapper creates a mapper by name.
func NewMapper(name string, side dataset.Side, params model.Params) (Trainable, error) {
	if side != dataset.UserSide && side != dataset.ItemSide {
		return nil, errors.NotValidf("side %q", side)
	}
	switch name {
	case NameOptimal, "":
		return NewOptimal(side, params), nil
	case NameComplex:
		return NewComplex(side, params), nil
	case NameKNN:
		return NewKNN(side, params), nil
	case NameSVR:
		return NewSVR(side, params), nil
	}
	return nil, errors.NotValidf("mapper %q", name)
}

// BaseMapper holds what every mapper needs from training.
type BaseMapper struct {
	model.BaseModel
	Side       dataset.Side
	Factors    *mf.FactorModel
	Attributes *dataset.Attributes
}

func (b *BaseMapper) bind(factors *mf.FactorModel, attributes *dataset.Attributes) {
	b.ResetRandomGenerator()
	b.Factors = factors
	b.Attributes = attributes
}

func (b *BaseMapper) Clear() {
	b.Factors = nil
	b.Attributes = nil
}

// K returns the dimension of mapped vectors.
func (b *BaseMapper) K() int {
	return b.Factors.K
}

func (b *BaseMapper) numEntities() int {
	return NumEntities(b.Factors, b.Side)
}

// numMapped covers entities known to the factor model or to the attribute set.
func (b *BaseMapper) numMapped() int {
	n := b.numEntities()
	if b.Attributes != nil {
		n = max(n, b.Attributes.NumEntities())
	}
	return n
}

// NumEntities returns the number of users or items in the factor model.
func NumEntities(factors *mf.FactorModel, side dataset.Side) int {
	if side == dataset.UserSide {
		return factors.NumUsers()
	}
	return factors.NumItems()
}

// TrainedFactors returns the factors of an entity and whether they were trained.
func TrainedFactors(factors *mf.FactorModel, side dataset.Side, entity int32) ([]float32, bool) {
	if side == dataset.UserSide {
		if !factors.IsUserPredictable(entity) {
			return nil, false
		}
		return factors.UserFactor[entity], true
	}
	if !factors.IsItemPredictable(entity) {
		return nil, false
	}
	return factors.ItemFactor[entity], true
}

func factorsOf(factors *mf.FactorModel, side dataset.Side) [][]float32 {
	if side == dataset.UserSide {
		return factors.UserFactor
	}
	return factors.ItemFactor
}

// checkFactors verifies that the factor model covers every entity of the train set.
// Grown rows beyond the train set are allowed.
func checkFactors(trainSet *dataset.Dataset, factors *mf.FactorModel) error {
	if factors == nil || factors.K <= 0 {
		return errors.Trace(mf.ErrNotInitialized)
	}
	if factors.NumUsers() < trainSet.CountUsers() {
		return &mf.DimensionMismatchError{Field: "users", Expected: trainSet.CountUsers(), Actual: factors.NumUsers()}
	}
	if factors.NumItems() < trainSet.CountItems() {
		return &mf.DimensionMismatchError{Field: "items", Expected: trainSet.CountItems(), Actual: factors.NumItems()}
	}
	return nil
}

// trainedEntities returns the entities with trained factors.
func trainedEntities(factors *mf.FactorModel, side dataset.Side) []int32 {
	entities := make([]int32, 0)
	for entity := int32(0); int(entity) < NumEntities(factors, side); entity++ {
		if _, ok := TrainedFactors(factors, side, entity); ok {
			entities = append(entities, entity)
		}
	}
	return entities
}

// ComputeFit returns the RMSE between mapped and trained factors over entities with
// trained factors.
func ComputeFit(mapper Mapper, factors *mf.FactorModel, side dataset.Side) float32 {
	sum, count := float32(0), 0
	for _, entity := range trainedEntities(factors, side) {
		trained, _ := TrainedFactors(factors, side, entity)
		mapped := mapper.MapToFactors(entity)
		for f := range trained {
			diff := trained[f] - mapped[f]
			sum += diff * diff
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math32.Sqrt(sum / float32(count))
}

// Cached serves precomputed vectors of a trained mapper. Entities beyond the cache
// fall back to the mapper, which must not be trained again.
type Cached struct {
	mapper  Mapper
	k       int
	vectors [][]float32
}

// NewCached maps every entity below numEntities once.
func NewCached(mapper Mapper, k, numEntities int) *Cached {
	c := &Cached{mapper: mapper, k: k, vectors: make([][]float32, numEntities)}
	for entity := range c.vectors {
		c.vectors[entity] = mapper.MapToFactors(int32(entity))
	}
	return c
}

// MapToFactors returns the cached vector. The slice must not be modified.
func (c *Cached) MapToFactors(entity int32) []float32 {
	if entity >= 0 && int(entity) < len(c.vectors) {
		return c.vectors[entity]
	}
	if c.mapper != nil {
		return c.mapper.MapToFactors(entity)
	}
	return make([]float32, c.k)
}

func (c *Cached) NumEntities() int {
	return len(c.vectors)
}

// Marshal writes the cached vectors.
func (c *Cached) Marshal(w io.Writer) error {
	if err := encoding.WriteInt64(w, int64(len(c.vectors))); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteInt64(w, int64(c.k)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteMatrix(w, c.vectors))
}

// Unmarshal reads vectors written by Marshal. Entities beyond them map to zero vectors.
func (c *Cached) Unmarshal(r io.Reader) error {
	n, err := encoding.ReadInt64(r)
	if err != nil {
		return errors.Trace(err)
	}
	k, err := encoding.ReadInt64(r)
	if err != nil {
		return errors.Trace(err)
	}
	if n < 0 || k <= 0 || k > encoding.MaxColumns {
		return errors.NotValidf("cached mapping of %d entities and %d factors", n, k)
	}
	vectors, err := encoding.ReadMatrix(r, n, k)
	if err != nil {
		return errors.Trace(err)
	}
	c.mapper = nil
	c.k = int(k)
	c.vectors = vectors
	return nil
}
