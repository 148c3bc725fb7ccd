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

package correlation

import (
	"context"
	"math"

	"github.com/gorse-io/latent/common/heap"
	"github.com/gorse-io/latent/common/parallel"
	"github.com/gorse-io/latent/dataset"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/stat"
)

// Matrix is a symmetric similarity matrix over entities with a unit diagonal. Only
// the strictly lower triangle is stored. It is read-only once built.
type Matrix struct {
	n      int
	values []float32
}

// NewMatrix creates a matrix of n entities with zero off-diagonal similarities.
func NewMatrix(n int) *Matrix {
	return &Matrix{
		n:      n,
		values: make([]float32, n*(n-1)/2),
	}
}

func (m *Matrix) NumEntities() int {
	return m.n
}

func offset(i, j int32) int {
	if i < j {
		i, j = j, i
	}
	return int(i)*(int(i)-1)/2 + int(j)
}

// Get returns the similarity between i and j. Unknown entities have zero similarity.
func (m *Matrix) Get(i, j int32) float32 {
	if i < 0 || j < 0 || int(i) >= m.n || int(j) >= m.n {
		return 0
	}
	if i == j {
		return 1
	}
	return m.values[offset(i, j)]
}

func (m *Matrix) set(i, j int32, value float32) {
	if i != j {
		m.values[offset(i, j)] = value
	}
}

// Neighbors returns at most k other entities positively correlated with i, in
// decreasing order of similarity. Entities rejected by accept are skipped; a nil
// accept keeps every entity.
func (m *Matrix) Neighbors(i int32, k int, accept func(int32) bool) []heap.Elem[int32, float32] {
	filter := heap.NewTopKFilter[int32, float32](k)
	for j := int32(0); int(j) < m.n; j++ {
		if j == i {
			continue
		}
		if accept != nil && !accept(j) {
			continue
		}
		if sim := m.Get(i, j); sim > 0 {
			filter.Push(j, sim)
		}
	}
	return filter.PopAll()
}

// NewCosine builds cosine similarities between attribute sets:
//
//	sim(a, b) = |A ∩ B| / sqrt(|A| |B|)
//
// Entities without attributes have zero similarity with every other entity.
func NewCosine(ctx context.Context, attributes *dataset.Attributes, numEntities, jobs int) (*Matrix, error) {
	m := NewMatrix(numEntities)
	// attribute -> entities
	inverted := make([][]int32, attributes.NumAttributes())
	for i := int32(0); int(i) < numEntities; i++ {
		for _, a := range attributes.AttributesOf(i) {
			inverted[a] = append(inverted[a], i)
		}
	}
	counts := make([][]int32, max(jobs, 1))
	for w := range counts {
		counts[w] = make([]int32, numEntities)
	}
	err := parallel.Parallel(ctx, numEntities, jobs, func(workerId, jobId int) error {
		i := int32(jobId)
		attrs := attributes.AttributesOf(i)
		if len(attrs) == 0 {
			return nil
		}
		count := counts[workerId]
		var touched []int32
		for _, a := range attrs {
			for _, j := range inverted[a] {
				if j >= i {
					break
				}
				if count[j] == 0 {
					touched = append(touched, j)
				}
				count[j]++
			}
		}
		for _, j := range touched {
			denominator := math.Sqrt(float64(len(attrs)) * float64(len(attributes.AttributesOf(j))))
			m.set(i, j, float32(float64(count[j])/denominator))
			count[j] = 0
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// NewPearson builds shrunk Pearson correlations between users or items over their
// co-rated counterparts:
//
//	sim(a, b) = pearson(a, b) * (n - 1) / (n - 1 + shrinkage)
//
// where n is the number of co-ratings. Pairs with fewer than two co-ratings or a zero
// variance have zero similarity.
func NewPearson(ctx context.Context, trainSet *dataset.Dataset, side dataset.Side, shrinkage float32, jobs int) (*Matrix, error) {
	numEntities := trainSet.CountEntities(side)
	m := NewMatrix(numEntities)
	// entity -> counterpart -> rating
	ratings := make([]map[int32]float64, numEntities)
	for i := range ratings {
		ratings[i] = make(map[int32]float64)
	}
	for index := 0; index < trainSet.Count(); index++ {
		x := trainSet.Get(index)
		if side == dataset.UserSide {
			ratings[x.User][x.Item] = float64(x.Rating)
		} else {
			ratings[x.Item][x.User] = float64(x.Rating)
		}
	}
	feedback := trainSet.GetEntityFeedback(side)
	reverse := trainSet.GetEntityFeedback(opposite(side))
	err := parallel.Parallel(ctx, numEntities, jobs, func(_, jobId int) error {
		i := int32(jobId)
		candidates := make(map[int32]struct{})
		for _, o := range feedback[i] {
			for _, j := range reverse[o] {
				if j < i {
					candidates[j] = struct{}{}
				}
			}
		}
		var x, y []float64
		for j := range candidates {
			x, y = x[:0], y[:0]
			for o, a := range ratings[i] {
				if b, ok := ratings[j][o]; ok {
					x = append(x, a)
					y = append(y, b)
				}
			}
			n := len(x)
			if n < 2 {
				continue
			}
			pearson := stat.Correlation(x, y, nil)
			if math.IsNaN(pearson) || math.IsInf(pearson, 0) {
				continue
			}
			shrunk := pearson * float64(n-1) / (float64(n-1) + float64(shrinkage))
			m.set(i, j, float32(shrunk))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

func opposite(side dataset.Side) dataset.Side {
	if side == dataset.UserSide {
		return dataset.ItemSide
	}
	return dataset.UserSide
}
