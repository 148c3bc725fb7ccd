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
	"testing"

	"github.com/gorse-io/latent/common/heap"
	"github.com/gorse-io/latent/dataset"
	"github.com/stretchr/testify/assert"
)

func TestMatrix(t *testing.T) {
	m := NewMatrix(4)
	assert.Equal(t, 4, m.NumEntities())
	m.set(2, 1, 0.5)
	m.set(0, 3, 0.25)
	m.set(1, 1, 0.1)
	assert.Equal(t, float32(0.5), m.Get(1, 2))
	assert.Equal(t, float32(0.5), m.Get(2, 1))
	assert.Equal(t, float32(0.25), m.Get(3, 0))
	assert.Equal(t, float32(1), m.Get(1, 1))
	assert.Zero(t, m.Get(0, 1))
	assert.Zero(t, m.Get(-1, 1))
	assert.Zero(t, m.Get(0, 4))
	assert.Zero(t, NewMatrix(0).NumEntities())
}

func TestNewCosine(t *testing.T) {
	attributes := dataset.NewAttributes()
	attributes.Add(0, 0)
	attributes.Add(0, 1)
	attributes.Add(1, 1)
	attributes.Add(3, 0)
	attributes.Add(3, 1)
	attributes.Add(4, 2)
	for _, jobs := range []int{1, 2} {
		m, err := NewCosine(context.Background(), attributes, 6, jobs)
		assert.NoError(t, err)
		assert.InDelta(t, 0.70710678, m.Get(0, 1), 1e-6)
		assert.InDelta(t, 1, m.Get(0, 3), 1e-6)
		assert.InDelta(t, 0.70710678, m.Get(3, 1), 1e-6)
		// entity 2 has no attributes and entity 5 is beyond the attribute table
		assert.Zero(t, m.Get(0, 2))
		assert.Zero(t, m.Get(2, 5))
		assert.Zero(t, m.Get(4, 0))
		assert.Equal(t, float32(1), m.Get(2, 2))
	}
}

func TestMatrix_Neighbors(t *testing.T) {
	attributes := dataset.NewAttributes()
	attributes.Add(0, 0)
	attributes.Add(0, 1)
	attributes.Add(1, 1)
	attributes.Add(3, 0)
	attributes.Add(3, 1)
	m, err := NewCosine(context.Background(), attributes, 4, 1)
	assert.NoError(t, err)
	neighbors := m.Neighbors(0, 2, nil)
	assert.Len(t, neighbors, 2)
	assert.Equal(t, int32(3), neighbors[0].Value)
	assert.Equal(t, int32(1), neighbors[1].Value)
	// only positive similarities are neighbors
	assert.Len(t, m.Neighbors(0, 10, nil), 2)
	assert.Empty(t, m.Neighbors(2, 10, nil))
	// filtered neighbors
	neighbors = m.Neighbors(0, 2, func(j int32) bool { return j != 3 })
	assert.Equal(t, []heap.Elem[int32, float32]{{Value: 1, Weight: m.Get(0, 1)}}, neighbors)
}

func TestNewPearson(t *testing.T) {
	trainSet := dataset.NewDataset(0, 0)
	add := func(user, item int32, rating float32) {
		trainSet.AddInteraction(dataset.Interaction{User: user, Item: item, Rating: rating})
	}
	for u, r := range []float32{1, 2, 3} {
		add(int32(u), 0, r)
		add(int32(u), 1, 2*r)
		add(int32(u), 2, 4-r)
		add(int32(u), 3, 5)
	}
	// item 4 shares a single user with the others
	add(0, 4, 3)
	m, err := NewPearson(context.Background(), trainSet, dataset.ItemSide, 0, 2)
	assert.NoError(t, err)
	assert.InDelta(t, 1, m.Get(0, 1), 1e-6)
	assert.InDelta(t, -1, m.Get(0, 2), 1e-6)
	assert.InDelta(t, -1, m.Get(1, 2), 1e-6)
	// zero variance
	assert.Zero(t, m.Get(0, 3))
	// fewer than two co-ratings
	assert.Zero(t, m.Get(0, 4))

	shrunk, err := NewPearson(context.Background(), trainSet, dataset.ItemSide, 2, 1)
	assert.NoError(t, err)
	assert.InDelta(t, 0.5, shrunk.Get(0, 1), 1e-6)

	users, err := NewPearson(context.Background(), trainSet, dataset.UserSide, 0, 1)
	assert.NoError(t, err)
	assert.Equal(t, 3, users.NumEntities())
	// users 0 and 1 rated items 0-3 with ratings (1,2,3,5) and (2,4,2,5)
	assert.Greater(t, users.Get(0, 1), float32(0))
}

func TestNewCosine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attributes := dataset.NewAttributes()
	attributes.Add(0, 0)
	attributes.Add(1, 0)
	_, err := NewCosine(ctx, attributes, 2, 1)
	assert.Error(t, err)
}
