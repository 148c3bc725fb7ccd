// Copyright 2024 gorse Project Authors
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

package base

import (
	"testing"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/common/floats"
	"github.com/stretchr/testify/assert"
)

const randomEpsilon = 0.1

func TestRandomGenerator_MakeNormalMatrix(t *testing.T) {
	rng := NewRandomGenerator(0)
	vec := rng.NormalMatrix(1, 1000, 1, 2)[0]
	assert.False(t, math32.Abs(floats.Mean(vec)-1) > randomEpsilon)
	assert.False(t, math32.Abs(floats.StdDev(vec)-2) > randomEpsilon)
}

func TestRandomGenerator_Split(t *testing.T) {
	a := NewRandomGenerator(42).Split()
	b := NewRandomGenerator(42).Split()
	assert.Equal(t, a.Int63(), b.Int63())
}

func TestRandomGenerator_PermInt32(t *testing.T) {
	rng := NewRandomGenerator(0)
	perm := rng.PermInt32(100)
	seen := mapset.NewSet[int32](perm...)
	assert.Equal(t, 100, seen.Cardinality())
	for i := int32(0); i < 100; i++ {
		assert.True(t, seen.Contains(i))
	}
}
