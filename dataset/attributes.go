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

package dataset

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Attributes is a sparse mapping from entity index to a set of attribute indices.
type Attributes struct {
	names  *Dict
	sets   []mapset.Set[int32]
	sorted [][]int32
}

func NewAttributes() *Attributes {
	return &Attributes{names: NewDict()}
}

// NumEntities returns one past the largest entity index with an attribute.
func (a *Attributes) NumEntities() int {
	return len(a.sets)
}

// NumAttributes returns the number of distinct attributes.
func (a *Attributes) NumAttributes() int {
	return a.names.Count()
}

// Add attaches the attribute to the entity. Duplicates are ignored.
func (a *Attributes) Add(entity, attribute int32) {
	for len(a.sets) <= int(entity) {
		a.sets = append(a.sets, mapset.NewSet[int32]())
		a.sorted = append(a.sorted, nil)
	}
	for a.names.Count() <= int(attribute) {
		a.names.Append(itoa(a.names.Count()))
	}
	if a.sets[entity].Add(attribute) {
		a.names.Inc(attribute)
		pos, _ := slices.BinarySearch(a.sorted[entity], attribute)
		a.sorted[entity] = slices.Insert(a.sorted[entity], pos, attribute)
	}
}

// AddNamed attaches a named attribute to the entity and returns the attribute index.
func (a *Attributes) AddNamed(entity int32, name string) int32 {
	attribute := a.names.Register(name)
	a.Add(entity, attribute)
	return attribute
}

// AttributesOf returns the attributes of the entity in increasing order. The slice must
// not be modified. Entities without attributes get an empty slice.
func (a *Attributes) AttributesOf(entity int32) []int32 {
	if entity < 0 || int(entity) >= len(a.sorted) {
		return nil
	}
	return a.sorted[entity]
}

// AttributeSet returns the attributes of the entity as a set.
func (a *Attributes) AttributeSet(entity int32) mapset.Set[int32] {
	if entity < 0 || int(entity) >= len(a.sets) {
		return mapset.NewSet[int32]()
	}
	return a.sets[entity]
}

// Frequency returns the number of entities carrying the attribute.
func (a *Attributes) Frequency(attribute int32) int {
	return a.names.Freq(attribute)
}
