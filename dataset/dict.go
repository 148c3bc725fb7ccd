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

// Dict maps external identifiers to dense indices and counts how often each
// identifier occurs in feedback.
type Dict struct {
	si  map[string]int32
	is  []string
	cnt []int
}

func NewDict() *Dict {
	return &Dict{si: map[string]int32{}}
}

func (d *Dict) Count() int {
	return len(d.is)
}

// Id returns the index of s and increases its frequency. Unknown identifiers are appended.
func (d *Dict) Id(s string) int32 {
	y := d.Register(s)
	d.Inc(y)
	return y
}

// Inc increases the frequency of an index.
func (d *Dict) Inc(id int32) {
	d.cnt[id]++
}

// Register returns the index of s without counting it.
func (d *Dict) Register(s string) int32 {
	if y, ok := d.si[s]; ok {
		return y
	}
	return d.Append(s)
}

// Append adds a new index named s even if s is already registered. Lookups by name keep
// resolving to the first index.
func (d *Dict) Append(s string) int32 {
	y := int32(len(d.is))
	if _, ok := d.si[s]; !ok {
		d.si[s] = y
	}
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 0)
	return y
}

// Lookup returns the index of s if it has been registered.
func (d *Dict) Lookup(s string) (int32, bool) {
	y, ok := d.si[s]
	return y, ok
}

func (d *Dict) String(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

func (d *Dict) Freq(id int32) int {
	if id < 0 || int(id) >= len(d.cnt) {
		return 0
	}
	return d.cnt[id]
}
