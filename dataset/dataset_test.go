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
	"strings"
	"testing"
	"time"

	"github.com/gorse-io/latent/base"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestDict(t *testing.T) {
	d := NewDict()
	assert.Equal(t, int32(0), d.Id("a"))
	assert.Equal(t, int32(1), d.Register("b"))
	assert.Equal(t, int32(0), d.Id("a"))
	assert.Equal(t, 2, d.Count())
	assert.Equal(t, 2, d.Freq(0))
	assert.Equal(t, 0, d.Freq(1))
	assert.Equal(t, 0, d.Freq(5))
	name, ok := d.String(1)
	assert.True(t, ok)
	assert.Equal(t, "b", name)
	_, ok = d.String(2)
	assert.False(t, ok)
	index, ok := d.Lookup("b")
	assert.True(t, ok)
	assert.Equal(t, int32(1), index)
	// append keeps the first mapping
	assert.Equal(t, int32(2), d.Append("a"))
	index, _ = d.Lookup("a")
	assert.Equal(t, int32(0), index)
}

func TestDataset_AddInteraction(t *testing.T) {
	d := NewDataset(0, 0)
	d.AddInteraction(Interaction{User: 2, Item: 3, Rating: 4})
	d.AddInteraction(Interaction{User: 0, Item: 3, Rating: 2})
	d.AddInteraction(Interaction{User: 2, Item: 1, Rating: 3})
	assert.Equal(t, 3, d.CountUsers())
	assert.Equal(t, 4, d.CountItems())
	assert.Equal(t, 3, d.Count())
	assert.ElementsMatch(t, []int32{3, 1}, d.PositiveItems(2).ToSlice())
	assert.ElementsMatch(t, []int32{2, 0}, d.PositiveUsers(3).ToSlice())
	assert.Zero(t, d.PositiveItems(1).Cardinality())
	assert.Zero(t, d.PositiveItems(100).Cardinality())
	assert.True(t, d.IsPositive(0, 3))
	assert.False(t, d.IsPositive(0, 1))
	assert.Equal(t, Interaction{User: 0, Item: 3, Rating: 2}, d.Get(1))
	assert.Equal(t, float32(3), d.GlobalMean())
	assert.Equal(t, [][]int32{{3}, nil, {3, 1}}, d.GetUserFeedback())
	assert.Equal(t, 2, d.GetItemDict().Freq(3))
}

func TestDataset_AddFeedback(t *testing.T) {
	d := NewDataset(0, 0)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.AddFeedback("alice", "apple", 5, ts)
	d.AddFeedback("bob", "apple", 3, ts.Add(time.Hour))
	assert.Equal(t, int32(1), d.AddItem("banana"))
	assert.Equal(t, int32(0), d.AddItem("apple"))
	assert.Equal(t, 2, d.CountUsers())
	assert.Equal(t, 2, d.CountItems())
	assert.Len(t, d.GetItemFeedback(), 2)
	assert.Equal(t, ts.Add(time.Hour), d.MaxTimestamp())
	assert.Zero(t, NewDataset(0, 0).GlobalMean())
}

func TestReplay(t *testing.T) {
	d := NewDataset(0, 0)
	for i := 0; i < 10; i++ {
		d.AddInteraction(Interaction{User: int32(i % 3), Item: int32(i)})
	}
	r := d.ShuffledReplay(base.NewRandomGenerator(0))
	var items []int32
	for {
		_, x, ok := r.Next()
		if !ok {
			break
		}
		items = append(items, x.Item)
	}
	assert.ElementsMatch(t, lo.Range(10), lo.Map(items, func(i int32, _ int) int { return int(i) }))
	// cycle restarts
	x, ok := r.Cycle()
	assert.True(t, ok)
	assert.Contains(t, items, x.Item)
	// empty log
	_, ok = NewDataset(1, 1).ShuffledReplay(base.NewRandomGenerator(0)).Cycle()
	assert.False(t, ok)
}

func TestAttributes(t *testing.T) {
	a := NewAttributes()
	a.Add(2, 1)
	a.Add(2, 0)
	a.Add(2, 1)
	a.Add(0, 1)
	assert.Equal(t, 3, a.NumEntities())
	assert.Equal(t, 2, a.NumAttributes())
	assert.Equal(t, []int32{0, 1}, a.AttributesOf(2))
	assert.Empty(t, a.AttributesOf(1))
	assert.Empty(t, a.AttributesOf(10))
	assert.True(t, a.AttributeSet(0).Contains(1))
	assert.Equal(t, 2, a.Frequency(1))
	assert.Equal(t, 1, a.Frequency(0))
	assert.Equal(t, int32(2), a.AddNamed(1, "comedy"))
	assert.Equal(t, int32(2), a.AddNamed(0, "comedy"))
	assert.Equal(t, 3, a.NumAttributes())
}

func TestLoadInteractions(t *testing.T) {
	d, err := LoadInteractions(strings.NewReader("# user item rating timestamp\n" +
		"u1\ti1\t4\t1700000000\n" +
		"u2\ti1\n" +
		"\n" +
		"u1\ti2\t2.5\n"))
	assert.NoError(t, err)
	assert.Equal(t, 2, d.CountUsers())
	assert.Equal(t, 2, d.CountItems())
	assert.Equal(t, 3, d.Count())
	assert.Equal(t, float32(1), d.Get(1).Rating)
	assert.Equal(t, float32(2.5), d.Get(2).Rating)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), d.Get(0).Timestamp)

	d, err = LoadInteractions(strings.NewReader("u1\ti1\t1\t2024-01-02T03:04:05Z\n" +
		"u1\ti2\t1\t2024-01-02 03:04:05\n" +
		"u1\ti3\t1\t2024-01-02T05:04:05+02:00\n"))
	assert.NoError(t, err)
	expected := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < d.Count(); i++ {
		assert.True(t, expected.Equal(d.Get(i).Timestamp), d.Get(i).Timestamp)
	}
	_, err = LoadInteractions(strings.NewReader("u1\ti1\t1\tyesterday\n"))
	assert.Error(t, err)
	_, err = LoadInteractions(strings.NewReader("u1\n"))
	assert.Error(t, err)
	_, err = LoadInteractions(strings.NewReader("u1\ti1\tbad\n"))
	assert.Error(t, err)
	_, err = LoadInteractionsFromFile("/path/does/not/exist")
	assert.Error(t, err)
}

func TestLoadAttributes(t *testing.T) {
	d, err := LoadInteractions(strings.NewReader("u1\ti1\nu1\ti2\n"))
	assert.NoError(t, err)
	a, err := LoadAttributes(strings.NewReader("i1\tdrama\tcomedy\ni3\tdrama\n"), d.AddItem)
	assert.NoError(t, err)
	// i3 is a cold item known only by its attributes
	assert.Equal(t, 3, d.CountItems())
	assert.Equal(t, 2, a.NumAttributes())
	assert.Equal(t, []int32{0, 1}, a.AttributesOf(0))
	assert.Empty(t, a.AttributesOf(1))
	assert.Equal(t, []int32{0}, a.AttributesOf(2))
	_, err = LoadAttributes(strings.NewReader("i1\n"), d.AddItem)
	assert.Error(t, err)
}

func TestSide_UnmarshalText(t *testing.T) {
	var side Side
	assert.NoError(t, side.UnmarshalText([]byte(" User ")))
	assert.Equal(t, UserSide, side)
	assert.NoError(t, side.UnmarshalText([]byte("item")))
	assert.Equal(t, ItemSide, side)
	assert.Error(t, side.UnmarshalText([]byte("tag")))
}
