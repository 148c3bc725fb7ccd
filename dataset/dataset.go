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
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/latent/base"
	"github.com/juju/errors"
)

// Interaction is a single piece of feedback. It is never modified after being recorded.
type Interaction struct {
	User      int32
	Item      int32
	Rating    float32
	Timestamp time.Time
}

// Dataset stores the interaction log and the per-user and per-item positive sets derived
// from it. Users and items are indexed densely from zero.
type Dataset struct {
	userDict     *Dict
	itemDict     *Dict
	interactions []Interaction
	userFeedback [][]int32
	itemFeedback [][]int32
	userPositive []mapset.Set[int32]
	itemPositive []mapset.Set[int32]
	ratingSum    float64
}

func NewDataset(userCount, itemCount int) *Dataset {
	d := &Dataset{
		userDict: NewDict(),
		itemDict: NewDict(),
	}
	for i := 0; i < userCount; i++ {
		d.AddUser(strconv.Itoa(i))
	}
	for i := 0; i < itemCount; i++ {
		d.AddItem(strconv.Itoa(i))
	}
	return d
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

// Count returns the number of recorded interactions.
func (d *Dataset) Count() int {
	return len(d.interactions)
}

func (d *Dataset) GetUserDict() *Dict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *Dict {
	return d.itemDict
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// AddUser registers a user and returns its index. Registering a known user is a no-op.
func (d *Dataset) AddUser(userId string) int32 {
	index := d.userDict.Register(userId)
	d.growUsers()
	return index
}

// AddItem registers an item and returns its index. Registering a known item is a no-op.
func (d *Dataset) AddItem(itemId string) int32 {
	index := d.itemDict.Register(itemId)
	d.growItems()
	return index
}

func (d *Dataset) growUsers() {
	for len(d.userFeedback) < d.userDict.Count() {
		d.userFeedback = append(d.userFeedback, nil)
		d.userPositive = append(d.userPositive, mapset.NewSet[int32]())
	}
}

func (d *Dataset) growItems() {
	for len(d.itemFeedback) < d.itemDict.Count() {
		d.itemFeedback = append(d.itemFeedback, nil)
		d.itemPositive = append(d.itemPositive, mapset.NewSet[int32]())
	}
}

// AddFeedback records feedback between external identifiers.
func (d *Dataset) AddFeedback(userId, itemId string, rating float32, timestamp time.Time) {
	userIndex := d.userDict.Id(userId)
	itemIndex := d.itemDict.Id(itemId)
	d.growUsers()
	d.growItems()
	d.record(Interaction{User: userIndex, Item: itemIndex, Rating: rating, Timestamp: timestamp})
}

// AddInteraction records feedback between dense indices. Missing users and items up to
// the given indices are registered under their decimal names.
func (d *Dataset) AddInteraction(x Interaction) {
	for i := d.CountUsers(); i <= int(x.User); i++ {
		d.AddUser(strconv.Itoa(i))
	}
	for i := d.CountItems(); i <= int(x.Item); i++ {
		d.AddItem(strconv.Itoa(i))
	}
	d.userDict.Inc(x.User)
	d.itemDict.Inc(x.Item)
	d.record(x)
}

func (d *Dataset) record(x Interaction) {
	d.interactions = append(d.interactions, x)
	d.userFeedback[x.User] = append(d.userFeedback[x.User], x.Item)
	d.itemFeedback[x.Item] = append(d.itemFeedback[x.Item], x.User)
	d.userPositive[x.User].Add(x.Item)
	d.itemPositive[x.Item].Add(x.User)
	d.ratingSum += float64(x.Rating)
}

// Get returns the interaction at index in the log.
func (d *Dataset) Get(index int) Interaction {
	return d.interactions[index]
}

// PositiveItems returns the set of items the user has feedback for. The set must not be
// modified by the caller. Unknown users have no positive items.
func (d *Dataset) PositiveItems(userIndex int32) mapset.Set[int32] {
	if userIndex < 0 || int(userIndex) >= len(d.userPositive) {
		return mapset.NewSet[int32]()
	}
	return d.userPositive[userIndex]
}

// PositiveUsers returns the set of users with feedback for the item.
func (d *Dataset) PositiveUsers(itemIndex int32) mapset.Set[int32] {
	if itemIndex < 0 || int(itemIndex) >= len(d.itemPositive) {
		return mapset.NewSet[int32]()
	}
	return d.itemPositive[itemIndex]
}

// IsPositive reports whether the user has feedback for the item.
func (d *Dataset) IsPositive(userIndex, itemIndex int32) bool {
	return d.PositiveItems(userIndex).Contains(itemIndex)
}

// GlobalMean returns the mean rating over the log, or zero if the log is empty.
func (d *Dataset) GlobalMean() float32 {
	if len(d.interactions) == 0 {
		return 0
	}
	return float32(d.ratingSum / float64(len(d.interactions)))
}

// MaxTimestamp returns the latest timestamp in the log.
func (d *Dataset) MaxTimestamp() time.Time {
	var ts time.Time
	for _, x := range d.interactions {
		if x.Timestamp.After(ts) {
			ts = x.Timestamp
		}
	}
	return ts
}

// ShuffledReplay returns a replay over the log in a random order drawn from rng.
func (d *Dataset) ShuffledReplay(rng base.RandomGenerator) *Replay {
	r := &Replay{dataset: d, rng: rng}
	r.Restart()
	return r
}

// Replay walks the interaction log once in a random order. Restart reshuffles it for the
// next epoch.
type Replay struct {
	dataset *Dataset
	rng     base.RandomGenerator
	order   []int32
	cursor  int
}

// Restart begins a new pass with a fresh permutation. Interactions recorded since the
// previous pass are included.
func (r *Replay) Restart() {
	r.order = r.rng.PermInt32(r.dataset.Count())
	r.cursor = 0
}

// Next returns the next interaction of the current pass. It returns false once the pass
// is exhausted.
func (r *Replay) Next() (int, Interaction, bool) {
	if r.cursor >= len(r.order) {
		return 0, Interaction{}, false
	}
	index := int(r.order[r.cursor])
	r.cursor++
	return index, r.dataset.interactions[index], true
}

// Cycle returns the next interaction and restarts the replay when a pass ends. It
// returns false only if the log is empty.
func (r *Replay) Cycle() (Interaction, bool) {
	if _, x, ok := r.Next(); ok {
		return x, true
	}
	r.Restart()
	_, x, ok := r.Next()
	return x, ok
}

// Side selects users or items.
type Side string

const (
	UserSide Side = "user"
	ItemSide Side = "item"
)

// UnmarshalText accepts "user" or "item" in any case.
func (s *Side) UnmarshalText(text []byte) error {
	switch side := Side(strings.ToLower(strings.TrimSpace(string(text)))); side {
	case UserSide, ItemSide:
		*s = side
		return nil
	}
	return errors.NotValidf("side %q", string(text))
}

// CountEntities returns the number of users or items.
func (d *Dataset) CountEntities(side Side) int {
	if side == UserSide {
		return d.CountUsers()
	}
	return d.CountItems()
}

// GetEntityFeedback returns per-user items or per-item users.
func (d *Dataset) GetEntityFeedback(side Side) [][]int32 {
	if side == UserSide {
		return d.userFeedback
	}
	return d.itemFeedback
}
