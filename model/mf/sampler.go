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

package mf

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/latent/base"
	"github.com/gorse-io/latent/dataset"
	"github.com/juju/errors"
)

const (
	SamplerUniformUser   = "uniform_user"
	SamplerUniformPair   = "uniform_pair"
	SamplerFrequencyUser = "frequency_user"
	SamplerFrequencyPair = "frequency_pair"

	DefaultMaxAttempts = 1000
)

// Sampler draws training triples for pairwise learning.
type Sampler interface {
	// NextUser returns a user with at least one and fewer than all items.
	NextUser() (int32, error)
	// OtherItem draws an item whose positivity for the user differs from itemIndex.
	// The boolean reports whether itemIndex is the positive one.
	OtherItem(userIndex, itemIndex int32) (int32, bool, error)
	// NextTriple returns a user, a positive item and a negative item.
	NextTriple() (int32, int32, int32, error)
}

// NewSampler creates a sampler by name. Each sampler owns rng.
func NewSampler(name string, trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (Sampler, error) {
	switch name {
	case SamplerUniformUser, "":
		return NewUniformUserSampler(trainSet, rng, maxAttempts)
	case SamplerUniformPair:
		return NewUniformPairSampler(trainSet, rng, maxAttempts)
	case SamplerFrequencyUser:
		return NewFrequencyUserSampler(trainSet, rng, maxAttempts)
	case SamplerFrequencyPair:
		return NewFrequencyPairSampler(trainSet, rng, maxAttempts)
	}
	return nil, errors.NotValidf("sampler %q", name)
}

type baseSampler struct {
	name        string
	trainSet    *dataset.Dataset
	rng         base.RandomGenerator
	maxAttempts int
	numItems    int32
	eligible    []int32
	isEligible  *bitset.BitSet
}

func newBaseSampler(name string, trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (baseSampler, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	s := baseSampler{
		name:        name,
		trainSet:    trainSet,
		rng:         rng,
		maxAttempts: maxAttempts,
		numItems:    int32(trainSet.CountItems()),
		isEligible:  bitset.New(uint(trainSet.CountUsers())),
	}
	for userIndex := int32(0); int(userIndex) < trainSet.CountUsers(); userIndex++ {
		if IsEligibleUser(trainSet, userIndex) {
			s.eligible = append(s.eligible, userIndex)
			s.isEligible.Set(uint(userIndex))
		}
	}
	if len(s.eligible) == 0 {
		return s, errors.Trace(ErrNoEligibleUser)
	}
	return s, nil
}

// IsEligibleUser reports whether the user has at least one and fewer than all items.
func IsEligibleUser(trainSet *dataset.Dataset, userIndex int32) bool {
	n := trainSet.PositiveItems(userIndex).Cardinality()
	return n > 0 && n < trainSet.CountItems()
}

func (s *baseSampler) reject(n int) {
	if n > 0 {
		SamplerRejectionsTotalVec.WithLabelValues(s.name).Add(float64(n))
	}
}

// uniformUser draws uniformly over eligible users.
func (s *baseSampler) uniformUser() int32 {
	return s.eligible[s.rng.Intn(len(s.eligible))]
}

// pairUser draws an interaction uniformly and rejects it if its user is not eligible.
func (s *baseSampler) pairUser() (int32, int32, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		x := s.trainSet.Get(s.rng.Intn(s.trainSet.Count()))
		if s.isEligible.Test(uint(x.User)) {
			s.reject(attempt)
			return x.User, x.Item, nil
		}
	}
	s.reject(s.maxAttempts)
	return 0, 0, errors.Annotatef(ErrSamplingExhausted, "%s user", s.name)
}

// positiveOf draws one of the user's items, weighted by feedback count.
func (s *baseSampler) positiveOf(userIndex int32) int32 {
	feedback := s.trainSet.GetUserFeedback()[userIndex]
	return feedback[s.rng.Intn(len(feedback))]
}

// otherItem rejects candidates from propose until one differs from itemIndex in positivity.
func (s *baseSampler) otherItem(userIndex, itemIndex int32, propose func() (int32, bool)) (int32, bool, error) {
	positives := s.trainSet.PositiveItems(userIndex)
	itemIsPositive := positives.Contains(itemIndex)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidate, ok := propose()
		if !ok {
			break
		}
		if positives.Contains(candidate) != itemIsPositive {
			s.reject(attempt)
			return candidate, itemIsPositive, nil
		}
	}
	s.reject(s.maxAttempts)
	return 0, itemIsPositive, errors.Annotatef(ErrSamplingExhausted, "%s item for user %d", s.name, userIndex)
}

func (s *baseSampler) uniformItem() (int32, bool) {
	return s.rng.Int31n(s.numItems), true
}

// orient turns a (query item, other item) pair into (positive, negative).
func orient(itemIndex, otherIndex int32, itemIsPositive bool) (int32, int32) {
	if itemIsPositive {
		return itemIndex, otherIndex
	}
	return otherIndex, itemIndex
}

// UniformUserSampler gives every eligible user the same weight and proposes negative
// items uniformly over the item universe.
type UniformUserSampler struct {
	baseSampler
}

func NewUniformUserSampler(trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (*UniformUserSampler, error) {
	s, err := newBaseSampler(SamplerUniformUser, trainSet, rng, maxAttempts)
	if err != nil {
		return nil, err
	}
	return &UniformUserSampler{baseSampler: s}, nil
}

func (s *UniformUserSampler) NextUser() (int32, error) {
	return s.uniformUser(), nil
}

func (s *UniformUserSampler) OtherItem(userIndex, itemIndex int32) (int32, bool, error) {
	return s.otherItem(userIndex, itemIndex, s.uniformItem)
}

func (s *UniformUserSampler) NextTriple() (int32, int32, int32, error) {
	userIndex := s.uniformUser()
	itemIndex := s.positiveOf(userIndex)
	otherIndex, _, err := s.OtherItem(userIndex, itemIndex)
	if err != nil {
		return 0, 0, 0, err
	}
	return userIndex, itemIndex, otherIndex, nil
}

// UniformPairSampler draws (user, item) pairs uniformly over the interaction log, so
// active users are drawn more often. Negative items are proposed uniformly.
type UniformPairSampler struct {
	baseSampler
}

func NewUniformPairSampler(trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (*UniformPairSampler, error) {
	s, err := newBaseSampler(SamplerUniformPair, trainSet, rng, maxAttempts)
	if err != nil {
		return nil, err
	}
	return &UniformPairSampler{baseSampler: s}, nil
}

func (s *UniformPairSampler) NextUser() (int32, error) {
	userIndex, _, err := s.pairUser()
	return userIndex, err
}

func (s *UniformPairSampler) OtherItem(userIndex, itemIndex int32) (int32, bool, error) {
	return s.otherItem(userIndex, itemIndex, s.uniformItem)
}

func (s *UniformPairSampler) NextTriple() (int32, int32, int32, error) {
	userIndex, itemIndex, err := s.pairUser()
	if err != nil {
		return 0, 0, 0, err
	}
	otherIndex, _, err := s.OtherItem(userIndex, itemIndex)
	if err != nil {
		return 0, 0, 0, err
	}
	return userIndex, itemIndex, otherIndex, nil
}

// frequencyProposer proposes item i with probability proportional to count(i) + 1:
// a shuffled replay of the log is mixed with uniform draws over the item universe, so
// items without feedback can still be proposed.
type frequencyProposer struct {
	replay   *dataset.Replay
	rng      base.RandomGenerator
	count    int
	numItems int32
}

func newFrequencyProposer(trainSet *dataset.Dataset, rng base.RandomGenerator) frequencyProposer {
	return frequencyProposer{
		replay:   trainSet.ShuffledReplay(rng.Split()),
		rng:      rng,
		count:    trainSet.Count(),
		numItems: int32(trainSet.CountItems()),
	}
}

func (p frequencyProposer) next() (int32, bool) {
	if p.numItems == 0 {
		return 0, false
	}
	if p.rng.Intn(p.count+int(p.numItems)) < int(p.numItems) {
		return p.rng.Int31n(p.numItems), true
	}
	x, ok := p.replay.Cycle()
	if !ok {
		return p.rng.Int31n(p.numItems), true
	}
	return x.Item, true
}

// FrequencyUserSampler draws users like UniformUserSampler and proposes counter items
// in proportion to their popularity.
type FrequencyUserSampler struct {
	baseSampler
	proposer frequencyProposer
}

func NewFrequencyUserSampler(trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (*FrequencyUserSampler, error) {
	s, err := newBaseSampler(SamplerFrequencyUser, trainSet, rng, maxAttempts)
	if err != nil {
		return nil, err
	}
	return &FrequencyUserSampler{
		baseSampler: s,
		proposer:    newFrequencyProposer(trainSet, rng.Split()),
	}, nil
}

func (s *FrequencyUserSampler) NextUser() (int32, error) {
	return s.uniformUser(), nil
}

func (s *FrequencyUserSampler) OtherItem(userIndex, itemIndex int32) (int32, bool, error) {
	return s.otherItem(userIndex, itemIndex, s.proposer.next)
}

func (s *FrequencyUserSampler) NextTriple() (int32, int32, int32, error) {
	userIndex := s.uniformUser()
	itemIndex := s.positiveOf(userIndex)
	otherIndex, _, err := s.OtherItem(userIndex, itemIndex)
	if err != nil {
		return 0, 0, 0, err
	}
	return userIndex, itemIndex, otherIndex, nil
}

// FrequencyPairSampler draws pairs like UniformPairSampler and proposes counter items
// in proportion to their popularity.
type FrequencyPairSampler struct {
	baseSampler
	proposer frequencyProposer
}

func NewFrequencyPairSampler(trainSet *dataset.Dataset, rng base.RandomGenerator, maxAttempts int) (*FrequencyPairSampler, error) {
	s, err := newBaseSampler(SamplerFrequencyPair, trainSet, rng, maxAttempts)
	if err != nil {
		return nil, err
	}
	return &FrequencyPairSampler{
		baseSampler: s,
		proposer:    newFrequencyProposer(trainSet, rng.Split()),
	}, nil
}

func (s *FrequencyPairSampler) NextUser() (int32, error) {
	userIndex, _, err := s.pairUser()
	return userIndex, err
}

func (s *FrequencyPairSampler) OtherItem(userIndex, itemIndex int32) (int32, bool, error) {
	return s.otherItem(userIndex, itemIndex, s.proposer.next)
}

func (s *FrequencyPairSampler) NextTriple() (int32, int32, int32, error) {
	userIndex, itemIndex, err := s.pairUser()
	if err != nil {
		return 0, 0, 0, err
	}
	otherIndex, _, err := s.OtherItem(userIndex, itemIndex)
	if err != nil {
		return 0, 0, 0, err
	}
	return userIndex, itemIndex, otherIndex, nil
}

// NextPair draws a triple from any sampler by asking for the counter item of a
// positive, in either orientation.
func NextPair(s Sampler, userIndex, itemIndex int32) (int32, int32, error) {
	otherIndex, itemIsPositive, err := s.OtherItem(userIndex, itemIndex)
	if err != nil {
		return 0, 0, err
	}
	positive, negative := orient(itemIndex, otherIndex, itemIsPositive)
	return positive, negative, nil
}
