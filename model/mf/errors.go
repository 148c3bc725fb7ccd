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
	"fmt"

	"github.com/juju/errors"
)

var (
	// ErrNoEligibleUser means no user has both positive and negative items, so no
	// training triple exists.
	ErrNoEligibleUser = errors.New("no user has at least one and fewer than all items")
	// ErrSamplingExhausted means a rejection loop used up its attempt budget.
	ErrSamplingExhausted = errors.New("rejection sampling exhausted")
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNotInitialized means Iterate was called before Init.
	ErrNotInitialized = errors.New("model is not initialized")
)

// DimensionMismatchError reports a persisted or supplied dimension that disagrees
// with the declared one.
type DimensionMismatchError struct {
	Field    string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expect %d but got %d", e.Field, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
