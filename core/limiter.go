package core

import (
	"fmt"
	"sync/atomic"
)

// ModelLimiter is the model call budget of one run. Branches of a parallel
// agent share it.
type ModelLimiter struct {
	max  int64
	used atomic.Int64
}

// NewModelLimiter returns a budget of max calls; max <= 0 is unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: int64(max)}
}

// Acquire takes one call from the budget or fails with ErrModelCallLimit.
func (ml *ModelLimiter) Acquire() error {
	for {
		n := ml.used.Load()
		if ml.max > 0 && n >= ml.max {
			return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
		}

		if ml.used.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Count returns the calls taken so far.
func (ml *ModelLimiter) Count() int { return int(ml.used.Load()) }

// Remaining returns the calls left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	if ml.max <= 0 {
		return -1
	}

	return int(ml.max - ml.used.Load())
}
