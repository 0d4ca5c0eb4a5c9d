// Package quota counts accepted records against the run's item limit.
package quota

import "sync/atomic"

// Tracker counts accepted records. TryAcquire is an atomic check-and-increment,
// so concurrent tasks can never push the count past the limit.
type Tracker struct {
	max      int64
	accepted atomic.Int64
}

// New returns a Tracker allowing maxItems acceptances. Values below 1 clamp to 1.
func New(maxItems int) *Tracker {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Tracker{max: int64(maxItems)}
}

// TryAcquire reserves one slot and reports whether it succeeded.
func (t *Tracker) TryAcquire() bool {
	for {
		cur := t.accepted.Load()
		if cur >= t.max {
			return false
		}
		if t.accepted.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns n reserved slots, for records that were reserved but never
// saved. The count never drops below zero.
func (t *Tracker) Release(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := t.accepted.Load()
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if t.accepted.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Remaining returns max - accepted.
func (t *Tracker) Remaining() int {
	return int(t.max - t.accepted.Load())
}

// IsExhausted reports whether no capacity remains.
func (t *Tracker) IsExhausted() bool {
	return t.Remaining() <= 0
}

// Accepted returns the number of slots taken so far.
func (t *Tracker) Accepted() int {
	return int(t.accepted.Load())
}

// Max returns the configured limit.
func (t *Tracker) Max() int {
	return int(t.max)
}
