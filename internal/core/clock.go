package core

import (
	"sync"
	"time"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Clock supplies the ledger time stamped onto mutating calls.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock. A nil ClockFunc reports the
// current UTC time.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MonotonicClock wraps a Clock so successive readings never go backwards.
// The ledger requires non-decreasing call times even when the wall clock is
// adjusted.
type MonotonicClock struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonicClock wraps base; a nil base uses the system clock.
func NewMonotonicClock(base Clock) *MonotonicClock {
	if base == nil {
		base = ClockFunc(nil)
	}
	return &MonotonicClock{base: base}
}

// Now returns max(base.Now(), previous reading).
func (c *MonotonicClock) Now() time.Time {
	now := c.base.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Observe raises the floor of future readings to t. Stores opened over
// existing state use it so stamps stay ordered across restarts.
func (c *MonotonicClock) Observe(t time.Time) {
	t = t.UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

// LatestTimestamp returns the most recent stage entry recorded in view.
func LatestTimestamp(view domain.TransactionView) time.Time {
	var latest time.Time
	for _, p := range view.ListProducts() {
		ts, ok := view.FindTimestamps(p.ID)
		if !ok {
			continue
		}
		if at := ts.At(p.Stage); at.After(latest) {
			latest = at
		}
	}
	return latest
}
