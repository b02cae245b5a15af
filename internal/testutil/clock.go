// Package testutil provides deterministic test doubles for the
// pipeline's injected capabilities: the wall clock and the nonce
// generator.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe fake wall clock. Time only moves when the
// test calls Advance, so TTL expiry and timestamp-sensitive behavior
// run reproducibly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time. Pass c.Now as the now-func
// option of the component under test.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
