package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a wall clock that only moves when told to.
//
// The same scenario run against a DeterministicClock produces identical
// timestamps, due dates and notification ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicClock creates a clock frozen at start (converted to UTC).
func NewDeterministicClock(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start.UTC()}
}

// Now returns the current frozen time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// AdvanceDays moves the clock forward by n calendar days.
func (c *DeterministicClock) AdvanceDays(n int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
	return c.now
}

// Set jumps the clock to t.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
