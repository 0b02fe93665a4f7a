// Package clocktest provides a deterministic clock.Clock for tests.
package clocktest

import (
	"sync"
	"time"

	"roced/internal/clock"
)

var _ clock.Clock = (*Clock)(nil)

// Clock is a manually-advanced clock for testing.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New creates a Clock starting at the given time.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set sets the clock to an exact time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
