// Package clock abstracts the wall-time source so reward accrual,
// cooldowns, lock expiry and token lifetimes can be driven by a
// simulated clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current wall time. All timestamps produced through
// a Clock are UTC.
type Clock interface {
	Now() time.Time
}

// System implements Clock using the real time source.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Simulated is a manually advanced Clock for tests.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated returns a Simulated clock frozen at start.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start.UTC()}
}

func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the simulated clock forward by d.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the simulated clock to t.
func (c *Simulated) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
