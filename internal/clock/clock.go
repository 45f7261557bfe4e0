package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic checks and tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a settable clock for tests and replay tooling.
// Params: start instant set by NewManual.
// Returns: clock advanced only by Set/Advance.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock pinned at start.
// Params: initial time.
// Returns: manual clock.
func NewManual(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now returns pinned time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves clock forward by delta.
func (c *ManualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

// Set pins clock to instant.
func (c *ManualClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at.UTC()
	c.mu.Unlock()
}
