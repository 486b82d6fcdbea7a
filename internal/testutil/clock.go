package testutil

import (
	"sync"
	"time"

	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
)

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

var _ service.Clock = (*Clock)(nil)

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SetDate moves the clock to 09:00 UTC on the given day.
func (c *Clock) SetDate(year int, month time.Month, day int) {
	c.Set(period.Date(year, month, day).Add(9 * time.Hour))
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
