package auth

import (
	"sync"
	stdtime "time"
)

// Clock supplies the current time for token issuance and expiry checks.
type Clock interface {
	Now() stdtime.Time
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() stdtime.Time

func (f ClockFunc) Now() stdtime.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(stdtime.Now)

// FakeClock only moves when told to. Safe for concurrent use.
type FakeClock struct {
	mu sync.Mutex
	t  stdtime.Time
}

// NewFakeClock returns a FakeClock stopped at start.
func NewFakeClock(start stdtime.Time) *FakeClock {
	return &FakeClock{t: start}
}

func (c *FakeClock) Now() stdtime.Time {
	c.mu.Lock()
	t := c.t
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d stdtime.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
