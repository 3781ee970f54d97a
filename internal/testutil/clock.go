package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant a Clock starts at unless told otherwise.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manually driven fleet.Clock. Time only moves when a test calls
// Advance or Set, so heartbeat timeouts and ledger windows are exact.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock at start, or at Epoch when start is omitted.
func NewClock(start ...time.Time) *Clock {
	c := &Clock{now: Epoch}
	if len(start) > 0 {
		c.now = start[0]
	}
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Millis returns the current time in Unix milliseconds, the unit the
// registry stamps heartbeats and status events with.
func (c *Clock) Millis() int64 {
	return c.Now().UnixMilli()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
