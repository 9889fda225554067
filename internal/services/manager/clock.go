package manager

import (
	"sync"
	"time"
)

// Clock is the time source every periodic job reads. Production uses
// AdjustedClock; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the OS clock directly.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// AdjustedClock shifts the OS clock by the measured server-time offset
// so moment alignment and scheduling agree with the exchange.
type AdjustedClock struct {
	mu     sync.RWMutex
	offset time.Duration
}

func NewAdjustedClock() *AdjustedClock {
	return &AdjustedClock{}
}

func (c *AdjustedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset).UTC()
}

func (c *AdjustedClock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

func (c *AdjustedClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
