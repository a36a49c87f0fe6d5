package timesync

import (
	"sync"
	"time"
)

// Clock is an adjustable wall clock in epoch seconds.
type Clock interface {
	Now() uint32
	Set(ts uint32)
}

// SystemClock follows the host clock plus an offset applied by Set.
type SystemClock struct {
	mu     sync.RWMutex
	offset int64
	base   func() time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{base: time.Now}
}

func (c *SystemClock) Now() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(c.base().Unix() + c.offset)
}

func (c *SystemClock) Set(ts uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = int64(ts) - c.base().Unix()
}

// ManualClock only moves when told to. Used by simulations and tests.
type ManualClock struct {
	mu  sync.Mutex
	now uint32
}

func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(ts uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

func (c *ManualClock) Advance(secs uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += secs
}
