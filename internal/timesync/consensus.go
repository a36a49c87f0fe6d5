package timesync

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// MinEpoch is Sep 2020; anything earlier is an unset clock.
	MinEpoch uint32 = 1600000000
	// MaxEpoch is Jan 2100.
	MaxEpoch uint32 = 4102444800
)

var (
	ErrTooOld       = errors.New("timesync: timestamp too old")
	ErrTooFarFuture = errors.New("timesync: timestamp too far in future")
	ErrBackward     = errors.New("timesync: clock cannot go backwards")
)

// Config bounds which peer timestamps count and when the clock moves.
type Config struct {
	Window     int
	MinSamples int
	Floor      uint32
	Ceiling    uint32
	// MaxLag rejects peers further behind local time than this, in seconds.
	MaxLag uint32
	// Tolerance is the drift, in seconds, the median must exceed.
	Tolerance uint32
}

func DefaultConfig() Config {
	return Config{
		Window:     5,
		MinSamples: 3,
		Floor:      MinEpoch,
		Ceiling:    MaxEpoch,
		MaxLag:     3600,
		Tolerance:  10,
	}
}

// Correction describes one forward clock adjustment.
type Correction struct {
	From    uint32
	To      uint32
	Samples int
}

func (c Correction) Delta() uint32 {
	return c.To - c.From
}

// Consensus collects peer timestamps and moves the clock forward to
// their median. Not safe for concurrent use.
type Consensus struct {
	cfg     Config
	clock   Clock
	samples []uint32
	count   int
}

func NewConsensus(cfg Config, clock Clock) *Consensus {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	return &Consensus{
		cfg:     cfg,
		clock:   clock,
		samples: make([]uint32, cfg.Window),
	}
}

// Observe records a peer timestamp and applies a correction when the
// median of the window is ahead of local time by more than Tolerance.
func (c *Consensus) Observe(peer uint32) (Correction, bool) {
	if peer < c.cfg.Floor || peer > c.cfg.Ceiling {
		return Correction{}, false
	}
	now := c.clock.Now()
	if uint64(peer)+uint64(c.cfg.MaxLag) < uint64(now) {
		return Correction{}, false
	}

	c.samples[c.count%len(c.samples)] = peer
	c.count++
	if c.count < c.cfg.MinSamples {
		return Correction{}, false
	}

	median, n := c.median()
	if uint64(median) <= uint64(now)+uint64(c.cfg.Tolerance) {
		return Correction{}, false
	}
	c.clock.Set(median)
	c.count = 0
	return Correction{From: now, To: median, Samples: n}, true
}

// Median returns the current consensus value without acting on it.
func (c *Consensus) Median() (uint32, bool) {
	if c.count == 0 {
		return 0, false
	}
	m, _ := c.median()
	return m, true
}

// median sorts the populated slots and takes index n/2. With an even count
// that is the upper middle element, not the lower one: with four samples
// the third smallest wins, matching the firmware this interoperates with.
func (c *Consensus) median() (uint32, int) {
	n := c.count
	if n > len(c.samples) {
		n = len(c.samples)
	}
	sorted := append([]uint32(nil), c.samples[:n]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[n/2], n
}

// Samples reports how many samples count toward the next decision.
func (c *Consensus) Samples() int {
	if c.count > len(c.samples) {
		return len(c.samples)
	}
	return c.count
}

func (c *Consensus) Reset() {
	c.count = 0
	for i := range c.samples {
		c.samples[i] = 0
	}
}

// SetClock applies an operator supplied time. It only moves forward and
// only to a sane absolute value.
func SetClock(clock Clock, ts uint32) error {
	if ts > MaxEpoch {
		return ErrTooFarFuture
	}
	if ts < MinEpoch {
		return ErrTooOld
	}
	if cur := clock.Now(); ts <= cur {
		return fmt.Errorf("%w: %d <= %d", ErrBackward, ts, cur)
	}
	clock.Set(ts)
	return nil
}
