package delivery

import "time"

const (
	// MaxTextLen is the largest text body a message payload carries.
	MaxTextLen = 160
	// SafeTextLen leaves room for protocol overhead.
	SafeTextLen = MaxTextLen - 5
)

// Config defines retry and timeout policy for outbound messages.
type Config struct {
	MaxAttempts uint8
	// FallbackThreshold is the attempt index from which sends are forced
	// to flood regardless of a known path.
	FallbackThreshold uint8

	BaseTimeout  time.Duration
	FloodFactor  float64
	PerHopFactor float64
	PerHopExtra  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		FallbackThreshold: 2,
		BaseTimeout:       500 * time.Millisecond,
		FloodFactor:       16.0,
		PerHopFactor:      6.0,
		PerHopExtra:       250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.FallbackThreshold == 0 {
		c.FallbackThreshold = d.FallbackThreshold
	}
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = d.BaseTimeout
	}
	if c.FloodFactor <= 0 {
		c.FloodFactor = d.FloodFactor
	}
	if c.PerHopFactor <= 0 {
		c.PerHopFactor = d.PerHopFactor
	}
	if c.PerHopExtra <= 0 {
		c.PerHopExtra = d.PerHopExtra
	}
	return c
}

// FloodTimeout scales with airtime to cover contention on re-flooding.
func (c Config) FloodTimeout(airtime time.Duration) time.Duration {
	return c.BaseTimeout + time.Duration(c.FloodFactor*float64(airtime))
}

// DirectTimeout scales with hop count.
func (c Config) DirectTimeout(airtime time.Duration, hops int) time.Duration {
	perHop := time.Duration(c.PerHopFactor*float64(airtime)) + c.PerHopExtra
	return c.BaseTimeout + perHop*time.Duration(hops+1)
}

// TextBudget is the longest text accepted for a recipient. Channel
// messages carry a "name: " prefix inside the same budget.
func TextBudget(channel bool, senderName string) int {
	if channel {
		return SafeTextLen - (len(senderName) + 2)
	}
	return SafeTextLen
}
