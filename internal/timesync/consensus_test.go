package timesync

import (
	"errors"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func TestMedianResistsOutlier(t *testing.T) {
	testlog.Start(t)

	clock := NewManualClock(99)
	cfg := DefaultConfig()
	cfg.Floor = 0
	cfg.MinSamples = 5
	cfg.Tolerance = 0
	c := NewConsensus(cfg, clock)

	var (
		corr Correction
		ok   bool
	)
	for _, ts := range []uint32{100, 105, 1000000, 102, 98} {
		corr, ok = c.Observe(ts)
	}
	if !ok {
		t.Fatalf("expected correction after the fifth sample")
	}
	if clock.Now() != 102 || corr.To != 102 || corr.From != 99 || corr.Samples != 5 {
		t.Fatalf("expected median 102, clock=%d corr=%+v", clock.Now(), corr)
	}
	if c.Samples() != 0 {
		t.Fatalf("sample counter must reset after a correction, got=%d", c.Samples())
	}
}

func TestDefaultsNeedThreeSamplesAndTolerance(t *testing.T) {
	testlog.Start(t)

	const base uint32 = 1_700_000_000
	clock := NewManualClock(base)
	c := NewConsensus(DefaultConfig(), clock)

	if _, ok := c.Observe(base + 100); ok {
		t.Fatalf("one sample must not correct")
	}
	if _, ok := c.Observe(base + 105); ok {
		t.Fatalf("two samples must not correct")
	}
	corr, ok := c.Observe(base + 5_000_000)
	if !ok {
		t.Fatalf("three samples ahead by >10s must correct")
	}
	if corr.To != base+105 || clock.Now() != base+105 {
		t.Fatalf("expected median of three, got %+v clock=%d", corr, clock.Now())
	}

	// Within tolerance: no change.
	for _, d := range []uint32{3, 5, 8} {
		if _, ok := c.Observe(clock.Now() + d); ok {
			t.Fatalf("drift within tolerance must not correct")
		}
	}
	if clock.Now() != base+105 {
		t.Fatalf("clock moved within tolerance: %d", clock.Now())
	}
}

func TestObserveRejectsOutOfRange(t *testing.T) {
	testlog.Start(t)

	const base uint32 = 1_700_000_000
	clock := NewManualClock(base)
	c := NewConsensus(DefaultConfig(), clock)

	for _, ts := range []uint32{1_500_000_000, MaxEpoch + 1, base - 3601} {
		if _, ok := c.Observe(ts); ok {
			t.Fatalf("timestamp %d must be ignored", ts)
		}
	}
	if c.Samples() != 0 {
		t.Fatalf("rejected timestamps must not be recorded, got=%d", c.Samples())
	}
	c.Observe(base - 3600)
	if c.Samples() != 1 {
		t.Fatalf("exactly one hour behind must still count")
	}
}

func TestNeverMovesBackward(t *testing.T) {
	testlog.Start(t)

	const base uint32 = 1_700_000_000
	clock := NewManualClock(base)
	c := NewConsensus(DefaultConfig(), clock)
	for i := 0; i < 10; i++ {
		c.Observe(base - 1000)
	}
	if clock.Now() != base {
		t.Fatalf("clock moved backward to %d", clock.Now())
	}
}

func TestEvenCountTakesUpperMiddleIndex(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.Floor = 0
	cfg.MinSamples = 100
	c := NewConsensus(cfg, NewManualClock(0))
	for _, ts := range []uint32{40, 10, 30, 20} {
		c.Observe(ts)
	}
	m, ok := c.Median()
	if !ok || m != 30 {
		t.Fatalf("expected sorted[n/2]=30, got=%d ok=%v", m, ok)
	}
}

func TestWindowKeepsMostRecent(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.Floor = 0
	cfg.MinSamples = 100
	c := NewConsensus(cfg, NewManualClock(0))
	for _, ts := range []uint32{1, 2, 3, 4, 5, 50, 60, 70} {
		c.Observe(ts)
	}
	// ring now holds 50 60 70 4 5
	m, _ := c.Median()
	if m != 50 || c.Samples() != 5 {
		t.Fatalf("unexpected window median=%d samples=%d", m, c.Samples())
	}
}

func TestSetClock(t *testing.T) {
	testlog.Start(t)

	clock := NewManualClock(1_700_000_000)
	if err := SetClock(clock, 1_700_000_500); err != nil {
		t.Fatalf("forward set: %v", err)
	}
	if err := SetClock(clock, 1_700_000_100); !errors.Is(err, ErrBackward) {
		t.Fatalf("expected ErrBackward, got %v", err)
	}
	if err := SetClock(clock, 1_000); !errors.Is(err, ErrTooOld) {
		t.Fatalf("expected ErrTooOld, got %v", err)
	}
	if err := SetClock(clock, MaxEpoch+1); !errors.Is(err, ErrTooFarFuture) {
		t.Fatalf("expected ErrTooFarFuture, got %v", err)
	}
	if clock.Now() != 1_700_000_500 {
		t.Fatalf("rejected sets changed the clock: %d", clock.Now())
	}
}

func TestParseTime(t *testing.T) {
	testlog.Start(t)

	cases := map[string]uint32{
		"1700000000":       1700000000,
		"14/11/2023 22:13": 1700000000 - 20,
		"2023-11-14 22:13": 1700000000 - 20,
		"14/11/23 22:13":   1700000000 - 20,
		"14/11/2023":       1699920000,
	}
	for raw, want := range cases {
		got, err := ParseTime(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got=%d err=%v want=%d", raw, got, err, want)
		}
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestSystemClockOffset(t *testing.T) {
	testlog.Start(t)

	c := NewSystemClock()
	target := c.Now() + 3600
	c.Set(target)
	if got := c.Now(); got < target || got > target+1 {
		t.Fatalf("offset not applied: got=%d want~%d", got, target)
	}
}

func TestEvenSampleCountTakesUpperMiddle(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.Floor = 0
	cfg.MinSamples = 10
	c := NewConsensus(cfg, NewManualClock(0))
	for _, ts := range []uint32{10, 40, 20, 30} {
		c.Observe(ts)
	}
	if m, ok := c.Median(); !ok || m != 30 {
		t.Fatalf("median of four got=%d ok=%v want=30", m, ok)
	}
}
