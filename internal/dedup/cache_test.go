package dedup

import (
	"fmt"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) Now() uint32 { return c.now }

func TestIsDuplicateWithinWindow(t *testing.T) {
	testlog.Start(t)

	clock := &fakeClock{now: 1_700_000_000}
	c := New(DefaultCapacity, DefaultWindow, clock)
	sender := make([]byte, 32)
	sender[0] = 0xAB

	if c.IsDuplicate(1_699_999_990, sender, "hi") {
		t.Fatalf("first sighting must be novel")
	}
	if !c.IsDuplicate(1_699_999_990, sender, "hi") {
		t.Fatalf("second sighting must be a duplicate")
	}

	clock.now += 301
	if c.IsDuplicate(1_699_999_990, sender, "hi") {
		t.Fatalf("sighting after aging window must be novel")
	}
	if !c.IsDuplicate(1_699_999_990, sender, "hi") {
		t.Fatalf("re-recorded message must be a duplicate again")
	}
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	testlog.Start(t)

	clock := &fakeClock{now: 1000}
	c := New(4, 300, clock)
	c.IsDuplicate(1, []byte{1, 2}, "x")
	clock.now += 299
	if !c.IsDuplicate(1, []byte{1, 2}, "x") {
		t.Fatalf("299s old entry must still match")
	}
	clock.now += 300
	if c.IsDuplicate(1, []byte{1, 2}, "x") {
		t.Fatalf("entry recorded at 1000 must not match at 1599")
	}
}

func TestDistinctFieldsAreDistinct(t *testing.T) {
	testlog.Start(t)

	c := New(DefaultCapacity, DefaultWindow, &fakeClock{now: 50})
	c.IsDuplicate(10, []byte{1}, "hello")
	if c.IsDuplicate(11, []byte{1}, "hello") {
		t.Fatalf("different timestamp must be novel")
	}
	if c.IsDuplicate(10, []byte{2}, "hello") {
		t.Fatalf("different sender must be novel")
	}
	if c.IsDuplicate(10, []byte{1}, "hello!") {
		t.Fatalf("different text must be novel")
	}
}

func TestRoundRobinEviction(t *testing.T) {
	testlog.Start(t)

	c := New(3, DefaultWindow, &fakeClock{now: 100})
	for i := 0; i < 4; i++ {
		if c.IsDuplicate(uint32(i), nil, fmt.Sprintf("m%d", i)) {
			t.Fatalf("message %d must be novel", i)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("expected bounded ring, len=%d", c.Len())
	}
	// m0 was overwritten by m3, so it slips through as novel.
	if c.IsDuplicate(0, nil, "m0") {
		t.Fatalf("evicted fingerprint must be reported novel")
	}
	if !c.IsDuplicate(3, nil, "m3") {
		t.Fatalf("recent fingerprint must still match")
	}
}

func TestFingerprintStable(t *testing.T) {
	testlog.Start(t)

	a := Fingerprint(1_700_000_000, []byte{0x11, 0x8b}, "Alice: hi")
	b := Fingerprint(1_700_000_000, []byte{0x11, 0x8b}, "Alice: hi")
	if a != b {
		t.Fatalf("fingerprint not deterministic: %08x vs %08x", a, b)
	}
}
