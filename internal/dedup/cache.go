package dedup

import (
	"encoding/binary"

	"github.com/danmuck/meshmodem/internal/meshcrypto"
)

const (
	DefaultCapacity = 10
	// DefaultWindow is the aging window in seconds.
	DefaultWindow uint32 = 300
)

// Clock reports the synchronized wall clock in epoch seconds.
type Clock interface {
	Now() uint32
}

type entry struct {
	fingerprint uint32
	receivedAt  uint32
	used        bool
}

// Cache is a fixed ring of recently seen message fingerprints.
// Eviction is round-robin by insertion, not LRU, so a burst of more than
// Capacity distinct messages inside the window can let a duplicate through.
// Not safe for concurrent use; the owning event loop serializes access.
type Cache struct {
	entries []entry
	cursor  int
	window  uint32
	clock   Clock
}

func New(capacity int, window uint32, clock Clock) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window == 0 {
		window = DefaultWindow
	}
	return &Cache{
		entries: make([]entry, capacity),
		window:  window,
		clock:   clock,
	}
}

// Fingerprint is the first four bytes of SHA-256(timestamp LE || sender || text).
func Fingerprint(timestamp uint32, sender []byte, text string) uint32 {
	var ts [4]byte
	binary.LittleEndian.PutUint32(ts[:], timestamp)
	sum := meshcrypto.SHA256(ts[:], sender, []byte(text))
	return binary.LittleEndian.Uint32(sum[:4])
}

// IsDuplicate reports whether the message was seen inside the aging
// window. A novel message is recorded as a side effect.
func (c *Cache) IsDuplicate(timestamp uint32, sender []byte, text string) bool {
	fp := Fingerprint(timestamp, sender, text)
	now := c.clock.Now()
	for _, e := range c.entries {
		if e.used && e.fingerprint == fp && now-e.receivedAt < c.window {
			return true
		}
	}
	c.entries[c.cursor] = entry{fingerprint: fp, receivedAt: now, used: true}
	c.cursor = (c.cursor + 1) % len(c.entries)
	return false
}

// Reset forgets every entry.
func (c *Cache) Reset() {
	for i := range c.entries {
		c.entries[i] = entry{}
	}
	c.cursor = 0
}

func (c *Cache) Len() int {
	n := 0
	for _, e := range c.entries {
		if e.used {
			n++
		}
	}
	return n
}
