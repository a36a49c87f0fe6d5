package chat

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
)

const (
	MaxContacts = 100
	// MaxNameLen matches the fixed 32-byte name field with a terminator.
	MaxNameLen = 31
	// PublicName is the pseudo-recipient for the public channel.
	PublicName = "Public"
)

var (
	ErrContactsFull    = errors.New("chat: contact table full")
	ErrContactNotFound = errors.New("chat: contact not found")
	ErrBadName         = errors.New("chat: invalid name")
)

// Contact is a peer learned from a signed advert or an imported card.
// It is the delivery recipient for direct messages.
type Contact struct {
	ID   identity.Identity
	Name string
	Type AdvertType
	// Flags are the raw advert flags, kept for the contacts file.
	Flags byte
	// OutPathLen is -1 while no direct route is known.
	OutPathLen int8
	LastAdvert uint32
	Lat, Lon   float64

	path     [packet.MaxPathSize]byte
	secret   []byte
	deriving bool
}

func (c *Contact) DisplayName() string {
	return c.Name
}

// OutPath returns the learned direct route, if any.
func (c *Contact) OutPath() ([]byte, bool) {
	if c.OutPathLen < 0 {
		return nil, false
	}
	out := make([]byte, c.OutPathLen)
	copy(out, c.path[:])
	return out, true
}

// ResetPath forgets the direct route so the next send floods.
func (c *Contact) ResetPath() {
	c.OutPathLen = -1
}

// SetPath stores a direct route. Paths longer than the packet limit are
// ignored.
func (c *Contact) SetPath(path []byte) bool {
	if len(path) > packet.MaxPathSize {
		return false
	}
	c.OutPathLen = int8(len(path))
	copy(c.path[:], path)
	return true
}

// Hops is the direct route length, or -1 for flood.
func (c *Contact) Hops() int {
	return int(c.OutPathLen)
}

// Contacts is the node's peer table. Owned by the node loop.
type Contacts struct {
	list []*Contact
}

func NewContacts() *Contacts {
	return &Contacts{}
}

func (t *Contacts) Len() int {
	return len(t.list)
}

// Add inserts c, or returns the existing entry with the same key.
func (t *Contacts) Add(c *Contact) (*Contact, bool, error) {
	if existing := t.ByKey(c.ID.PubKey[:]); existing != nil {
		return existing, false, nil
	}
	if len(t.list) >= MaxContacts {
		return nil, false, ErrContactsFull
	}
	t.list = append(t.list, c)
	return c, true, nil
}

func (t *Contacts) ByKey(pub []byte) *Contact {
	for _, c := range t.list {
		if string(c.ID.PubKey[:]) == string(pub) {
			return c
		}
	}
	return nil
}

// ByHash lists contacts whose one-byte address matches h. Collisions are
// possible; callers try each.
func (t *Contacts) ByHash(h byte) []*Contact {
	var out []*Contact
	for _, c := range t.list {
		if c.ID.Hash() == h {
			out = append(out, c)
		}
	}
	return out
}

func (t *Contacts) Remove(c *Contact) bool {
	for i, e := range t.list {
		if e == c {
			t.list = append(t.list[:i], t.list[i+1:]...)
			return true
		}
	}
	return false
}

// Sorted returns the contacts most recently advertised first.
func (t *Contacts) Sorted() []*Contact {
	out := append([]*Contact(nil), t.list...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastAdvert > out[j].LastAdvert
	})
	return out
}

// All returns contacts in insertion order.
func (t *Contacts) All() []*Contact {
	return append([]*Contact(nil), t.list...)
}

// Resolve finds a contact by 1-based index into Sorted or by
// case-insensitive name prefix. An exact name wins over a prefix.
func (t *Contacts) Resolve(ref string) (*Contact, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrContactNotFound)
	}
	if n, err := strconv.Atoi(ref); err == nil {
		sorted := t.Sorted()
		if n < 1 || n > len(sorted) {
			return nil, fmt.Errorf("%w: index %d of %d", ErrContactNotFound, n, len(sorted))
		}
		return sorted[n-1], nil
	}
	lower := strings.ToLower(ref)
	var prefix *Contact
	for _, c := range t.Sorted() {
		name := strings.ToLower(c.Name)
		if name == lower {
			return c, nil
		}
		if prefix == nil && strings.HasPrefix(name, lower) {
			prefix = c
		}
	}
	if prefix == nil {
		return nil, fmt.Errorf("%w: %q", ErrContactNotFound, ref)
	}
	return prefix, nil
}

// ValidateName checks a node or contact name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrBadName)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d chars (max %d)", ErrBadName, len(name), MaxNameLen)
	}
	return nil
}
