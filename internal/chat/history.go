package chat

const DefaultHistorySize = 10

// HistoryRoute tags how a message arrived.
type HistoryRoute uint8

const (
	HistoryDirect HistoryRoute = iota
	HistoryFlood
	HistoryPublic
)

func (r HistoryRoute) String() string {
	switch r {
	case HistoryDirect:
		return "direct"
	case HistoryFlood:
		return "flood"
	default:
		return "public"
	}
}

type HistoryEntry struct {
	From      string
	Text      string
	Timestamp uint32
	Route     HistoryRoute
}

// History is a fixed ring of received messages; the newest overwrites the
// oldest.
type History struct {
	entries []HistoryEntry
	next    int
	count   int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]HistoryEntry, size)}
}

func (h *History) Add(e HistoryEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
}

// Entries returns the stored messages oldest first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.count)
	start := 0
	if h.count == len(h.entries) {
		start = h.next
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}

func (h *History) Len() int {
	return h.count
}
