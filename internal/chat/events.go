package chat

import (
	"fmt"
	"time"
)

type EventKind int

const (
	EventMessage EventKind = iota
	EventChannel
	EventAck
	EventRetry
	EventFailed
	EventContact
	EventPath
	EventClock
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventChannel:
		return "channel"
	case EventAck:
		return "ack"
	case EventRetry:
		return "retry"
	case EventFailed:
		return "failed"
	case EventContact:
		return "contact"
	case EventPath:
		return "path"
	case EventClock:
		return "clock"
	case EventNotice:
		return "notice"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an asynchronous notification from the node loop to the UI and
// bot. Fields not relevant to Kind are zero.
type Event struct {
	Kind      EventKind
	At        time.Time
	From      string
	Text      string
	Timestamp uint32
	Route     HistoryRoute
	Hops      int
	SNR       float32
	RTT       time.Duration
	Attempt   int
	FellBack  bool
	New       bool
}
