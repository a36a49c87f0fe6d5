package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/observability"
)

var (
	ErrEmptyText   = errors.New("delivery: message text is empty")
	ErrTextTooLong = errors.New("delivery: message too long")
	ErrNoRecipient = errors.New("delivery: no recipient")
	ErrSendFailed  = errors.New("delivery: send failed")
	ErrExhausted   = errors.New("delivery: no ack after all attempts")
	ErrNoPending   = errors.New("delivery: nothing pending")
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingAck
	StateRetrying
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateRetrying:
		return "retrying"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Route int

const (
	RouteFlood Route = iota
	RouteDirect
)

func (r Route) String() string {
	if r == RouteDirect {
		return "direct"
	}
	return "flood"
}

// Recipient is the addressee of a direct message. The engine reads its
// route hint and clears it when falling back to flood.
type Recipient interface {
	DisplayName() string
	OutPath() ([]byte, bool)
	ResetPath()
}

// Message is what the transport puts on air for one attempt.
type Message struct {
	Text      string
	Timestamp uint32
	Attempt   uint8
}

// Receipt is the transport's acceptance of one attempt.
type Receipt struct {
	ExpectedAck uint32
	Airtime     time.Duration
	Route       Route
	Hops        int
}

// Transport sends a direct message along path, or by flood when path is nil.
type Transport interface {
	SendMessage(to Recipient, msg Message, path []byte) (Receipt, error)
}

// Clock supplies the synchronized message timestamp.
type Clock interface {
	Now() uint32
}

// Pending is the one live outbound message.
type Pending struct {
	Text        string
	Timestamp   uint32
	Attempt     uint8
	Recipient   Recipient
	ExpectedAck uint32
	Route       Route
	SentAt      time.Time
	Timeout     time.Duration
	Seq         uint64
}

// Attempt describes a send the transport accepted. The caller arms a
// timer for Timeout and reports expiry with OnTimeout(Seq).
type Attempt struct {
	Seq         uint64
	Attempt     uint8
	Route       Route
	Timeout     time.Duration
	ExpectedAck uint32
	Timestamp   uint32
	// FellBack is set when this attempt was forced to flood.
	FellBack bool
}

// Resolution reports a matched acknowledgement.
type Resolution struct {
	Text      string
	Recipient Recipient
	RTT       time.Duration
	Attempts  uint8
}

// Engine runs the single-outstanding-send state machine. It is owned by
// one event loop and holds no locks.
type Engine struct {
	cfg     Config
	clock   Clock
	tx      Transport
	now     func() time.Time
	state   State
	pending *Pending
	seq     uint64
}

// NewEngine fills every zero Config field from DefaultConfig.
func NewEngine(cfg Config, clock Clock, tx Transport) *Engine {
	return &Engine{cfg: cfg.withDefaults(), clock: clock, tx: tx, now: time.Now}
}

func (e *Engine) State() State {
	return e.state
}

// Pending returns a copy of the live send, if any.
func (e *Engine) Pending() (Pending, bool) {
	if e.pending == nil {
		return Pending{}, false
	}
	return *e.pending, true
}

// Send starts delivery of text to r, abandoning any earlier pending send.
func (e *Engine) Send(text string, r Recipient) (Attempt, error) {
	if r == nil {
		return Attempt{}, ErrNoRecipient
	}
	if err := ValidateText(text, SafeTextLen); err != nil {
		return Attempt{}, err
	}
	if e.pending != nil {
		log.Debug().Str("to", e.pending.Recipient.DisplayName()).Msg("delivery: abandoning pending send")
		observability.RecordDelivery("abandoned")
	}
	e.seq++
	e.pending = &Pending{
		Text:      text,
		Timestamp: e.clock.Now(),
		Recipient: r,
		Seq:       e.seq,
	}
	e.state = StateSending
	return e.attempt(false)
}

func (e *Engine) attempt(fellBack bool) (Attempt, error) {
	p := e.pending
	path, ok := p.Recipient.OutPath()
	if !ok {
		path = nil
	}
	receipt, err := e.tx.SendMessage(p.Recipient, Message{Text: p.Text, Timestamp: p.Timestamp, Attempt: p.Attempt}, path)
	if err != nil {
		log.Warn().Err(err).Str("to", p.Recipient.DisplayName()).Uint8("attempt", p.Attempt).Msg("delivery: transport rejected send")
		e.pending = nil
		e.state = StateFailed
		observability.RecordDelivery("send_failed")
		return Attempt{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	timeout := e.cfg.FloodTimeout(receipt.Airtime)
	if receipt.Route == RouteDirect {
		timeout = e.cfg.DirectTimeout(receipt.Airtime, receipt.Hops)
	}
	p.ExpectedAck = receipt.ExpectedAck
	p.Route = receipt.Route
	p.SentAt = e.now()
	p.Timeout = timeout
	e.state = StateAwaitingAck
	observability.RecordDeliveryAttempt(receipt.Route.String())

	log.Debug().
		Str("to", p.Recipient.DisplayName()).
		Uint8("attempt", p.Attempt).
		Str("route", receipt.Route.String()).
		Dur("timeout", timeout).
		Msg("delivery: awaiting ack")
	return Attempt{
		Seq:         p.Seq,
		Attempt:     p.Attempt,
		Route:       receipt.Route,
		Timeout:     timeout,
		ExpectedAck: receipt.ExpectedAck,
		Timestamp:   p.Timestamp,
		FellBack:    fellBack,
	}, nil
}

// OnAck resolves the pending send when the correlator matches. Unknown
// and repeated ACKs are ignored.
func (e *Engine) OnAck(correlator uint32) (Resolution, bool) {
	p := e.pending
	if p == nil || e.state != StateAwaitingAck || p.ExpectedAck != correlator {
		return Resolution{}, false
	}
	res := Resolution{
		Text:      p.Text,
		Recipient: p.Recipient,
		RTT:       e.now().Sub(p.SentAt),
		Attempts:  p.Attempt + 1,
	}
	e.pending = nil
	e.state = StateResolved
	observability.RecordDelivery("acked")
	return res, true
}

// OnTimeout handles expiry of the attempt identified by seq. It retries
// while attempts remain and falls back to flood from FallbackThreshold on.
// A stale seq from an abandoned send is ignored with ErrNoPending.
func (e *Engine) OnTimeout(seq uint64) (Attempt, error) {
	p := e.pending
	if p == nil || e.state != StateAwaitingAck || p.Seq != seq {
		return Attempt{}, ErrNoPending
	}
	if p.Attempt+1 >= e.cfg.MaxAttempts {
		e.pending = nil
		e.state = StateFailed
		observability.RecordDelivery("exhausted")
		return Attempt{}, fmt.Errorf("%w (%d attempts)", ErrExhausted, e.cfg.MaxAttempts)
	}

	p.Attempt++
	e.state = StateRetrying
	fellBack := false
	if p.Attempt >= e.cfg.FallbackThreshold {
		if _, ok := p.Recipient.OutPath(); ok {
			fellBack = true
		}
		p.Recipient.ResetPath()
	}
	e.state = StateSending
	return e.attempt(fellBack)
}

// ValidateText checks text against a length budget.
func ValidateText(text string, budget int) error {
	if len(text) == 0 {
		return ErrEmptyText
	}
	if len(text) > budget {
		return fmt.Errorf("%w (%d/%d chars)", ErrTextTooLong, len(text), budget)
	}
	return nil
}
