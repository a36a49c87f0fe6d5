package radio

import (
	"context"
	"sync"
	"time"
)

// MemAir is an in-process shared channel. Every packet transmitted by one
// attached radio is delivered to all others.
type MemAir struct {
	mu     sync.Mutex
	radios []*MemRadio
	params Params
	// Realtime makes Transmit sleep for the packet airtime.
	Realtime bool
	// Drop, when set, filters deliveries; returning true loses the packet.
	Drop func(from, to int, data []byte) bool
}

func NewMemAir(params Params) *MemAir {
	return &MemAir{params: params}
}

// Attach adds a radio to the channel.
func (a *MemAir) Attach() *MemRadio {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &MemRadio{
		air:    a,
		id:     len(a.radios),
		rx:     make(chan Received, 64),
		closed: make(chan struct{}),
	}
	a.radios = append(a.radios, r)
	return r
}

func (a *MemAir) deliver(from *MemRadio, data []byte) {
	a.mu.Lock()
	peers := append([]*MemRadio(nil), a.radios...)
	drop := a.Drop
	a.mu.Unlock()

	for _, r := range peers {
		if r == from {
			continue
		}
		if drop != nil && drop(from.id, r.id, data) {
			continue
		}
		pkt := Received{Data: append([]byte(nil), data...), RSSI: -60, SNR: 9.5, At: time.Now()}
		select {
		case r.rx <- pkt:
		case <-r.closed:
		default:
			// receiver backlog full: the packet is lost like a collision
		}
	}
}

// MemRadio is one node's view of a MemAir.
type MemRadio struct {
	air       *MemAir
	id        int
	rx        chan Received
	closeOnce sync.Once
	closed    chan struct{}
}

func (r *MemRadio) ID() int {
	return r.id
}

func (r *MemRadio) Params() Params {
	return r.air.params
}

func (r *MemRadio) Transmit(ctx context.Context, data []byte) error {
	if len(data) > MaxPacket {
		return ErrTooLarge
	}
	select {
	case <-r.closed:
		return ErrClosed
	default:
	}
	if r.air.Realtime {
		t := time.NewTimer(r.air.params.Airtime(len(data)))
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	r.air.deliver(r, data)
	return nil
}

func (r *MemRadio) Receive(ctx context.Context) (Received, error) {
	select {
	case <-ctx.Done():
		return Received{}, ctx.Err()
	case <-r.closed:
		return Received{}, ErrClosed
	case pkt := <-r.rx:
		return pkt, nil
	}
}

func (r *MemRadio) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
