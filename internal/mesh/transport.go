// Package mesh moves mesh packets between a node and its link to the air.
//
// A Link is either a radio driven in-process or a KISS modem on a serial
// port; Sender applies route rewriting on top of it. Path discovery and
// repeating are not done here.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
)

var ErrNilPacket = errors.New("mesh: nil packet")

// Transmitter puts raw serialized packets on air.
type Transmitter interface {
	Transmit(ctx context.Context, data []byte) error
}

// Link sends and receives raw serialized packets.
type Link interface {
	Transmitter
	Receive(ctx context.Context) (radio.Received, error)
}

// Transport sends a packet by one of the three route modes.
type Transport interface {
	SendFlood(ctx context.Context, pkt *packet.Packet) error
	// SendDirect follows path; an empty path is a zero-hop send.
	SendDirect(ctx context.Context, pkt *packet.Packet, path []byte) error
	SendZeroHop(ctx context.Context, pkt *packet.Packet) error
}

// Sender implements Transport over a Transmitter.
type Sender struct {
	link   Transmitter
	params radio.Params
}

func NewSender(link Transmitter, params radio.Params) *Sender {
	return &Sender{link: link, params: params}
}

// Airtime estimates how long pkt occupies the channel.
func (s *Sender) Airtime(pkt *packet.Packet) time.Duration {
	return s.params.Airtime(pkt.Len())
}

func (s *Sender) SendFlood(ctx context.Context, pkt *packet.Packet) error {
	if pkt == nil {
		return ErrNilPacket
	}
	pkt.SetRoute(packet.RouteFlood)
	pkt.Path = pkt.Path[:0]
	return s.send(ctx, pkt)
}

func (s *Sender) SendDirect(ctx context.Context, pkt *packet.Packet, path []byte) error {
	if pkt == nil {
		return ErrNilPacket
	}
	if len(path) == 0 {
		return s.SendZeroHop(ctx, pkt)
	}
	if len(path) > packet.MaxPathSize {
		return packet.ErrPathTooLong
	}
	pkt.SetRoute(packet.RouteDirect)
	pkt.Path = append(pkt.Path[:0], path...)
	return s.send(ctx, pkt)
}

func (s *Sender) SendZeroHop(ctx context.Context, pkt *packet.Packet) error {
	if pkt == nil {
		return ErrNilPacket
	}
	pkt.SetRoute(packet.RouteDirect)
	pkt.Path = pkt.Path[:0]
	return s.send(ctx, pkt)
}

func (s *Sender) send(ctx context.Context, pkt *packet.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("mesh: encode %s: %w", pkt.PayloadType(), err)
	}
	log.Trace().
		Str("type", pkt.PayloadType().String()).
		Str("route", pkt.RouteType().String()).
		Int("hops", len(pkt.Path)).
		Int("len", len(raw)).
		Msg("mesh: tx")
	if err := s.link.Transmit(ctx, raw); err != nil {
		return fmt.Errorf("mesh: transmit: %w", err)
	}
	return nil
}

// Receive blocks for the next well-formed packet. Malformed packets are
// skipped.
func Receive(ctx context.Context, link Link) (*packet.Packet, error) {
	for {
		rx, err := link.Receive(ctx)
		if err != nil {
			return nil, err
		}
		pkt, err := packet.Parse(rx.Data)
		if err != nil {
			log.Debug().Err(err).Int("len", len(rx.Data)).Msg("mesh: dropping malformed packet")
			continue
		}
		pkt.RSSI = rx.RSSI
		pkt.SNR = rx.SNR
		return pkt, nil
	}
}

// ReversePath turns the path a flood packet accumulated into the path
// back to its origin.
func ReversePath(path []byte) []byte {
	out := make([]byte, len(path))
	for i, h := range path {
		out[len(path)-1-i] = h
	}
	return out
}
