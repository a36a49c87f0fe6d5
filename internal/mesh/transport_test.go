package mesh

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func TestSenderRouteRewriting(t *testing.T) {
	testlog.Start(t)

	air := radio.NewMemAir(radio.DefaultParams())
	a, b := air.Attach(), air.Attach()
	s := NewSender(a, radio.DefaultParams())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pkt := packet.New(packet.RouteDirect, packet.PayloadTxtMsg, []byte("x"))
	pkt.Path = []byte{9, 9}
	if err := s.SendFlood(ctx, pkt); err != nil {
		t.Fatalf("flood: %v", err)
	}
	got, err := Receive(ctx, b)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !got.IsRouteFlood() || len(got.Path) != 0 || got.RSSI == 0 {
		t.Fatalf("flood should clear the path, got=%+v", got)
	}

	if err := s.SendDirect(ctx, pkt, []byte{1, 2, 3}); err != nil {
		t.Fatalf("direct: %v", err)
	}
	got, _ = Receive(ctx, b)
	if !got.IsRouteDirect() || !bytes.Equal(got.Path, []byte{1, 2, 3}) {
		t.Fatalf("direct should carry the path, got=%+v", got)
	}

	if err := s.SendDirect(ctx, pkt, nil); err != nil {
		t.Fatalf("zero hop: %v", err)
	}
	got, _ = Receive(ctx, b)
	if !got.IsRouteDirect() || len(got.Path) != 0 {
		t.Fatalf("empty path should be a zero-hop direct send, got=%+v", got)
	}
}

func TestSenderRejectsOversizePath(t *testing.T) {
	testlog.Start(t)

	air := radio.NewMemAir(radio.DefaultParams())
	s := NewSender(air.Attach(), radio.DefaultParams())
	pkt := packet.New(packet.RouteDirect, packet.PayloadTxtMsg, nil)
	if err := s.SendDirect(context.Background(), pkt, make([]byte, packet.MaxPathSize+1)); !errors.Is(err, packet.ErrPathTooLong) {
		t.Fatalf("expected ErrPathTooLong, got %v", err)
	}
	if err := s.SendFlood(context.Background(), nil); !errors.Is(err, ErrNilPacket) {
		t.Fatalf("expected ErrNilPacket, got %v", err)
	}
}

func TestReceiveSkipsMalformed(t *testing.T) {
	testlog.Start(t)

	air := radio.NewMemAir(radio.DefaultParams())
	a, b := air.Attach(), air.Attach()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Transmit(ctx, []byte{0x05}); err != nil {
		t.Fatalf("transmit junk: %v", err)
	}
	good := packet.New(packet.RouteFlood, packet.PayloadAdvert, []byte{1, 2})
	raw, _ := good.Marshal()
	if err := a.Transmit(ctx, raw); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	got, err := Receive(ctx, b)
	if err != nil || got.PayloadType() != packet.PayloadAdvert {
		t.Fatalf("expected advert after junk, got=%+v err=%v", got, err)
	}
}

func TestReversePath(t *testing.T) {
	testlog.Start(t)

	if got := ReversePath([]byte{1, 2, 3}); !bytes.Equal(got, []byte{3, 2, 1}) {
		t.Fatalf("got=%v", got)
	}
	if got := ReversePath(nil); len(got) != 0 {
		t.Fatalf("got=%v", got)
	}
}
