package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/meshmodem/internal/chat"
	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/meshcrypto"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

type fakeModem struct {
	rx chan radio.Received
}

func (f *fakeModem) Receive(ctx context.Context) (radio.Received, error) {
	select {
	case <-ctx.Done():
		return radio.Received{}, ctx.Err()
	case r, ok := <-f.rx:
		if !ok {
			return radio.Received{}, radio.ErrClosed
		}
		return r, nil
	}
}

func (f *fakeModem) Hash(_ context.Context, data []byte) ([]byte, error) {
	sum := meshcrypto.SHA256(data)
	return sum[:], nil
}

func (f *fakeModem) Decrypt(_ context.Context, key, data []byte) ([]byte, error) {
	k := meshcrypto.PadKey(key)
	return meshcrypto.MACThenDecrypt(k[:], data)
}

func marshal(t *testing.T, pkt *packet.Packet) []byte {
	t.Helper()
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestMonitorDecodesTraffic(t *testing.T) {
	testlog.Start(t)

	id, err := identity.Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ch, err := meshcrypto.NewChannel(chat.PublicName, meshcrypto.PublicChannelKey)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	advPayload, err := chat.BuildAdvert(chat.LocalIdentity(id), 1700000000, chat.AppData{Type: chat.AdvertChat, Name: "alice"})
	if err != nil {
		t.Fatalf("advert: %v", err)
	}
	sealed, err := chat.Seal(ch.Secret[:], chat.Plaintext{Timestamp: 1700000001, Text: "alice: hello"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	bad := append([]byte(nil), advPayload...)
	bad[40] ^= 0xFF

	fake := &fakeModem{rx: make(chan radio.Received, 4)}
	fake.rx <- radio.Received{Data: marshal(t, packet.New(packet.RouteFlood, packet.PayloadAdvert, advPayload)), RSSI: -90, SNR: 6}
	grp := packet.New(packet.RouteFlood, packet.PayloadGrpTxt, chat.GroupPayload(ch, sealed))
	grp.Path = []byte{7, 8}
	fake.rx <- radio.Received{Data: marshal(t, grp)}
	fake.rx <- radio.Received{Data: marshal(t, packet.New(packet.RouteFlood, packet.PayloadAdvert, bad))}
	fake.rx <- radio.Received{Data: marshal(t, packet.New(packet.RouteDirect, packet.PayloadAck, chat.AckPayload(1)))}
	close(fake.rx)

	var capBuf bytes.Buffer
	capture, err := radio.NewCapture(&capBuf)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	headerLen := capBuf.Len()

	m, err := New(context.Background(), fake, meshcrypto.PublicChannelKey, capture)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if m.ChannelHash() != ch.Hash {
		t.Fatalf("channel hash got=%#x want=%#x", m.ChannelHash(), ch.Hash)
	}

	var got []Record
	err = m.Run(context.Background(), func(r Record) { got = append(got, r) })
	if !errors.Is(err, radio.ErrClosed) {
		t.Fatalf("run must end with the modem error, got %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 records, got %d", len(got))
	}

	if r := got[0]; r.Kind != RecordAdvert || !r.Valid || r.Name != "alice" || r.Timestamp != 1700000000 || r.RSSI != -90 || !r.FirstSeen {
		t.Fatalf("advert record got=%+v", r)
	}
	if r := got[1]; r.Kind != RecordChannel || r.Text != "alice: hello" || r.Hops != 2 {
		t.Fatalf("channel record got=%+v", r)
	}
	if r := got[2]; r.Kind != RecordAdvert || r.Valid || !errors.Is(r.Err, chat.ErrBadSignature) {
		t.Fatalf("tampered advert got=%+v", r)
	}
	if r := got[3]; r.Kind != RecordOther || r.Payload != packet.PayloadAck {
		t.Fatalf("ack record got=%+v", r)
	}
	if !strings.Contains(got[1].String(), "alice: hello") || !strings.Contains(got[2].String(), "rejected") {
		t.Fatalf("record strings: %q %q", got[1].String(), got[2].String())
	}
	if capBuf.Len() <= headerLen {
		t.Fatalf("capture recorded nothing")
	}
}

func TestNewRejectsBadKey(t *testing.T) {
	testlog.Start(t)

	if _, err := New(context.Background(), &fakeModem{}, "not base64!", nil); err == nil {
		t.Fatalf("bad channel key must fail")
	}
}
