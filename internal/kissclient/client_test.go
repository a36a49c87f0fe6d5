package kissclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/mesh"
	"github.com/danmuck/meshmodem/internal/modem"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

var _ mesh.Link = (*Client)(nil)

type rig struct {
	client *Client
	id     *identity.Local
	peer   *radio.MemRadio
	cancel context.CancelFunc
}

func startRig(t *testing.T) *rig {
	t.Helper()
	id, err := identity.Generate(nil)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	air := radio.NewMemAir(radio.DefaultParams())
	modemRadio, peer := air.Attach(), air.Attach()
	host, port := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	m := modem.New(modem.DefaultConfig(), id, modemRadio, port)
	go func() { _ = m.Run(ctx) }()

	c := New(host, Config{Timeout: 500 * time.Millisecond})
	go func() { _ = c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		host.Close()
		port.Close()
	})
	return &rig{client: c, id: id, peer: peer, cancel: cancel}
}

func TestCryptoRequests(t *testing.T) {
	testlog.Start(t)

	r := startRig(t)
	ctx := context.Background()

	pub, err := r.client.Identity(ctx)
	if err != nil || !bytes.Equal(pub, r.id.PublicKey()) {
		t.Fatalf("identity mismatch err=%v", err)
	}

	sig, err := r.client.Sign(ctx, []byte("payload"))
	if err != nil || !r.id.Verify([]byte("payload"), sig) {
		t.Fatalf("signature did not verify err=%v", err)
	}

	key := bytes.Repeat([]byte{0x11}, 16)
	ct, err := r.client.Encrypt(ctx, key, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := r.client.Decrypt(ctx, key, ct)
	if err != nil || !bytes.HasPrefix(pt, []byte("secret")) {
		t.Fatalf("decrypt: %v pt=%q", err, pt)
	}

	ct[0] ^= 0xFF
	if _, err := r.client.Decrypt(ctx, key, ct); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("bad mac should time out with ErrNoResponse, got %v", err)
	}

	sum, err := r.client.Hash(ctx, []byte("abc"))
	want := sha256.Sum256([]byte("abc"))
	if err != nil || !bytes.Equal(sum, want[:]) {
		t.Fatalf("hash mismatch err=%v", err)
	}

	peer, _ := identity.Generate(nil)
	secret, err := r.client.KeyExchange(ctx, peer.PublicKey())
	expected, _ := peer.SharedSecret(r.id.PublicKey())
	if err != nil || !bytes.Equal(secret, expected) {
		t.Fatalf("key exchange mismatch err=%v", err)
	}

	if _, err := r.client.Encrypt(ctx, key[:8], nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestPacketLink(t *testing.T) {
	testlog.Start(t)

	r := startRig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, _ := packet.New(packet.RouteFlood, packet.PayloadGrpTxt, []byte("hello air")).Marshal()
	if err := r.client.Transmit(ctx, out); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	heard, err := r.peer.Receive(ctx)
	if err != nil || !bytes.Equal(heard.Data, out) {
		t.Fatalf("peer did not hear packet err=%v", err)
	}

	in, _ := packet.New(packet.RouteFlood, packet.PayloadAdvert, []byte{0xC0, 0xC0}).Marshal()
	if err := r.peer.Transmit(ctx, in); err != nil {
		t.Fatalf("peer transmit: %v", err)
	}
	rx, err := r.client.Receive(ctx)
	if err != nil || !bytes.Equal(rx.Data, in) {
		t.Fatalf("client did not receive packet err=%v data=%x", err, rx.Data)
	}
}

func TestRemoteIdentity(t *testing.T) {
	testlog.Start(t)

	r := startRig(t)
	remote, err := RemoteIdentity(context.Background(), r.client)
	if err != nil {
		t.Fatalf("remote identity: %v", err)
	}
	if !bytes.Equal(remote.PublicKey(), r.id.PublicKey()) {
		t.Fatalf("public key mismatch")
	}
	sig, err := remote.Sign([]byte("advert"))
	if err != nil || !r.id.Verify([]byte("advert"), sig) {
		t.Fatalf("remote signature did not verify err=%v", err)
	}

	peer, err := identity.Generate(nil)
	if err != nil {
		t.Fatalf("generate peer: %v", err)
	}
	got, err := remote.SharedSecret(peer.PublicKey())
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	want, _ := peer.SharedSecret(r.id.PublicKey())
	if !bytes.Equal(got, want) {
		t.Fatalf("shared secret mismatch got=%x want=%x", got, want)
	}
}
