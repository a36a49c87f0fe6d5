package identity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func TestSignVerify(t *testing.T) {
	testlog.Start(t)

	l, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sig := l.Sign([]byte("advert"))
	if len(sig) != SignatureSize {
		t.Fatalf("unexpected signature size: %d", len(sig))
	}
	peer, err := FromPublicKey(l.PublicKey())
	if err != nil {
		t.Fatalf("from public key: %v", err)
	}
	if !peer.Verify([]byte("advert"), sig) {
		t.Fatalf("signature did not verify")
	}
	if peer.Verify([]byte("advert!"), sig) {
		t.Fatalf("signature verified over different message")
	}
	if peer.Verify([]byte("advert"), sig[:10]) {
		t.Fatalf("short signature verified")
	}
}

func TestSharedSecretAgrees(t *testing.T) {
	testlog.Start(t)

	a, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	ab, err := a.SharedSecret(b.PublicKey())
	if err != nil {
		t.Fatalf("a->b: %v", err)
	}
	ba, err := b.SharedSecret(a.PublicKey())
	if err != nil {
		t.Fatalf("b->a: %v", err)
	}
	if len(ab) != SecretSize || !bytes.Equal(ab, ba) {
		t.Fatalf("secrets differ: %x vs %x", ab, ba)
	}
	if _, err := a.SharedSecret([]byte{1, 2, 3}); !errors.Is(err, ErrBadPublicKey) {
		t.Fatalf("expected ErrBadPublicKey, got %v", err)
	}
}

func TestGenerateAvoidsReservedHash(t *testing.T) {
	testlog.Start(t)

	for i := 0; i < 20; i++ {
		l, err := Generate(nil)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if reservedHash(l.Hash()) {
			t.Fatalf("generated reserved hash 0x%02x", l.Hash())
		}
	}
}

func TestFromPrivateKeyRejectsMismatch(t *testing.T) {
	testlog.Start(t)

	l, err := Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw := l.PrivateKey()
	again, err := FromPrivateKey(raw)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.PubKey != l.PubKey {
		t.Fatalf("public key changed on reload")
	}
	raw[40] ^= 0xFF
	if _, err := FromPrivateKey(raw); !errors.Is(err, ErrBadPrivateKey) {
		t.Fatalf("expected ErrBadPrivateKey, got %v", err)
	}
}

func TestStoreLoadOrCreate(t *testing.T) {
	testlog.Start(t)

	dir := filepath.Join(t.TempDir(), "identity")
	s := NewStore(dir)
	if _, err := s.Load("_main"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	first, created, err := s.LoadOrCreate("_main")
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	second, created, err := s.LoadOrCreate("_main")
	if err != nil || created {
		t.Fatalf("reload: created=%v err=%v", created, err)
	}
	if first.PubKey != second.PubKey {
		t.Fatalf("identity changed across reload")
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.id"), []byte("short"), 0o600); err != nil {
		t.Fatalf("write bad file: %v", err)
	}
	if _, err := s.Load("bad"); !errors.Is(err, ErrBadPrivateKey) {
		t.Fatalf("expected ErrBadPrivateKey, got %v", err)
	}
}
