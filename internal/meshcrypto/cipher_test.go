package meshcrypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex %q: %v", s, err)
	}
	return b
}

func TestEncryptKnownBlock(t *testing.T) {
	testlog.Start(t)

	key := PadKey(mustHex(t, "000102030405060708090a0b0c0d0e0f"))
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	ct, err := Encrypt(key[:], plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !bytes.Equal(ct, mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")) {
		t.Fatalf("unexpected ciphertext: %x", ct)
	}

	out, err := EncryptThenMAC(key[:], plain)
	if err != nil {
		t.Fatalf("encrypt then mac: %v", err)
	}
	if !bytes.Equal(out[:MACSize], mustHex(t, "3a43")) {
		t.Fatalf("unexpected mac: %x", out[:MACSize])
	}
}

func TestEncryptThenMACRoundTrip(t *testing.T) {
	testlog.Start(t)

	secret := PadKey([]byte("0123456789abcdef"))
	plain := []byte("hello mesh, this spans more than one block")
	wire, err := EncryptThenMAC(secret[:], plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if (len(wire)-MACSize)%BlockSize != 0 {
		t.Fatalf("ciphertext not block aligned: %d", len(wire))
	}
	got, err := MACThenDecrypt(secret[:], wire)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(bytes.TrimRight(got, "\x00"), plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestMACThenDecryptRejectsTamper(t *testing.T) {
	testlog.Start(t)

	secret := PadKey([]byte("0123456789abcdef"))
	wire, err := EncryptThenMAC(secret[:], []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	wire[len(wire)-1] ^= 0x01
	if _, err := MACThenDecrypt(secret[:], wire); !errors.Is(err, ErrBadMAC) {
		t.Fatalf("expected ErrBadMAC, got %v", err)
	}
	if _, err := MACThenDecrypt(secret[:], []byte{1, 2}); !errors.Is(err, ErrShortInput) {
		t.Fatalf("expected ErrShortInput, got %v", err)
	}
	if _, err := Encrypt([]byte("short"), []byte("x")); !errors.Is(err, ErrShortSecret) {
		t.Fatalf("expected ErrShortSecret, got %v", err)
	}
}

func TestPublicChannel(t *testing.T) {
	testlog.Start(t)

	ch, err := NewChannel("Public", PublicChannelKey)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if ch.Hash != 0x11 {
		t.Fatalf("unexpected channel hash: 0x%02x", ch.Hash)
	}
	if !bytes.Equal(ch.Secret[:KeySize], mustHex(t, "8b3387e9c5cdea6ac9e5edbaa115cd72")) {
		t.Fatalf("unexpected channel key: %x", ch.Secret)
	}
	if !bytes.Equal(ch.Secret[KeySize:], make([]byte, KeySize)) {
		t.Fatalf("expected zero padded secret")
	}
	if !bytes.Equal(ch.DedupKey(), []byte{0x11, 0x8b}) {
		t.Fatalf("unexpected dedup key: %x", ch.DedupKey())
	}
	if _, err := NewChannel("bad", "AAAA"); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestSHA256Parts(t *testing.T) {
	testlog.Start(t)

	got := SHA256([]byte("a"), []byte("bc"))
	if hex.EncodeToString(got[:]) != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest: %x", got)
	}
}
