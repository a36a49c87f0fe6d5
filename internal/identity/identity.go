package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

const (
	PubKeySize    = ed25519.PublicKeySize
	PrvKeySize    = ed25519.PrivateKeySize
	SignatureSize = ed25519.SignatureSize
	SecretSize    = curve25519.PointSize

	// regenerateLimit bounds retries while the key hash is reserved.
	regenerateLimit = 10
)

var (
	ErrBadPublicKey  = errors.New("identity: invalid public key")
	ErrBadPrivateKey = errors.New("identity: invalid private key")
)

// Identity is a peer's public half.
type Identity struct {
	PubKey [PubKeySize]byte
}

func FromPublicKey(pub []byte) (Identity, error) {
	if len(pub) != PubKeySize {
		return Identity{}, fmt.Errorf("%w: length %d", ErrBadPublicKey, len(pub))
	}
	var id Identity
	copy(id.PubKey[:], pub)
	return id, nil
}

// Hash is the one-byte on-air address of the identity.
func (id Identity) Hash() byte {
	return id.PubKey[0]
}

func (id Identity) Verify(msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(id.PubKey[:], msg, sig)
}

func (id Identity) String() string {
	return hex.EncodeToString(id.PubKey[:])
}

// Local is the node's own signing and key-agreement identity.
type Local struct {
	Identity
	prv ed25519.PrivateKey
}

// Generate creates a fresh identity, retrying while the public key starts
// with a reserved hash byte (0x00 or 0xFF).
func Generate(r io.Reader) (*Local, error) {
	if r == nil {
		r = rand.Reader
	}
	var (
		l   *Local
		err error
	)
	for i := 0; i <= regenerateLimit; i++ {
		var pub ed25519.PublicKey
		var prv ed25519.PrivateKey
		pub, prv, err = ed25519.GenerateKey(r)
		if err != nil {
			return nil, fmt.Errorf("identity: generate: %w", err)
		}
		l = &Local{prv: prv}
		copy(l.PubKey[:], pub)
		if !reservedHash(l.Hash()) {
			break
		}
	}
	return l, nil
}

func reservedHash(h byte) bool {
	return h == 0x00 || h == 0xFF
}

// FromPrivateKey loads a 64-byte seed||public key.
func FromPrivateKey(prv []byte) (*Local, error) {
	if len(prv) != PrvKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrBadPrivateKey, len(prv))
	}
	key := ed25519.NewKeyFromSeed(prv[:ed25519.SeedSize])
	l := &Local{prv: key}
	copy(l.PubKey[:], key.Public().(ed25519.PublicKey))
	if string(l.PubKey[:]) != string(prv[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrBadPrivateKey)
	}
	return l, nil
}

// PrivateKey returns a copy of the 64-byte private key.
func (l *Local) PrivateKey() []byte {
	return append([]byte(nil), l.prv...)
}

func (l *Local) PublicKey() []byte {
	return append([]byte(nil), l.PubKey[:]...)
}

func (l *Local) Sign(msg []byte) []byte {
	return ed25519.Sign(l.prv, msg)
}

// SharedSecret derives the X25519 secret with a peer's Ed25519 public key.
// Both sides reach the same value from their own private key.
func (l *Local) SharedSecret(peer []byte) ([]byte, error) {
	if len(peer) != PubKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrBadPublicKey, len(peer))
	}
	p, err := new(edwards25519.Point).SetBytes(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	secret, err := curve25519.X25519(l.scalar(), p.BytesMontgomery())
	if err != nil {
		return nil, fmt.Errorf("identity: key exchange: %w", err)
	}
	return secret, nil
}

// scalar is the clamped Ed25519 signing scalar reused as an X25519 key.
func (l *Local) scalar() []byte {
	h := sha512.Sum512(l.prv[:ed25519.SeedSize])
	s := h[:32]
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s
}

// Check signs and verifies a probe message.
func (l *Local) Check() error {
	probe := []byte("identity self-test")
	if !l.Verify(probe, l.Sign(probe)) {
		return fmt.Errorf("%w: self-test failed", ErrBadPrivateKey)
	}
	return nil
}
