// Package meshcrypto holds the symmetric primitives shared by the modem and
// the chat client: block cipher with truncated MAC, and SHA-256 helpers.
package meshcrypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-128 key width.
	KeySize = 16
	// SecretSize is the full shared-secret width; the MAC keys on all of it.
	SecretSize = 32
	MACSize    = 2
	BlockSize  = aes.BlockSize
)

var (
	ErrShortSecret = errors.New("meshcrypto: secret shorter than cipher key")
	ErrShortInput  = errors.New("meshcrypto: input too short")
	ErrBadMAC      = errors.New("meshcrypto: mac mismatch")
	ErrBadLength   = errors.New("meshcrypto: ciphertext not block aligned")
)

// PadKey widens a 16-byte channel key to a 32-byte secret with zero fill.
func PadKey(key []byte) [SecretSize]byte {
	var out [SecretSize]byte
	copy(out[:], key)
	return out
}

// Encrypt zero-pads plain to a block multiple and encrypts each block
// independently with secret[:16].
func Encrypt(secret, plain []byte) ([]byte, error) {
	if len(secret) < KeySize {
		return nil, ErrShortSecret
	}
	block, err := aes.NewCipher(secret[:KeySize])
	if err != nil {
		return nil, fmt.Errorf("meshcrypto: %w", err)
	}
	n := (len(plain) + BlockSize - 1) / BlockSize * BlockSize
	if n == 0 {
		n = BlockSize
	}
	buf := make([]byte, n)
	copy(buf, plain)
	for i := 0; i < n; i += BlockSize {
		block.Encrypt(buf[i:i+BlockSize], buf[i:i+BlockSize])
	}
	return buf, nil
}

// Decrypt reverses Encrypt. Zero padding is left in place.
func Decrypt(secret, cipherText []byte) ([]byte, error) {
	if len(secret) < KeySize {
		return nil, ErrShortSecret
	}
	if len(cipherText) == 0 || len(cipherText)%BlockSize != 0 {
		return nil, ErrBadLength
	}
	block, err := aes.NewCipher(secret[:KeySize])
	if err != nil {
		return nil, fmt.Errorf("meshcrypto: %w", err)
	}
	out := make([]byte, len(cipherText))
	for i := 0; i < len(out); i += BlockSize {
		block.Decrypt(out[i:i+BlockSize], cipherText[i:i+BlockSize])
	}
	return out, nil
}

func mac(secret, data []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)[:MACSize]
}

// EncryptThenMAC returns mac || ciphertext.
func EncryptThenMAC(secret, plain []byte) ([]byte, error) {
	ct, err := Encrypt(secret, plain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, MACSize+len(ct))
	out = append(out, mac(secret, ct)...)
	return append(out, ct...), nil
}

// MACThenDecrypt verifies the leading MAC and decrypts the remainder.
func MACThenDecrypt(secret, data []byte) ([]byte, error) {
	if len(data) <= MACSize {
		return nil, ErrShortInput
	}
	ct := data[MACSize:]
	if !hmac.Equal(mac(secret, ct), data[:MACSize]) {
		return nil, ErrBadMAC
	}
	return Decrypt(secret, ct)
}

func SHA256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Channel is a group key plus its one-byte on-air identifier.
type Channel struct {
	Name   string
	Secret [SecretSize]byte
	Hash   byte
}

// PublicChannelKey is the well-known base64 key of the default public channel.
const PublicChannelKey = "izOH6cXN6mrJ5e26oRXNcg=="

// NewChannel builds a channel from a base64 16 or 32 byte key.
func NewChannel(name, b64 string) (Channel, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Channel{}, fmt.Errorf("meshcrypto: channel %q key: %w", name, err)
	}
	if len(key) != KeySize && len(key) != SecretSize {
		return Channel{}, fmt.Errorf("meshcrypto: channel %q key must be 16 or 32 bytes, got %d", name, len(key))
	}
	digest := SHA256(key)
	return Channel{Name: name, Secret: PadKey(key), Hash: digest[0]}, nil
}

// DedupKey is the two-byte identifier substituted for a sender key when
// fingerprinting channel messages.
func (c Channel) DedupKey() []byte {
	return []byte{c.Hash, c.Secret[0]}
}
