package chat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/meshcrypto"
)

// Identity is the node's key material. It is either held in process or
// delegated to a KISS modem.
type Identity interface {
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
	SharedSecret(peer []byte) ([]byte, error)
}

type localIdentity struct {
	*identity.Local
}

func (l localIdentity) Sign(msg []byte) ([]byte, error) {
	return l.Local.Sign(msg), nil
}

// LocalIdentity adapts an in-process key pair.
func LocalIdentity(l *identity.Local) Identity {
	return localIdentity{l}
}

const (
	// TxtPlain is the only text type this node renders.
	TxtPlain = 0

	attemptMask = 0x03
	ackSize     = 4
	sealHeader  = 4 + 1
)

var ErrBadMessage = errors.New("chat: malformed message")

// TextFlags packs the text type and the attempt counter.
func TextFlags(txtType uint8, attempt uint8) byte {
	return txtType<<2 | attempt&attemptMask
}

// AckCode correlates a text message with its acknowledgement. senderPub is
// the key of the node that sent the text.
func AckCode(ts uint32, flags byte, text string, senderPub []byte) uint32 {
	var hdr [sealHeader]byte
	binary.LittleEndian.PutUint32(hdr[:], ts)
	hdr[4] = flags
	sum := meshcrypto.SHA256(hdr[:], []byte(text), senderPub)
	return binary.LittleEndian.Uint32(sum[:4])
}

// Plaintext is the decrypted body shared by direct and channel texts.
type Plaintext struct {
	Timestamp uint32
	Flags     byte
	Text      string
}

func (p Plaintext) Attempt() uint8 {
	return p.Flags & attemptMask
}

func (p Plaintext) Type() uint8 {
	return p.Flags >> 2
}

// Seal encrypts ts||flags||text under secret.
func Seal(secret []byte, p Plaintext) ([]byte, error) {
	plain := make([]byte, 0, sealHeader+len(p.Text))
	plain = binary.LittleEndian.AppendUint32(plain, p.Timestamp)
	plain = append(plain, p.Flags)
	plain = append(plain, p.Text...)
	return meshcrypto.EncryptThenMAC(secret, plain)
}

// Open verifies and decrypts a sealed body. Zero padding after the text
// is stripped.
func Open(secret, data []byte) (Plaintext, error) {
	plain, err := meshcrypto.MACThenDecrypt(secret, data)
	if err != nil {
		return Plaintext{}, err
	}
	return ParsePlaintext(plain)
}

// ParsePlaintext decodes an already decrypted body. Zero padding after the
// text is dropped.
func ParsePlaintext(plain []byte) (Plaintext, error) {
	if len(plain) < sealHeader {
		return Plaintext{}, fmt.Errorf("%w: %d byte body", ErrBadMessage, len(plain))
	}
	text := plain[sealHeader:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return Plaintext{
		Timestamp: binary.LittleEndian.Uint32(plain),
		Flags:     plain[4],
		Text:      string(text),
	}, nil
}

// DirectPayload is dest_hash || src_hash || sealed.
func DirectPayload(dest, src byte, sealed []byte) []byte {
	out := make([]byte, 0, 2+len(sealed))
	out = append(out, dest, src)
	return append(out, sealed...)
}

func SplitDirect(payload []byte) (dest, src byte, sealed []byte, err error) {
	if len(payload) < 2+meshcrypto.MACSize+meshcrypto.BlockSize {
		return 0, 0, nil, fmt.Errorf("%w: %d byte direct payload", ErrBadMessage, len(payload))
	}
	return payload[0], payload[1], payload[2:], nil
}

// GroupPayload is channel_hash || sealed.
func GroupPayload(ch meshcrypto.Channel, sealed []byte) []byte {
	return append([]byte{ch.Hash}, sealed...)
}

func SplitGroup(payload []byte) (byte, []byte, error) {
	if len(payload) < 1+meshcrypto.MACSize+meshcrypto.BlockSize {
		return 0, nil, fmt.Errorf("%w: %d byte group payload", ErrBadMessage, len(payload))
	}
	return payload[0], payload[1:], nil
}

func AckPayload(code uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, code)
}

func ParseAck(payload []byte) (uint32, error) {
	if len(payload) < ackSize {
		return 0, fmt.Errorf("%w: %d byte ack", ErrBadMessage, len(payload))
	}
	return binary.LittleEndian.Uint32(payload), nil
}
