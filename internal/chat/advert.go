package chat

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
)

type AdvertType uint8

const (
	AdvertNone AdvertType = iota
	AdvertChat
	AdvertRepeater
	AdvertRoom
	AdvertSensor
)

func (t AdvertType) String() string {
	switch t {
	case AdvertChat:
		return "chat"
	case AdvertRepeater:
		return "repeater"
	case AdvertRoom:
		return "room"
	case AdvertSensor:
		return "sensor"
	default:
		return "none"
	}
}

const (
	advertTypeMask = 0x0F
	flagLocation   = 0x10
	flagName       = 0x80

	advertHeader = identity.PubKeySize + 4 + identity.SignatureSize

	// CardScheme prefixes a hex encoded advert packet.
	CardScheme = "meshcore://"
)

var (
	ErrBadAdvert    = errors.New("chat: malformed advert")
	ErrBadSignature = errors.New("chat: advert signature invalid")
	ErrBadCard      = errors.New("chat: invalid card")
)

// AppData is the self-description carried after the advert signature.
type AppData struct {
	Type     AdvertType
	HasLoc   bool
	Lat, Lon float64
	Name     string
}

func (a AppData) Flags() byte {
	f := byte(a.Type) & advertTypeMask
	if a.HasLoc {
		f |= flagLocation
	}
	if a.Name != "" {
		f |= flagName
	}
	return f
}

func (a AppData) Marshal() []byte {
	out := []byte{a.Flags()}
	if a.HasLoc {
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(math.Round(a.Lat*1e6))))
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(math.Round(a.Lon*1e6))))
	}
	return append(out, a.Name...)
}

func ParseAppData(b []byte) (AppData, error) {
	if len(b) == 0 {
		return AppData{}, fmt.Errorf("%w: empty app data", ErrBadAdvert)
	}
	flags := b[0]
	a := AppData{Type: AdvertType(flags & advertTypeMask)}
	rest := b[1:]
	if flags&flagLocation != 0 {
		if len(rest) < 8 {
			return AppData{}, fmt.Errorf("%w: short location", ErrBadAdvert)
		}
		a.HasLoc = true
		a.Lat = float64(int32(binary.LittleEndian.Uint32(rest))) / 1e6
		a.Lon = float64(int32(binary.LittleEndian.Uint32(rest[4:]))) / 1e6
		rest = rest[8:]
	}
	if flags&flagName != 0 {
		name := string(rest)
		if i := strings.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if len(name) > MaxNameLen {
			name = name[:MaxNameLen]
		}
		a.Name = name
	}
	return a, nil
}

// Advert is a signed identity announcement.
type Advert struct {
	ID        identity.Identity
	Timestamp uint32
	Signature []byte
	AppData   AppData
}

func signedPart(pub []byte, ts uint32, appData []byte) []byte {
	msg := make([]byte, 0, len(pub)+4+len(appData))
	msg = append(msg, pub...)
	msg = binary.LittleEndian.AppendUint32(msg, ts)
	return append(msg, appData...)
}

// BuildAdvert signs and encodes an advert payload.
func BuildAdvert(id Identity, ts uint32, app AppData) ([]byte, error) {
	pub := id.PublicKey()
	appData := app.Marshal()
	sig, err := id.Sign(signedPart(pub, ts, appData))
	if err != nil {
		return nil, fmt.Errorf("chat: sign advert: %w", err)
	}
	out := make([]byte, 0, advertHeader+len(appData))
	out = append(out, pub...)
	out = binary.LittleEndian.AppendUint32(out, ts)
	out = append(out, sig...)
	out = append(out, appData...)
	if len(out) > packet.MaxPacketPayload {
		return nil, fmt.Errorf("%w: %d bytes", packet.ErrPayloadTooLarge, len(out))
	}
	return out, nil
}

// ParseAdvert decodes and verifies an advert payload.
func ParseAdvert(payload []byte) (Advert, error) {
	if len(payload) < advertHeader+1 {
		return Advert{}, fmt.Errorf("%w: %d bytes", ErrBadAdvert, len(payload))
	}
	id, err := identity.FromPublicKey(payload[:identity.PubKeySize])
	if err != nil {
		return Advert{}, fmt.Errorf("%w: %v", ErrBadAdvert, err)
	}
	ts := binary.LittleEndian.Uint32(payload[identity.PubKeySize:])
	sig := payload[identity.PubKeySize+4 : advertHeader]
	appData := payload[advertHeader:]
	if !id.Verify(signedPart(id.PubKey[:], ts, appData), sig) {
		return Advert{}, ErrBadSignature
	}
	app, err := ParseAppData(appData)
	if err != nil {
		return Advert{}, err
	}
	return Advert{
		ID:        id,
		Timestamp: ts,
		Signature: append([]byte(nil), sig...),
		AppData:   app,
	}, nil
}

// EncodeCard renders a serialized advert packet as a shareable card.
func EncodeCard(raw []byte) string {
	return CardScheme + hex.EncodeToString(raw)
}

// DecodeCard parses a card into an advert packet. Trailing non-hex junk
// after the card body is ignored.
func DecodeCard(s string) (*packet.Packet, Advert, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, CardScheme) {
		return nil, Advert{}, fmt.Errorf("%w: expected %sHEX", ErrBadCard, CardScheme)
	}
	body := s[len(CardScheme):]
	end := len(body)
	for end > 0 && !isHex(body[end-1]) {
		end--
	}
	body = body[:end]
	if body == "" || len(body)%2 != 0 {
		return nil, Advert{}, fmt.Errorf("%w: odd or empty hex", ErrBadCard)
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, Advert{}, fmt.Errorf("%w: %v", ErrBadCard, err)
	}
	pkt, err := packet.Parse(raw)
	if err != nil {
		return nil, Advert{}, fmt.Errorf("%w: %v", ErrBadCard, err)
	}
	if pkt.PayloadType() != packet.PayloadAdvert {
		return nil, Advert{}, fmt.Errorf("%w: not an advert (%s)", ErrBadCard, pkt.PayloadType())
	}
	adv, err := ParseAdvert(pkt.Payload)
	if err != nil {
		return nil, Advert{}, fmt.Errorf("%w: %v", ErrBadCard, err)
	}
	return pkt, adv, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
