package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MaxPathSize      = 64
	MaxPacketPayload = 184
	// MaxTransUnit is the largest serialized packet the radio carries.
	MaxTransUnit = 255
)

var (
	ErrShortPacket     = errors.New("packet: short packet")
	ErrPathTooLong     = errors.New("packet: path too long")
	ErrPayloadTooLarge = errors.New("packet: payload too large")
	ErrTooLarge        = errors.New("packet: exceeds transmission unit")
)

type RouteType uint8

const (
	RouteTransportFlood  RouteType = 0x00
	RouteFlood           RouteType = 0x01
	RouteDirect          RouteType = 0x02
	RouteTransportDirect RouteType = 0x03
)

func (r RouteType) String() string {
	switch r {
	case RouteTransportFlood:
		return "transport_flood"
	case RouteFlood:
		return "flood"
	case RouteDirect:
		return "direct"
	case RouteTransportDirect:
		return "transport_direct"
	default:
		return fmt.Sprintf("route(%d)", uint8(r))
	}
}

type PayloadType uint8

const (
	PayloadReq       PayloadType = 0x00
	PayloadResponse  PayloadType = 0x01
	PayloadTxtMsg    PayloadType = 0x02
	PayloadAck       PayloadType = 0x03
	PayloadAdvert    PayloadType = 0x04
	PayloadGrpTxt    PayloadType = 0x05
	PayloadGrpData   PayloadType = 0x06
	PayloadAnonReq   PayloadType = 0x07
	PayloadPath      PayloadType = 0x08
	PayloadTrace     PayloadType = 0x09
	PayloadRawCustom PayloadType = 0x0F
)

var payloadNames = map[PayloadType]string{
	PayloadReq:       "req",
	PayloadResponse:  "response",
	PayloadTxtMsg:    "txt_msg",
	PayloadAck:       "ack",
	PayloadAdvert:    "advert",
	PayloadGrpTxt:    "grp_txt",
	PayloadGrpData:   "grp_data",
	PayloadAnonReq:   "anon_req",
	PayloadPath:      "path",
	PayloadTrace:     "trace",
	PayloadRawCustom: "raw_custom",
}

func (p PayloadType) String() string {
	if name, ok := payloadNames[p]; ok {
		return name
	}
	return fmt.Sprintf("payload(%d)", uint8(p))
}

const (
	routeMask     = 0x03
	payloadShift  = 2
	payloadMask   = 0x0F
	versionShift  = 6
	versionMask   = 0x03
	transportSize = 4
)

// MakeHeader packs route and payload type into a version 0 header byte.
func MakeHeader(route RouteType, ptype PayloadType) byte {
	return byte(route)&routeMask | (byte(ptype)&payloadMask)<<payloadShift
}

// HeaderFields splits a header byte.
func HeaderFields(h byte) (RouteType, PayloadType, uint8) {
	return RouteType(h & routeMask), PayloadType((h >> payloadShift) & payloadMask), (h >> versionShift) & versionMask
}

// Packet is one mesh packet as carried on air and in DATA frames.
type Packet struct {
	Header         byte
	TransportCodes [2]uint16
	Path           []byte
	Payload        []byte

	// Receive metadata, not serialized.
	SNR  float32
	RSSI int16
}

// New builds a packet with an empty path.
func New(route RouteType, ptype PayloadType, payload []byte) *Packet {
	return &Packet{Header: MakeHeader(route, ptype), Payload: payload}
}

func (p *Packet) RouteType() RouteType {
	return RouteType(p.Header & routeMask)
}

func (p *Packet) PayloadType() PayloadType {
	return PayloadType((p.Header >> payloadShift) & payloadMask)
}

func (p *Packet) Version() uint8 {
	return (p.Header >> versionShift) & versionMask
}

func (p *Packet) HasTransportCodes() bool {
	r := p.RouteType()
	return r == RouteTransportFlood || r == RouteTransportDirect
}

func (p *Packet) IsRouteFlood() bool {
	r := p.RouteType()
	return r == RouteFlood || r == RouteTransportFlood
}

func (p *Packet) IsRouteDirect() bool {
	r := p.RouteType()
	return r == RouteDirect || r == RouteTransportDirect
}

// SetRoute rewrites the route bits, keeping payload type and version.
func (p *Packet) SetRoute(route RouteType) {
	p.Header = p.Header&^routeMask | byte(route)&routeMask
}

// Len is the serialized size.
func (p *Packet) Len() int {
	n := 2 + len(p.Path) + len(p.Payload)
	if p.HasTransportCodes() {
		n += transportSize
	}
	return n
}

// Parse decodes b into a new packet.
func Parse(b []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return p, nil
}

// Unmarshal decodes b into p, copying path and payload.
func (p *Packet) Unmarshal(b []byte) error {
	if len(b) < 2 {
		return ErrShortPacket
	}
	if len(b) > MaxTransUnit {
		return ErrTooLarge
	}
	i := 0
	p.Header = b[i]
	i++
	if p.HasTransportCodes() {
		if len(b) < i+transportSize+1 {
			return ErrShortPacket
		}
		p.TransportCodes[0] = binary.LittleEndian.Uint16(b[i:])
		p.TransportCodes[1] = binary.LittleEndian.Uint16(b[i+2:])
		i += transportSize
	} else {
		p.TransportCodes = [2]uint16{}
	}
	pathLen := int(b[i])
	i++
	if pathLen > MaxPathSize {
		return fmt.Errorf("%w: %d", ErrPathTooLong, pathLen)
	}
	if len(b) < i+pathLen {
		return ErrShortPacket
	}
	p.Path = append(p.Path[:0], b[i:i+pathLen]...)
	i += pathLen
	if len(b)-i > MaxPacketPayload {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(b)-i)
	}
	p.Payload = append(p.Payload[:0], b[i:]...)
	return nil
}

// Marshal returns the wire form of p.
func (p *Packet) Marshal() ([]byte, error) {
	if len(p.Path) > MaxPathSize {
		return nil, ErrPathTooLong
	}
	if len(p.Payload) > MaxPacketPayload {
		return nil, ErrPayloadTooLarge
	}
	if p.Len() > MaxTransUnit {
		return nil, ErrTooLarge
	}
	out := make([]byte, 0, p.Len())
	out = append(out, p.Header)
	if p.HasTransportCodes() {
		out = binary.LittleEndian.AppendUint16(out, p.TransportCodes[0])
		out = binary.LittleEndian.AppendUint16(out, p.TransportCodes[1])
	}
	out = append(out, byte(len(p.Path)))
	out = append(out, p.Path...)
	return append(out, p.Payload...), nil
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Path = append([]byte(nil), p.Path...)
	c.Payload = append([]byte(nil), p.Payload...)
	return &c
}

// reset clears p for reuse by a Pool.
func (p *Packet) reset() {
	p.Header = 0
	p.TransportCodes = [2]uint16{}
	p.Path = p.Path[:0]
	p.Payload = p.Payload[:0]
	p.SNR = 0
	p.RSSI = 0
}
