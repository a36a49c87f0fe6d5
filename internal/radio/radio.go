// Package radio abstracts the half-duplex LoRa channel.
//
// Ownership boundary:
// - modulation params and airtime estimate
// - Radio implementations: in-memory air, UDP air
// - pcap capture of traffic
//
// Mesh routing and packet semantics live in internal/mesh and
// internal/protocol/packet.
package radio

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("radio: closed")
	ErrTooLarge = errors.New("radio: packet too large")
)

// MaxPacket is the largest frame the radio puts on air.
const MaxPacket = 255

// Received is one packet heard on air.
type Received struct {
	Data []byte
	RSSI int16
	SNR  float32
	At   time.Time
}

// Radio is the physical channel seen by the modem and chat node.
// Transmit blocks for the packet's airtime.
type Radio interface {
	Transmit(ctx context.Context, data []byte) error
	Receive(ctx context.Context) (Received, error)
	Params() Params
	Close() error
}

// Counters are cumulative radio statistics.
type Counters struct {
	PacketsSent     uint64
	PacketsReceived uint64
	Airtime         time.Duration
	LastRSSI        int16
	LastSNR         float32
}
