package modem

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/meshcrypto"
	"github.com/danmuck/meshmodem/internal/mesh"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/protocol/kiss"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
)

// Request size limits.
const (
	MaxSignInput   = 1024
	MaxCipherInput = 512
	MaxHashInput   = 512
	minEncrypt     = meshcrypto.KeySize + 1
	minDecrypt     = meshcrypto.KeySize + meshcrypto.MACSize + meshcrypto.BlockSize
	minData        = 2
)

// Identity is the modem's signing and key-agreement key.
type Identity interface {
	PublicKey() []byte
	Sign(msg []byte) []byte
	SharedSecret(peer []byte) ([]byte, error)
}

// Dispatcher executes one decoded host frame at a time. Invalid requests
// are dropped without a response.
type Dispatcher struct {
	id     Identity
	tx     mesh.Transport
	pool   *packet.Pool
	stats  Stats
	strict bool
}

func NewDispatcher(id Identity, tx mesh.Transport, pool *packet.Pool, strict bool) *Dispatcher {
	return &Dispatcher{id: id, tx: tx, pool: pool, strict: strict}
}

// Stats returns a copy of the frame counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

// Dispatch runs f and returns the response frame, if the command has one.
func (d *Dispatcher) Dispatch(ctx context.Context, f kiss.Frame) (kiss.Frame, bool) {
	d.stats.FramesFromSerial++
	observability.RecordFrame("in", f.Command.String())

	var (
		out []byte
		ok  bool
	)
	switch f.Command {
	case kiss.CmdData:
		d.handleData(ctx, f.Payload)
		return kiss.Frame{}, false
	case kiss.CmdGetIdentity:
		out, ok = d.id.PublicKey(), true
	case kiss.CmdSignData:
		out, ok = d.handleSign(f.Payload)
	case kiss.CmdEncryptData:
		out, ok = d.handleEncrypt(f.Payload)
	case kiss.CmdDecryptData:
		out, ok = d.handleDecrypt(f.Payload)
	case kiss.CmdKeyExchange:
		out, ok = d.handleKeyExchange(f.Payload)
	case kiss.CmdHash:
		out, ok = d.handleHash(f.Payload)
	default:
		log.Debug().Str("command", f.Command.String()).Msg("modem: unknown command")
		return kiss.Frame{}, false
	}
	if !ok {
		return kiss.Frame{}, false
	}
	resp, _ := f.Command.Response()
	d.stats.FramesToSerial++
	observability.RecordFrame("out", resp.String())
	return kiss.Frame{Command: resp, Payload: out}, true
}

func (d *Dispatcher) drop(cmd kiss.Command, reason string, n int) {
	d.stats.Dropped++
	observability.RecordFrameDropped()
	ev := log.Debug()
	if d.strict {
		ev = log.Warn()
	}
	ev.Str("command", cmd.String()).Str("reason", reason).Int("len", n).Msg("modem: dropped request")
}

func (d *Dispatcher) handleSign(data []byte) ([]byte, bool) {
	if len(data) == 0 || len(data) > MaxSignInput {
		d.drop(kiss.CmdSignData, "length", len(data))
		return nil, false
	}
	return d.id.Sign(data), true
}

func (d *Dispatcher) handleEncrypt(data []byte) ([]byte, bool) {
	if len(data) < minEncrypt || len(data) > MaxCipherInput {
		d.drop(kiss.CmdEncryptData, "length", len(data))
		return nil, false
	}
	key := meshcrypto.PadKey(data[:meshcrypto.KeySize])
	out, err := meshcrypto.EncryptThenMAC(key[:], data[meshcrypto.KeySize:])
	if err != nil {
		d.drop(kiss.CmdEncryptData, err.Error(), len(data))
		return nil, false
	}
	return out, true
}

func (d *Dispatcher) handleDecrypt(data []byte) ([]byte, bool) {
	if len(data) < minDecrypt || len(data) > MaxCipherInput {
		d.drop(kiss.CmdDecryptData, "length", len(data))
		return nil, false
	}
	key := meshcrypto.PadKey(data[:meshcrypto.KeySize])
	out, err := meshcrypto.MACThenDecrypt(key[:], data[meshcrypto.KeySize:])
	if err != nil || len(out) == 0 {
		d.drop(kiss.CmdDecryptData, "mac", len(data))
		return nil, false
	}
	return out, true
}

func (d *Dispatcher) handleKeyExchange(data []byte) ([]byte, bool) {
	if len(data) != 32 {
		d.drop(kiss.CmdKeyExchange, "length", len(data))
		return nil, false
	}
	secret, err := d.id.SharedSecret(data)
	if err != nil {
		d.drop(kiss.CmdKeyExchange, "bad key", len(data))
		return nil, false
	}
	return secret, true
}

func (d *Dispatcher) handleHash(data []byte) ([]byte, bool) {
	if len(data) == 0 || len(data) > MaxHashInput {
		d.drop(kiss.CmdHash, "length", len(data))
		return nil, false
	}
	sum := meshcrypto.SHA256(data)
	return sum[:], true
}

// validPacketHeader checks the raw DATA payload before a packet is
// allocated for it. Route and payload type are masked header fields, so
// any header byte names a known route (0..3) and type (0..15).
func validPacketHeader(data []byte) bool {
	return len(data) >= minData && len(data) <= packet.MaxTransUnit
}

func (d *Dispatcher) handleData(ctx context.Context, data []byte) {
	if !validPacketHeader(data) {
		d.drop(kiss.CmdData, "header", len(data))
		return
	}
	pkt, ok := d.pool.Alloc()
	if !ok {
		d.drop(kiss.CmdData, "pool exhausted", len(data))
		return
	}
	defer d.pool.Free(pkt)
	if err := pkt.Unmarshal(data); err != nil {
		d.drop(kiss.CmdData, err.Error(), len(data))
		return
	}

	var err error
	switch {
	case pkt.IsRouteDirect() && len(pkt.Path) > 0:
		err = d.tx.SendDirect(ctx, pkt, append([]byte(nil), pkt.Path...))
	default:
		err = d.tx.SendFlood(ctx, pkt)
	}
	if err != nil {
		d.drop(kiss.CmdData, err.Error(), len(data))
	}
}
