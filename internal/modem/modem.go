// Package modem bridges a host serial stream to the radio.
//
// The host speaks KISS frames: DATA carries raw mesh packets in both
// directions and the remaining commands run crypto with the modem's
// identity. One goroutine owns the decoder, dispatcher and counters;
// serial reads, radio receive and radio transmit run beside it and only
// exchange values over channels.
package modem

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/mesh"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/protocol/kiss"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
)

var ErrTxQueueFull = errors.New("modem: transmit queue full")

type Config struct {
	// PoolSize bounds packets being parsed from DATA frames.
	PoolSize int
	// TxQueue bounds packets waiting for the radio.
	TxQueue int
	// Strict logs every dropped request at warn instead of debug.
	Strict bool
}

func DefaultConfig() Config {
	return Config{PoolSize: 32, TxQueue: 16}
}

type txResult struct {
	n   int
	err error
}

// Modem runs the serial to radio bridge.
type Modem struct {
	cfg     Config
	radio   radio.Radio
	port    io.ReadWriter
	disp    *Dispatcher
	dec     *kiss.Decoder
	txq     chan []byte
	stats   Stats
	started time.Time
	statReq chan chan Stats
}

// queueTransmitter hands serialized packets to the radio goroutine
// without blocking the loop.
type queueTransmitter chan []byte

func (q queueTransmitter) Transmit(_ context.Context, data []byte) error {
	select {
	case q <- append([]byte(nil), data...):
		return nil
	default:
		return ErrTxQueueFull
	}
}

func New(cfg Config, id Identity, r radio.Radio, port io.ReadWriter) *Modem {
	def := DefaultConfig()
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.TxQueue <= 0 {
		cfg.TxQueue = def.TxQueue
	}
	txq := make(chan []byte, cfg.TxQueue)
	sender := mesh.NewSender(queueTransmitter(txq), r.Params())
	return &Modem{
		cfg:     cfg,
		radio:   r,
		port:    port,
		disp:    NewDispatcher(id, sender, packet.NewPool(cfg.PoolSize), cfg.Strict),
		dec:     kiss.NewDecoder(),
		txq:     txq,
		statReq: make(chan chan Stats),
	}
}

// Stats asks the loop for a snapshot. It fails if the loop is not running.
func (m *Modem) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case m.statReq <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Run drives the modem until ctx ends or the serial stream closes.
func (m *Modem) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.started = time.Now()

	serialIn := make(chan []byte, 8)
	serialErr := make(chan error, 1)
	go m.readSerial(ctx, serialIn, serialErr)

	rx := make(chan radio.Received, 8)
	go m.receive(ctx, rx)

	done := make(chan txResult, m.cfg.TxQueue)
	go m.transmit(ctx, done)

	log.Info().Int("pool", m.cfg.PoolSize).Bool("strict", m.cfg.Strict).Msg("modem: running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-serialErr:
			if errors.Is(err, io.EOF) {
				log.Info().Msg("modem: serial closed")
				return nil
			}
			return err
		case chunk := <-serialIn:
			m.handleSerial(ctx, chunk)
		case pkt := <-rx:
			m.handleRadio(pkt)
		case res := <-done:
			m.handleSent(res)
		case reply := <-m.statReq:
			reply <- m.snapshot()
		}
	}
}

func (m *Modem) readSerial(ctx context.Context, out chan<- []byte, errc chan<- error) {
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case errc <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (m *Modem) receive(ctx context.Context, out chan<- radio.Received) {
	for {
		pkt, err := m.radio.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, radio.ErrClosed) {
				log.Error().Err(err).Msg("modem: radio receive failed")
			}
			return
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Modem) transmit(ctx context.Context, done chan<- txResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-m.txq:
			err := m.radio.Transmit(ctx, raw)
			select {
			case done <- txResult{n: len(raw), err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Modem) handleSerial(ctx context.Context, chunk []byte) {
	before := m.dec.Dropped
	frames := m.dec.Write(chunk)
	if lost := m.dec.Dropped - before; lost > 0 {
		m.stats.Dropped += lost
		for i := uint64(0); i < lost; i++ {
			observability.RecordFrameDropped()
		}
		log.Debug().Uint64("frames", lost).Msg("modem: decoder reset")
	}
	for _, f := range frames {
		resp, ok := m.disp.Dispatch(ctx, f)
		if !ok {
			continue
		}
		if err := kiss.WriteFrame(m.port, resp.Command, resp.Payload); err != nil {
			log.Warn().Err(err).Str("command", resp.Command.String()).Msg("modem: serial write failed")
		}
	}
}

func (m *Modem) handleRadio(rx radio.Received) {
	m.stats.PacketsReceived++
	m.stats.LastRSSI = rx.RSSI
	m.stats.LastSNR = int16(rx.SNR * 4)
	observability.RecordRadioPacket("rx")

	if err := kiss.WriteFrame(m.port, kiss.CmdData, rx.Data); err != nil {
		log.Warn().Err(err).Msg("modem: forward to host failed")
		return
	}
	m.stats.FramesToSerial++
	observability.RecordFrame("out", kiss.CmdData.String())
}

func (m *Modem) handleSent(res txResult) {
	if res.err != nil {
		log.Warn().Err(res.err).Int("len", res.n).Msg("modem: transmit failed")
		return
	}
	airtime := m.radio.Params().Airtime(res.n)
	m.stats.PacketsSent++
	m.stats.Airtime += airtime
	observability.RecordRadioPacket("tx")
	observability.RecordAirtime(airtime)
}

func (m *Modem) snapshot() Stats {
	s := m.stats
	d := m.disp.Stats()
	s.FramesFromSerial = d.FramesFromSerial
	s.FramesToSerial += d.FramesToSerial
	s.Dropped += d.Dropped
	s.AirtimeSecs = uint32(s.Airtime / time.Second)
	s.UptimeSecs = uint32(time.Since(m.started) / time.Second)
	return s
}
