// Package monitor decodes traffic heard by a KISS modem: signed adverts are
// verified locally and public channel texts are decrypted by the modem.
package monitor

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/danmuck/meshmodem/internal/chat"
	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/rs/zerolog/log"
)

// Modem is the subset of the KISS client the monitor needs.
type Modem interface {
	Receive(ctx context.Context) (radio.Received, error)
	Hash(ctx context.Context, data []byte) ([]byte, error)
	Decrypt(ctx context.Context, key, data []byte) ([]byte, error)
}

type RecordKind int

const (
	RecordOther RecordKind = iota
	RecordAdvert
	RecordChannel
)

func (k RecordKind) String() string {
	switch k {
	case RecordAdvert:
		return "advert"
	case RecordChannel:
		return "channel"
	default:
		return "other"
	}
}

// Record is one decoded packet.
type Record struct {
	Kind    RecordKind
	At      time.Time
	Route   packet.RouteType
	Payload packet.PayloadType
	Hops    int
	RSSI    int16
	SNR     float32
	Size    int

	// Timestamp is the sender's clock for adverts and channel texts.
	Timestamp uint32
	Text      string

	// advert fields
	Name     string
	Type     chat.AdvertType
	Key      string
	HasLoc   bool
	Lat, Lon float64
	// FirstSeen marks the first valid advert from a key.
	FirstSeen bool
	Valid     bool
	Err       error
}

func (r Record) String() string {
	sig := fmt.Sprintf("hops=%d rssi=%d snr=%.1f", r.Hops, r.RSSI, r.SNR)
	switch r.Kind {
	case RecordAdvert:
		if !r.Valid {
			return fmt.Sprintf("advert rejected: %v (%s)", r.Err, sig)
		}
		loc := ""
		if r.HasLoc {
			loc = fmt.Sprintf(" at %.6f,%.6f", r.Lat, r.Lon)
		}
		return fmt.Sprintf("advert %s %q key=%s ts=%s%s (%s)", r.Type, r.Name, r.Key, stamp(r.Timestamp), loc, sig)
	case RecordChannel:
		return fmt.Sprintf("[%s] %s (%s)", stamp(r.Timestamp), r.Text, sig)
	default:
		return fmt.Sprintf("%s %s %d bytes (%s)", r.Route, r.Payload, r.Size, sig)
	}
}

func stamp(ts uint32) string {
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05")
}

type Monitor struct {
	modem   Modem
	psk     []byte
	hash    byte
	capture *radio.Capture
	seen    map[[identity.PubKeySize]byte]bool
}

// New decodes channelKey and asks the modem for its channel hash. capture
// may be nil.
func New(ctx context.Context, m Modem, channelKey string, capture *radio.Capture) (*Monitor, error) {
	psk, err := base64.StdEncoding.DecodeString(channelKey)
	if err != nil {
		return nil, fmt.Errorf("monitor: channel key: %w", err)
	}
	digest, err := m.Hash(ctx, psk)
	if err != nil {
		return nil, fmt.Errorf("monitor: channel hash: %w", err)
	}
	if len(digest) == 0 {
		return nil, fmt.Errorf("monitor: empty channel hash")
	}
	return &Monitor{
		modem:   m,
		psk:     psk,
		hash:    digest[0],
		capture: capture,
		seen:    make(map[[identity.PubKeySize]byte]bool),
	}, nil
}

// ChannelHash is the one-byte identifier of the monitored channel.
func (m *Monitor) ChannelHash() byte {
	return m.hash
}

// Run emits a record per packet until ctx ends or the modem fails.
func (m *Monitor) Run(ctx context.Context, emit func(Record)) error {
	for {
		rx, err := m.modem.Receive(ctx)
		if err != nil {
			return err
		}
		if m.capture != nil {
			if err := m.capture.Write(rx.Data); err != nil {
				log.Warn().Err(err).Msg("monitor: capture write failed")
			}
		}
		pkt, err := packet.Parse(rx.Data)
		if err != nil {
			log.Debug().Err(err).Int("len", len(rx.Data)).Msg("monitor: malformed packet")
			continue
		}
		emit(m.decode(ctx, pkt, rx))
	}
}

func (m *Monitor) decode(ctx context.Context, pkt *packet.Packet, rx radio.Received) Record {
	rec := Record{
		Kind:    RecordOther,
		At:      rx.At,
		Route:   pkt.RouteType(),
		Payload: pkt.PayloadType(),
		Hops:    len(pkt.Path),
		RSSI:    rx.RSSI,
		SNR:     rx.SNR,
		Size:    len(rx.Data),
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	switch pkt.PayloadType() {
	case packet.PayloadAdvert:
		rec.Kind = RecordAdvert
		adv, err := chat.ParseAdvert(pkt.Payload)
		if err != nil {
			rec.Err = err
			return rec
		}
		rec.Valid = true
		rec.Name = adv.AppData.Name
		rec.Type = adv.AppData.Type
		rec.Key = hex.EncodeToString(adv.ID.PubKey[:4])
		rec.Timestamp = adv.Timestamp
		rec.HasLoc = adv.AppData.HasLoc
		rec.Lat, rec.Lon = adv.AppData.Lat, adv.AppData.Lon
		rec.FirstSeen = !m.seen[adv.ID.PubKey]
		m.seen[adv.ID.PubKey] = true
	case packet.PayloadGrpTxt:
		hash, sealed, err := chat.SplitGroup(pkt.Payload)
		if err != nil || hash != m.hash {
			return rec
		}
		plain, err := m.modem.Decrypt(ctx, m.psk, sealed)
		if err != nil {
			log.Debug().Err(err).Msg("monitor: channel text did not decrypt")
			return rec
		}
		msg, err := chat.ParsePlaintext(plain)
		if err != nil {
			return rec
		}
		rec.Kind = RecordChannel
		rec.Timestamp = msg.Timestamp
		rec.Text = msg.Text
	}
	return rec
}
