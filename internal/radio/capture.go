package radio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeMesh is DLT_USER0; captures carry raw mesh packets.
const LinkTypeMesh = layers.LinkType(147)

// Capture writes mesh packets to a pcap stream.
type Capture struct {
	mu  sync.Mutex
	w   *pcapgo.Writer
	now func() time.Time
}

func NewCapture(w io.Writer) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(MaxPacket, LinkTypeMesh); err != nil {
		return nil, fmt.Errorf("radio: pcap header: %w", err)
	}
	return &Capture{w: pw, now: time.Now}, nil
}

func (c *Capture) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := c.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("radio: pcap write: %w", err)
	}
	return nil
}

// Tap wraps a Radio and records every transmitted and received packet.
type Tap struct {
	Radio
	capture *Capture
}

func NewTap(r Radio, c *Capture) *Tap {
	return &Tap{Radio: r, capture: c}
}

func (t *Tap) Transmit(ctx context.Context, data []byte) error {
	if err := t.Radio.Transmit(ctx, data); err != nil {
		return err
	}
	return t.capture.Write(data)
}

func (t *Tap) Receive(ctx context.Context) (Received, error) {
	pkt, err := t.Radio.Receive(ctx)
	if err != nil {
		return pkt, err
	}
	return pkt, t.capture.Write(pkt.Data)
}
