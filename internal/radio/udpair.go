package radio

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// UDPConfig wires a simulated radio onto UDP datagrams so several nodes on
// one host or LAN share a channel.
type UDPConfig struct {
	Listen string
	Peers  []string
	Params Params
	// Loss is the probability in [0,1) that an outbound packet is dropped.
	Loss float64
}

// UDPAir is a Radio backed by a UDP socket.
type UDPAir struct {
	conn   *net.UDPConn
	peers  []*net.UDPAddr
	params Params
	loss   float64

	mu  sync.Mutex
	rng *rand.Rand
}

func ListenUDP(cfg UDPConfig) (*UDPAir, error) {
	laddr, err := net.ResolveUDPAddr("udp", strings.TrimSpace(cfg.Listen))
	if err != nil {
		return nil, fmt.Errorf("radio: resolve listen %q: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("radio: listen %q: %w", cfg.Listen, err)
	}
	air := &UDPAir{
		conn:   conn,
		params: cfg.Params,
		loss:   cfg.Loss,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, raw := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", strings.TrimSpace(raw))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("radio: resolve peer %q: %w", raw, err)
		}
		air.peers = append(air.peers, addr)
	}
	return air, nil
}

func (a *UDPAir) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

func (a *UDPAir) Params() Params {
	return a.params
}

func (a *UDPAir) lost() bool {
	if a.loss <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < a.loss
}

func (a *UDPAir) Transmit(ctx context.Context, data []byte) error {
	if len(data) > MaxPacket {
		return ErrTooLarge
	}
	t := time.NewTimer(a.params.Airtime(len(data)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	if a.lost() {
		return nil
	}
	for _, peer := range a.peers {
		if _, err := a.conn.WriteToUDP(data, peer); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("radio: transmit to %s: %w", peer, err)
		}
	}
	return nil
}

func (a *UDPAir) Receive(ctx context.Context) (Received, error) {
	buf := make([]byte, MaxPacket+1)
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = a.conn.SetReadDeadline(deadline)
		} else {
			_ = a.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		}
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return Received{}, ErrClosed
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if ctx.Err() != nil {
					return Received{}, ctx.Err()
				}
				continue
			}
			return Received{}, fmt.Errorf("radio: receive: %w", err)
		}
		if n > MaxPacket {
			continue
		}
		return Received{
			Data: append([]byte(nil), buf[:n]...),
			RSSI: -70,
			SNR:  7.0,
			At:   time.Now(),
		}, nil
	}
}

func (a *UDPAir) Close() error {
	return a.conn.Close()
}
