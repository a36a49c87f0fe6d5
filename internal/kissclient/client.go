// Package kissclient is the host side of the KISS modem link.
//
// Client runs request/response calls against the modem's crypto commands
// and exposes inbound DATA frames as a packet link, so a chat node can
// use a serial modem exactly like an in-process radio.
package kissclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/protocol/kiss"
	"github.com/danmuck/meshmodem/internal/radio"
)

var (
	ErrNoResponse = errors.New("kissclient: no response from modem")
	ErrClosed     = errors.New("kissclient: link closed")
	ErrBadRequest = errors.New("kissclient: invalid request")
)

type Config struct {
	// Timeout bounds each request when ctx carries no deadline.
	Timeout time.Duration
	// Backlog is the number of inbound packets buffered for Receive.
	Backlog int
}

func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, Backlog: 32}
}

type Client struct {
	cfg Config
	rw  io.ReadWriter

	writeMu sync.Mutex
	// reqMu keeps one request in flight; responses carry no request id.
	reqMu sync.Mutex

	waitersMu sync.Mutex
	waiters   map[kiss.Command][]chan []byte

	packets   chan radio.Received
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

func New(rw io.ReadWriter, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	return &Client{
		cfg:     cfg,
		rw:      rw,
		waiters: make(map[kiss.Command][]chan []byte),
		packets: make(chan radio.Received, cfg.Backlog),
		closed:  make(chan struct{}),
	}
}

// Run reads frames from the modem until the stream fails or ctx ends.
func (c *Client) Run(ctx context.Context) error {
	dec := kiss.NewDecoder()
	buf := make([]byte, 512)
	defer c.shutdown(ErrClosed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.rw.Read(buf)
		for _, f := range dec.Write(buf[:n]) {
			c.deliver(f)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("kissclient: read: %w", err)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.closed)
	})
}

func (c *Client) deliver(f kiss.Frame) {
	if f.Command == kiss.CmdData {
		rx := radio.Received{Data: f.Payload, At: time.Now()}
		select {
		case c.packets <- rx:
		default:
			log.Warn().Int("len", len(f.Payload)).Msg("kissclient: packet backlog full, dropping")
		}
		return
	}

	c.waitersMu.Lock()
	chans := c.waiters[f.Command]
	if len(chans) == 0 {
		c.waitersMu.Unlock()
		log.Debug().Str("command", f.Command.String()).Msg("kissclient: unsolicited frame")
		return
	}
	ch := chans[0]
	c.waiters[f.Command] = chans[1:]
	c.waitersMu.Unlock()
	ch <- f.Payload
}

func (c *Client) addWaiter(cmd kiss.Command) chan []byte {
	ch := make(chan []byte, 1)
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	c.waiters[cmd] = append(c.waiters[cmd], ch)
	return ch
}

func (c *Client) removeWaiter(cmd kiss.Command, ch chan []byte) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	chans := c.waiters[cmd]
	for i, w := range chans {
		if w == ch {
			c.waiters[cmd] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (c *Client) write(cmd kiss.Command, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := kiss.WriteFrame(c.rw, cmd, payload); err != nil {
		return fmt.Errorf("kissclient: write %s: %w", cmd, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, cmd kiss.Command, payload []byte) ([]byte, error) {
	resp, ok := cmd.Response()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no response", ErrBadRequest, cmd)
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	ch := c.addWaiter(resp)
	defer c.removeWaiter(resp, ch)
	if err := c.write(cmd, payload); err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out, nil
	case <-c.closed:
		return nil, c.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, cmd)
	}
}

// Identity fetches the modem's public key.
func (c *Client) Identity(ctx context.Context) ([]byte, error) {
	return c.request(ctx, kiss.CmdGetIdentity, nil)
}

func (c *Client) Sign(ctx context.Context, data []byte) ([]byte, error) {
	return c.request(ctx, kiss.CmdSignData, data)
}

// Encrypt runs encrypt-then-MAC under a 16-byte key.
func (c *Client) Encrypt(ctx context.Context, key, plain []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: key must be 16 bytes", ErrBadRequest)
	}
	return c.request(ctx, kiss.CmdEncryptData, append(append([]byte(nil), key...), plain...))
}

// Decrypt verifies and decrypts mac||ciphertext. The modem stays silent on
// a MAC mismatch, which surfaces as ErrNoResponse.
func (c *Client) Decrypt(ctx context.Context, key, data []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: key must be 16 bytes", ErrBadRequest)
	}
	return c.request(ctx, kiss.CmdDecryptData, append(append([]byte(nil), key...), data...))
}

func (c *Client) KeyExchange(ctx context.Context, peer []byte) ([]byte, error) {
	return c.request(ctx, kiss.CmdKeyExchange, peer)
}

func (c *Client) Hash(ctx context.Context, data []byte) ([]byte, error) {
	return c.request(ctx, kiss.CmdHash, data)
}

// Transmit hands a raw packet to the modem for sending.
func (c *Client) Transmit(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return c.err
	default:
	}
	return c.write(kiss.CmdData, data)
}

// Receive returns the next packet the modem heard.
func (c *Client) Receive(ctx context.Context) (radio.Received, error) {
	select {
	case rx := <-c.packets:
		return rx, nil
	case <-c.closed:
		return radio.Received{}, c.err
	case <-ctx.Done():
		return radio.Received{}, ctx.Err()
	}
}
