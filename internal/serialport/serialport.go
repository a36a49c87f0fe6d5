// Package serialport opens the host side of the KISS serial link.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the usual rate for KISS over USB serial adapters.
const DefaultBaud = 115200

var ErrNoDevice = errors.New("serialport: no device configured")

// Port is a serial link. Tests substitute net.Pipe.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

type Config struct {
	// Device path, e.g. /dev/ttyUSB0 or COM3.
	Device string
	Baud   int
	// ReadTimeout bounds each driver read so Close is observed promptly.
	ReadTimeout time.Duration
}

func DefaultConfig(device string) Config {
	return Config{Device: device, Baud: DefaultBaud, ReadTimeout: 100 * time.Millisecond}
}

func (c Config) Validate() error {
	if c.Device == "" {
		return ErrNoDevice
	}
	if c.Baud <= 0 {
		return fmt.Errorf("serialport: invalid baud %d", c.Baud)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("serialport: negative read timeout %s", c.ReadTimeout)
	}
	return nil
}

type nativePort struct {
	port   *serial.Port
	reader idleReader
}

// Open opens cfg.Device. Reads block until data arrives or the port is
// closed; driver timeouts are absorbed.
func Open(cfg Config) (Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Device, err)
	}
	p := &nativePort{port: port}
	p.reader = idleReader{r: port, closed: new(atomic.Bool)}
	return p, nil
}

func (p *nativePort) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

func (p *nativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *nativePort) Close() error {
	p.reader.closed.Store(true)
	return p.port.Close()
}

func (p *nativePort) Flush() error {
	return p.port.Flush()
}

// idleReader retries the empty reads a driver returns when its read timeout
// expires with no data.
type idleReader struct {
	r      io.Reader
	closed *atomic.Bool
}

func (ir idleReader) Read(b []byte) (int, error) {
	for {
		n, err := ir.r.Read(b)
		if n > 0 {
			return n, nil
		}
		if ir.closed.Load() {
			return 0, io.ErrClosedPipe
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if len(b) == 0 {
			return 0, nil
		}
	}
}
