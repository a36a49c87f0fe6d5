package serialport

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

type scripted struct {
	reads []func([]byte) (int, error)
}

func (s *scripted) Read(b []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	next := s.reads[0]
	s.reads = s.reads[1:]
	return next(b)
}

func TestIdleReaderSkipsTimeouts(t *testing.T) {
	testlog.Start(t)

	timeout := func([]byte) (int, error) { return 0, io.EOF }
	src := &scripted{reads: []func([]byte) (int, error){
		timeout,
		timeout,
		func(b []byte) (int, error) { return copy(b, []byte{0xC0, 0x00}), nil },
	}}
	r := idleReader{r: src, closed: new(atomic.Bool)}
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil || n != 2 || buf[0] != 0xC0 {
		t.Fatalf("expected frame bytes after timeouts n=%d err=%v", n, err)
	}
	if _, err := r.Read(buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("driver error must surface, got %v", err)
	}
}

func TestIdleReaderStopsWhenClosed(t *testing.T) {
	testlog.Start(t)

	closed := new(atomic.Bool)
	src := &scripted{reads: []func([]byte) (int, error){
		func([]byte) (int, error) {
			closed.Store(true)
			return 0, io.EOF
		},
	}}
	r := idleReader{r: src, closed: closed}
	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected ErrClosedPipe after close, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)

	if err := DefaultConfig("/dev/ttyUSB0").Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if _, err := Open(Config{}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if err := (Config{Device: "x"}).Validate(); err == nil {
		t.Fatalf("zero baud must be rejected")
	}
}
