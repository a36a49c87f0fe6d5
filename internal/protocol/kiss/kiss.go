package kiss

import (
	"errors"
	"io"
)

// Wire delimiters.
const (
	FEND  byte = 0xC0
	FESC  byte = 0xDB
	TFEND byte = 0xDC
	TFESC byte = 0xDD
)

// MaxPayload bounds the payload of one frame, command byte excluded.
const MaxPayload = 512

var ErrPayloadTooLarge = errors.New("kiss: payload too large")

// Frame is one decoded unit: a command byte and its payload.
type Frame struct {
	Command Command
	Payload []byte
}

// Decoder reassembles frames from a byte stream one byte at a time.
// Malformed input never surfaces as an error; the partial frame is dropped
// and decoding resumes at the next FEND.
type Decoder struct {
	buf     [MaxPayload + 1]byte
	n       int
	inFrame bool
	escaped bool

	// Dropped counts partial frames discarded by a reset.
	Dropped uint64
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) reset() {
	d.n = 0
	d.inFrame = false
	d.escaped = false
}

func (d *Decoder) drop() {
	d.Dropped++
	d.reset()
}

// Feed consumes one byte and reports a completed frame, if any.
// The returned payload is a fresh copy owned by the caller.
func (d *Decoder) Feed(b byte) (Frame, bool) {
	if b == FEND {
		var (
			f  Frame
			ok bool
		)
		if d.inFrame && d.n > 0 {
			f = Frame{Command: Command(d.buf[0]), Payload: append([]byte(nil), d.buf[1:d.n]...)}
			ok = true
		}
		d.reset()
		d.inFrame = true
		return f, ok
	}
	if !d.inFrame {
		return Frame{}, false
	}

	if d.escaped {
		d.escaped = false
		switch b {
		case TFEND:
			b = FEND
		case TFESC:
			b = FESC
		default:
			d.drop()
			return Frame{}, false
		}
	} else if b == FESC {
		d.escaped = true
		return Frame{}, false
	}

	if d.n >= len(d.buf) {
		d.drop()
		return Frame{}, false
	}
	d.buf[d.n] = b
	d.n++
	return Frame{}, false
}

// Write feeds p and returns every frame it completes.
func (d *Decoder) Write(p []byte) []Frame {
	var out []Frame
	for _, b := range p {
		if f, ok := d.Feed(b); ok {
			out = append(out, f)
		}
	}
	return out
}

// Encode returns the wire form of one frame.
func Encode(cmd Command, payload []byte) []byte {
	return AppendEncode(make([]byte, 0, len(payload)+4), cmd, payload)
}

// AppendEncode appends the wire form of one frame to dst.
func AppendEncode(dst []byte, cmd Command, payload []byte) []byte {
	dst = append(dst, FEND)
	dst = appendEscaped(dst, byte(cmd))
	for _, b := range payload {
		dst = appendEscaped(dst, b)
	}
	return append(dst, FEND)
}

func appendEscaped(dst []byte, b byte) []byte {
	switch b {
	case FEND:
		return append(dst, FESC, TFEND)
	case FESC:
		return append(dst, FESC, TFESC)
	default:
		return append(dst, b)
	}
}

func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(Encode(cmd, payload))
	return err
}
