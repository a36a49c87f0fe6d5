package kiss

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func decodeAll(t *testing.T, wire []byte) []Frame {
	t.Helper()
	return NewDecoder().Write(wire)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	payloads := [][]byte{
		nil,
		{0x01},
		bytes.Repeat([]byte{0xAA}, MaxPayload),
		{FEND, FESC, TFEND, TFESC, 0x00, FEND, FEND},
	}
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	payloads = append(payloads, all)

	for i, p := range payloads {
		for _, cmd := range []Command{CmdData, CmdHash, Command(FEND), Command(FESC)} {
			frames := decodeAll(t, Encode(cmd, p))
			if len(frames) != 1 {
				t.Fatalf("case %d cmd=%v: expected 1 frame, got=%d", i, cmd, len(frames))
			}
			if frames[0].Command != cmd {
				t.Fatalf("case %d: command mismatch got=%v want=%v", i, frames[0].Command, cmd)
			}
			if !bytes.Equal(frames[0].Payload, p) {
				t.Fatalf("case %d: payload mismatch got=%x want=%x", i, frames[0].Payload, p)
			}
		}
	}
}

func TestEncodeEscapesDelimiters(t *testing.T) {
	testlog.Start(t)

	wire := Encode(CmdSignData, []byte{0x01, FEND, 0x02, FESC, 0x03})
	want := []byte{FEND, 0x04, 0x01, FESC, TFEND, 0x02, FESC, TFESC, 0x03, FEND}
	if !bytes.Equal(wire, want) {
		t.Fatalf("unexpected wire: got=%x want=%x", wire, want)
	}
	body := wire[1 : len(wire)-1]
	if bytes.IndexByte(body, FEND) >= 0 {
		t.Fatalf("unescaped FEND in body: %x", body)
	}
	for i, b := range body {
		if b == FESC && (i+1 >= len(body) || (body[i+1] != TFEND && body[i+1] != TFESC)) {
			t.Fatalf("bare FESC at %d in body: %x", i, body)
		}
	}
}

func TestDecoderSelfHealsAfterInvalidEscape(t *testing.T) {
	testlog.Start(t)

	d := NewDecoder()
	var wire []byte
	wire = append(wire, FEND, byte(CmdHash), 0x10, FESC, 0x42, 0x11, 0x12)
	wire = append(wire, Encode(CmdSignData, []byte("ok"))...)

	frames := d.Write(wire)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got=%d (%+v)", len(frames), frames)
	}
	if frames[0].Command != CmdSignData || string(frames[0].Payload) != "ok" {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
	if d.Dropped != 1 {
		t.Fatalf("expected one dropped partial frame, got=%d", d.Dropped)
	}
}

func TestDecoderDiscardsBytesOutsideFrame(t *testing.T) {
	testlog.Start(t)

	wire := append([]byte{0x01, 0x02, 0x03}, Encode(CmdGetIdentity, nil)...)
	frames := decodeAll(t, wire)
	if len(frames) != 1 || frames[0].Command != CmdGetIdentity || len(frames[0].Payload) != 0 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestDecoderIgnoresEmptyFrames(t *testing.T) {
	testlog.Start(t)

	frames := decodeAll(t, []byte{FEND, FEND, FEND, FEND})
	if len(frames) != 0 {
		t.Fatalf("expected no frames from back-to-back delimiters, got=%d", len(frames))
	}
}

func TestDecoderSharedDelimiter(t *testing.T) {
	testlog.Start(t)

	// A single FEND closes one frame and opens the next.
	wire := []byte{FEND, byte(CmdHash), 0x01, FEND, byte(CmdHash), 0x02, FEND}
	frames := decodeAll(t, wire)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got=%d", len(frames))
	}
	if frames[0].Payload[0] != 0x01 || frames[1].Payload[0] != 0x02 {
		t.Fatalf("unexpected payloads: %+v", frames)
	}
}

func TestDecoderDropsOversizedFrame(t *testing.T) {
	testlog.Start(t)

	d := NewDecoder()
	big := append([]byte{FEND, byte(CmdData)}, bytes.Repeat([]byte{0x55}, MaxPayload+1)...)
	big = append(big, FEND)
	if frames := d.Write(big); len(frames) != 0 {
		t.Fatalf("oversized frame must be dropped, got=%d frames", len(frames))
	}
	if d.Dropped != 1 {
		t.Fatalf("expected overflow drop to be counted, got=%d", d.Dropped)
	}

	frames := d.Write(Encode(CmdHash, []byte{0x01}))
	if len(frames) != 1 {
		t.Fatalf("decoder did not recover after overflow, got=%d frames", len(frames))
	}
}

func TestDecoderPayloadIsCopied(t *testing.T) {
	testlog.Start(t)

	d := NewDecoder()
	first := d.Write(Encode(CmdHash, []byte{0x01, 0x02}))
	_ = d.Write(Encode(CmdHash, []byte{0x09, 0x09}))
	if !bytes.Equal(first[0].Payload, []byte{0x01, 0x02}) {
		t.Fatalf("frame payload aliased decoder buffer: %x", first[0].Payload)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFrame(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, RespHash, []byte{FEND}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{FEND, byte(RespHash), FESC, TFEND, FEND}) {
		t.Fatalf("unexpected wire: %x", buf.Bytes())
	}
	if err := WriteFrame(&buf, RespHash, make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := WriteFrame(failingWriter{}, RespHash, nil); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected writer error, got %v", err)
	}
}

func TestCommandResponsePairs(t *testing.T) {
	testlog.Start(t)

	if resp, ok := CmdHash.Response(); !ok || resp != RespHash {
		t.Fatalf("hash response: got=%v ok=%v", resp, ok)
	}
	if _, ok := CmdData.Response(); ok {
		t.Fatalf("data has no response frame")
	}
	if CmdKeyExchange.String() != "key_exchange" || Command(0x7F).String() != "unknown(0x7f)" {
		t.Fatalf("unexpected names: %s %s", CmdKeyExchange, Command(0x7F))
	}
}
