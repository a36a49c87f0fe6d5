package radio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"tinygo.org/x/drivers/lora"

	"github.com/danmuck/meshmodem/internal/testutil/testlog"
)

func fastParams() Params {
	p := DefaultParams()
	p.SF = 7
	p.BandwidthK = 500
	return p
}

func TestAirtimeEstimate(t *testing.T) {
	testlog.Start(t)

	got := DefaultParams().Airtime(50)
	want := 340992 * time.Microsecond
	if diff := got - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("airtime: got=%v want~%v", got, want)
	}
	if DefaultParams().Airtime(100) <= got {
		t.Fatalf("airtime must grow with length")
	}
	if (Params{}).Airtime(10) != 0 {
		t.Fatalf("zero params must give zero airtime")
	}
}

func TestParamsValidate(t *testing.T) {
	testlog.Start(t)

	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := DefaultParams()
	bad.SF = 13
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected sf 13 to be rejected")
	}
	cfg := DefaultParams().LoraConfig()
	if cfg.Freq != 915000000 || cfg.Sf != 10 || cfg.Cr != lora.CodingRate4_5 || cfg.Bw != lora.Bandwidth_250_0 {
		t.Fatalf("unexpected lora config: %+v", cfg)
	}
	if cfg.Ldr != lora.LowDataRateOptimizeOff || cfg.Crc != lora.CRCOn || cfg.HeaderType != lora.HeaderExplicit {
		t.Fatalf("unexpected lora flags: %+v", cfg)
	}
}

func TestAirtimeFollowsDriverConfig(t *testing.T) {
	testlog.Start(t)

	slow := DefaultParams()
	slow.SF, slow.BandwidthK = 12, 125
	if cfg := slow.LoraConfig(); cfg.Ldr != lora.LowDataRateOptimizeOn {
		t.Fatalf("sf12/125k must enable low data rate optimization: %+v", cfg)
	}

	cfg := DefaultParams().LoraConfig()
	if got, want := ConfigAirtime(cfg, 50), DefaultParams().Airtime(50); got != want {
		t.Fatalf("params airtime must come from the driver config got=%v want=%v", got, want)
	}
	lean := cfg
	lean.Crc = lora.CRCOff
	lean.HeaderType = lora.HeaderImplicit
	if ConfigAirtime(lean, 50) >= ConfigAirtime(cfg, 50) {
		t.Fatalf("implicit header without crc must be shorter")
	}

	// 200 kHz snaps up to the 250 kHz setting
	odd := DefaultParams()
	odd.BandwidthK = 200
	if odd.Airtime(50) != DefaultParams().Airtime(50) {
		t.Fatalf("bandwidth must snap to a chip setting")
	}
	if (Params{}).LoraConfig().Cr != lora.CodingRate4_5 {
		t.Fatalf("unset coding rate must default to 4/5")
	}
}

func TestMemAirBroadcast(t *testing.T) {
	testlog.Start(t)

	air := NewMemAir(fastParams())
	a, b, c := air.Attach(), air.Attach(), air.Attach()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Transmit(ctx, []byte("hello")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	for _, r := range []*MemRadio{b, c} {
		pkt, err := r.Receive(ctx)
		if err != nil {
			t.Fatalf("radio %d receive: %v", r.ID(), err)
		}
		if string(pkt.Data) != "hello" {
			t.Fatalf("radio %d got %q", r.ID(), pkt.Data)
		}
	}

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if _, err := a.Receive(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("sender must not hear itself, got %v", err)
	}
}

func TestMemAirDropAndClose(t *testing.T) {
	testlog.Start(t)

	air := NewMemAir(fastParams())
	air.Drop = func(from, to int, _ []byte) bool { return to == 1 }
	a, b := air.Attach(), air.Attach()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Transmit(ctx, []byte{1}); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if _, err := b.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected dropped packet, got %v", err)
	}
	_ = b.Close()
	if _, err := b.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Transmit(context.Background(), make([]byte, MaxPacket+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestUDPAirLoopback(t *testing.T) {
	testlog.Start(t)

	rx, err := ListenUDP(UDPConfig{Listen: "127.0.0.1:0", Params: fastParams()})
	if err != nil {
		t.Fatalf("listen rx: %v", err)
	}
	defer rx.Close()
	tx, err := ListenUDP(UDPConfig{Listen: "127.0.0.1:0", Peers: []string{rx.LocalAddr().String()}, Params: fastParams()})
	if err != nil {
		t.Fatalf("listen tx: %v", err)
	}
	defer tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tx.Transmit(ctx, []byte{0x15, 0x00, 0xAA}); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	pkt, err := rx.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(pkt.Data, []byte{0x15, 0x00, 0xAA}) {
		t.Fatalf("unexpected packet: %x", pkt.Data)
	}
}

func TestCaptureTapWritesPcap(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	capture, err := NewCapture(&buf)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	air := NewMemAir(fastParams())
	a := NewTap(air.Attach(), capture)
	b := air.Attach()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Transmit(ctx, []byte("one")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if err := b.Transmit(ctx, []byte("two")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if _, err := a.Receive(ctx); err != nil {
		t.Fatalf("receive: %v", err)
	}

	r, err := pcapgo.NewReader(&buf)
	if err != nil {
		t.Fatalf("pcap reader: %v", err)
	}
	if r.LinkType() != LinkTypeMesh {
		t.Fatalf("unexpected link type: %v", r.LinkType())
	}
	var got []string
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		got = append(got, string(data))
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected captured packets: %q", got)
	}
}
