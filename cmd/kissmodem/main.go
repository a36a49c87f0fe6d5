// Command kissmodem runs a KISS modem: it owns a node identity and a radio
// and serves crypto and packet requests from a host over a serial link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/modem"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/serialport"
	"github.com/danmuck/meshmodem/internal/status"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/drivers/lora"
)

func main() {
	configPath := flag.String("config", "cmd/kissmodem/config.toml", "path to kissmodem config")
	flag.Parse()

	observability.InitLogger("kissmodem")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kissmodem: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kissmodem: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig) error {
	id, created, err := identity.NewStore(cfg.IdentityDir).LoadOrCreate(cfg.IdentityName)
	if err != nil {
		return err
	}
	log.Info().
		Str("identity", cfg.IdentityName).
		Bool("created", created).
		Hex("pub", id.PublicKey()[:8]).
		Msg("kissmodem identity ready")

	r, err := openRadio(cfg.Radio)
	if err != nil {
		return err
	}
	defer r.Close()

	if cfg.Capture != "" {
		f, err := os.Create(cfg.Capture)
		if err != nil {
			return fmt.Errorf("kissmodem: capture: %w", err)
		}
		defer f.Close()
		c, err := radio.NewCapture(f)
		if err != nil {
			return err
		}
		r = radio.NewTap(r, c)
	}

	port, err := openPort(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	m := modem.New(cfg.Modem, id, r, port)
	lc := cfg.Radio.Params.LoraConfig()
	if cfg.StatusAddr != "" {
		srv := status.New("kissmodem", cfg.StatusAddr, cfg.CORSOrigins)
		srv.Registry.Register(status.NewComponent("modem",
			func(ctx context.Context) (any, error) { return m.Stats(ctx) },
			nil))
		srv.Registry.Register(status.NewComponent("radio",
			func(context.Context) (any, error) {
				return map[string]any{
					"freq_hz":        lc.Freq,
					"bw_code":        lc.Bw,
					"sf":             lc.Sf,
					"cr_code":        lc.Cr,
					"low_data_rate":  lc.Ldr == lora.LowDataRateOptimizeOn,
					"preamble":       lc.Preamble,
					"tx_power_dbm":   lc.LoraTxPowerDBm,
					"max_airtime_ms": radio.ConfigAirtime(lc, radio.MaxPacket).Milliseconds(),
				}, nil
			},
			nil))
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("kissmodem status server stopped")
			}
		}()
	}

	log.Info().
		Str("device", cfg.Serial.Device).
		Str("radio", cfg.Radio.Mode).
		Float64("freq", cfg.Radio.Params.FreqMHz).
		Uint8("bw_code", lc.Bw).
		Bool("ldro", lc.Ldr == lora.LowDataRateOptimizeOn).
		Dur("max_airtime", radio.ConfigAirtime(lc, radio.MaxPacket)).
		Msg("kissmodem running")
	return m.Run(ctx)
}

func openRadio(cfg radioConfig) (radio.Radio, error) {
	switch cfg.Mode {
	case radioModeMem:
		return radio.NewMemAir(cfg.Params).Attach(), nil
	default:
		return radio.ListenUDP(radio.UDPConfig{
			Listen: cfg.Listen,
			Peers:  cfg.Peers,
			Params: cfg.Params,
			Loss:   cfg.Loss,
		})
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }
func (stdio) Flush() error { return nil }

// openPort opens the serial device; "-" uses stdin and stdout so the modem
// can sit behind socat or a pty.
func openPort(cfg serialport.Config) (serialport.Port, error) {
	if cfg.Device == "-" {
		return stdio{Reader: os.Stdin, Writer: os.Stdout}, nil
	}
	return serialport.Open(cfg)
}
