// Command kissmon prints adverts and public channel messages heard by a
// KISS modem, optionally recording every packet to a pcap file.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/meshmodem/internal/kissclient"
	"github.com/danmuck/meshmodem/internal/monitor"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/serialport"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/kissmon/config.toml", "path to kissmon config")
	device := flag.String("device", "", "serial device, overrides config")
	flag.Parse()

	observability.InitLogger("kissmon")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kissmon: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kissmon: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig) error {
	port, err := serialport.Open(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	client := kissclient.New(port, kissclient.DefaultConfig())
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("kissmon modem link stopped")
		}
	}()

	pub, err := client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("kissmon: modem identity: %w", err)
	}
	log.Info().Str("identity", hex.EncodeToString(pub)).Str("device", cfg.Serial.Device).Msg("kissmon connected")

	var capture *radio.Capture
	if cfg.Capture != "" {
		f, err := os.Create(cfg.Capture)
		if err != nil {
			return fmt.Errorf("kissmon: capture: %w", err)
		}
		defer f.Close()
		if capture, err = radio.NewCapture(f); err != nil {
			return err
		}
	}

	mon, err := monitor.New(ctx, client, cfg.ChannelKey, capture)
	if err != nil {
		return err
	}
	log.Info().Str("channel_hash", fmt.Sprintf("%#02x", mon.ChannelHash())).Msg("kissmon listening")
	return mon.Run(ctx, func(r monitor.Record) {
		ev := log.Info()
		if r.Kind == monitor.RecordOther {
			ev = log.Debug()
		}
		ev.Str("kind", r.Kind.String()).Bool("first_seen", r.FirstSeen).Msg(r.String())
	})
}
