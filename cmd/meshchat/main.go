// Command meshchat is a secure mesh chat client. It talks to the air either
// through a KISS modem on a serial port or over the UDP simulated channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/meshmodem/internal/bot"
	"github.com/danmuck/meshmodem/internal/chat"
	"github.com/danmuck/meshmodem/internal/chatui"
	"github.com/danmuck/meshmodem/internal/config"
	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/kissclient"
	"github.com/danmuck/meshmodem/internal/mesh"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/serialport"
	"github.com/danmuck/meshmodem/internal/status"
	"github.com/danmuck/meshmodem/internal/timesync"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/meshchat/config.toml", "path to meshchat config")
	flag.Parse()

	observability.InitLogger("meshchat")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshchat: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "meshchat: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("meshchat: data dir: %w", err)
	}
	if cfg.UI == uiTUI {
		// the full-screen UI owns the terminal
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("meshchat: log file: %w", err)
		}
		defer f.Close()
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339})
	}

	prefs, err := config.LoadPrefs(cfg.PrefsPath)
	if err != nil {
		return err
	}

	link, client, closeLink, err := openLink(ctx, cfg, prefs)
	if err != nil {
		return err
	}
	defer closeLink()

	id, err := openIdentity(ctx, cfg, client)
	if err != nil {
		return err
	}

	ncfg := chat.DefaultConfig()
	ncfg.Prefs = prefs
	ncfg.PrefsPath = cfg.PrefsPath
	ncfg.ContactsPath = cfg.ContactsPath()
	node, err := chat.New(ncfg, id, link, timesync.NewSystemClock())
	if err != nil {
		return err
	}
	nodeErr := make(chan error, 1)
	go func() { nodeErr <- node.Run(ctx) }()

	consumers := 1
	if cfg.BotScript != "" {
		consumers++
	}
	streams := fanOut(ctx, node.Events(), consumers)

	if cfg.BotScript != "" {
		b, err := bot.Load(cfg.BotScript)
		if err != nil {
			return err
		}
		defer b.Close()
		go func() { _ = b.Serve(ctx, streams[1], node) }()
		log.Info().Str("bot", b.Name()).Str("script", cfg.BotScript).Msg("meshchat bot loaded")
	}

	if cfg.StatusAddr != "" {
		srv := status.New("meshchat", cfg.StatusAddr, cfg.CORSOrigins)
		if cfg.StatusToken != "" {
			srv.ProtectActions(status.StaticToken{Token: cfg.StatusToken})
		}
		srv.Registry.Register(status.NewComponent("node",
			func(ctx context.Context) (any, error) { return node.Snapshot(ctx) },
			map[string]status.Action{
				"advert": func(ctx context.Context) (string, error) {
					if err := node.Advertise(ctx); err != nil {
						return "", err
					}
					return "advert sent", nil
				},
			}))
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("meshchat status server stopped")
			}
		}()
	}

	uiErr := make(chan error, 1)
	go func() { uiErr <- runUI(ctx, cfg, prefs, node, streams[0]) }()

	select {
	case err := <-uiErr:
		cancel()
		<-nodeErr
		return err
	case err := <-nodeErr:
		cancel()
		<-uiErr
		return err
	}
}

func runUI(ctx context.Context, cfg appConfig, prefs config.Prefs, node *chat.Node, events <-chan chat.Event) error {
	switch cfg.UI {
	case uiTUI:
		return chatui.Run(ctx, chat.Version+" - "+prefs.NodeName, node, events)
	case uiLine:
		ui := &chatui.LineUI{Exec: node, Events: events, Color: prefs.ANSI}
		return ui.Run(ctx, os.Stdin, os.Stdout)
	default:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				log.Info().Str("event", ev.Kind.String()).Msg(chatui.FormatEvent(ev, false))
			}
		}
	}
}

// openLink returns the packet link and, for the serial link, the KISS
// client so the identity can live on the modem.
func openLink(ctx context.Context, cfg appConfig, prefs config.Prefs) (mesh.Link, *kissclient.Client, func(), error) {
	switch cfg.Link {
	case linkSerial:
		port, err := serialport.Open(cfg.Serial)
		if err != nil {
			return nil, nil, nil, err
		}
		client := kissclient.New(port, kissclient.DefaultConfig())
		go func() {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("meshchat modem link stopped")
			}
		}()
		return client, client, func() { _ = port.Close() }, nil
	default:
		air, err := radio.ListenUDP(radio.UDPConfig{
			Listen: cfg.Radio.Listen,
			Peers:  cfg.Radio.Peers,
			Params: prefs.Radio(),
			Loss:   cfg.Radio.Loss,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return air, nil, func() { _ = air.Close() }, nil
	}
}

func openIdentity(ctx context.Context, cfg appConfig, client *kissclient.Client) (chat.Identity, error) {
	if cfg.ModemIdentity {
		id, err := kissclient.RemoteIdentity(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("meshchat: modem identity: %w", err)
		}
		log.Info().Hex("pub", id.PublicKey()[:8]).Msg("meshchat using modem identity")
		return id, nil
	}
	l, created, err := identity.NewStore(cfg.DataDir).LoadOrCreate(cfg.IdentityName)
	if err != nil {
		return nil, err
	}
	log.Info().Bool("created", created).Hex("pub", l.PublicKey()[:8]).Msg("meshchat identity ready")
	return chat.LocalIdentity(l), nil
}

// fanOut copies events to n consumers. A consumer that falls behind loses
// events rather than stalling the others.
func fanOut(ctx context.Context, in <-chan chat.Event, n int) []chan chat.Event {
	out := make([]chan chat.Event, n)
	for i := range out {
		out[i] = make(chan chat.Event, 64)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-in:
				for _, ch := range out {
					select {
					case ch <- ev:
					default:
					}
				}
			}
		}
	}()
	return out
}
