package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/meshmodem/internal/serialport"
)

// meshchat config.toml key mapping to chat runtime settings.
type fileConfig struct {
	DataDir       string     `toml:"data_dir"`
	IdentityName  string     `toml:"identity_name"`
	ModemIdentity bool       `toml:"modem_identity"`
	Prefs         string     `toml:"prefs"`
	Link          string     `toml:"link"`
	UI            string     `toml:"ui"`
	BotScript     string     `toml:"bot_script"`
	StatusAddr    string     `toml:"status_addr"`
	StatusToken   string     `toml:"status_token"`
	CORSOrigins   []string   `toml:"cors_origins"`
	Serial        serialFile `toml:"serial"`
	Radio         radioFile  `toml:"radio"`
}

type serialFile struct {
	Device        string `toml:"device"`
	Baud          int    `toml:"baud"`
	ReadTimeoutMS int    `toml:"read_timeout_ms"`
}

type radioFile struct {
	Listen string   `toml:"listen"`
	Peers  []string `toml:"peers"`
	Loss   float64  `toml:"loss"`
}

const (
	linkUDP    = "udp"
	linkSerial = "serial"

	uiTUI  = "tui"
	uiLine = "line"
	uiNone = "none"
)

type appConfig struct {
	DataDir      string
	IdentityName string
	// ModemIdentity keeps keys on the modem; requires the serial link.
	ModemIdentity bool
	PrefsPath     string
	Link          string
	UI            string
	BotScript     string
	StatusAddr    string
	// StatusToken guards status actions; empty leaves them open.
	StatusToken string
	CORSOrigins []string
	Serial      serialport.Config
	Radio       radioFile
}

func (c appConfig) ContactsPath() string {
	return filepath.Join(c.DataDir, "contacts")
}

func (c appConfig) LogPath() string {
	return filepath.Join(c.DataDir, "meshchat.log")
}

func defaultConfig() appConfig {
	return appConfig{
		DataDir:      "data",
		IdentityName: "_chat",
		Link:         linkUDP,
		UI:           uiTUI,
		Serial:       serialport.DefaultConfig("/dev/ttyUSB0"),
		Radio:        radioFile{Listen: ":7401"},
	}
}

// meshchat loader for TOML config with default overlay.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load meshchat config: %w", err)
	}

	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("identity_name") {
		cfg.IdentityName = strings.TrimSpace(raw.IdentityName)
	}
	if meta.IsDefined("modem_identity") {
		cfg.ModemIdentity = raw.ModemIdentity
	}
	if meta.IsDefined("prefs") {
		cfg.PrefsPath = strings.TrimSpace(raw.Prefs)
	}
	if meta.IsDefined("link") {
		cfg.Link = strings.ToLower(strings.TrimSpace(raw.Link))
	}
	if meta.IsDefined("ui") {
		cfg.UI = strings.ToLower(strings.TrimSpace(raw.UI))
	}
	if meta.IsDefined("bot_script") {
		cfg.BotScript = strings.TrimSpace(raw.BotScript)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("serial", "device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "read_timeout_ms") {
		cfg.Serial.ReadTimeout = time.Duration(raw.Serial.ReadTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("radio", "listen") {
		cfg.Radio.Listen = strings.TrimSpace(raw.Radio.Listen)
	}
	if meta.IsDefined("radio", "peers") {
		cfg.Radio.Peers = raw.Radio.Peers
	}
	if meta.IsDefined("radio", "loss") {
		cfg.Radio.Loss = raw.Radio.Loss
	}

	if cfg.DataDir == "" {
		return appConfig{}, fmt.Errorf("load meshchat config: data_dir is required")
	}
	if cfg.PrefsPath == "" {
		cfg.PrefsPath = filepath.Join(cfg.DataDir, "prefs.toml")
	}
	switch cfg.Link {
	case linkUDP:
		if cfg.ModemIdentity {
			return appConfig{}, fmt.Errorf("load meshchat config: modem_identity requires link = %q", linkSerial)
		}
		if cfg.Radio.Loss < 0 || cfg.Radio.Loss >= 1 {
			return appConfig{}, fmt.Errorf("load meshchat config: radio loss %.2f outside [0,1)", cfg.Radio.Loss)
		}
	case linkSerial:
		if err := cfg.Serial.Validate(); err != nil {
			return appConfig{}, fmt.Errorf("load meshchat config: %w", err)
		}
	default:
		return appConfig{}, fmt.Errorf("load meshchat config: unsupported link %q (expected udp or serial)", cfg.Link)
	}
	switch cfg.UI {
	case uiTUI, uiLine, uiNone:
	default:
		return appConfig{}, fmt.Errorf("load meshchat config: unsupported ui %q (expected tui, line or none)", cfg.UI)
	}
	if !cfg.ModemIdentity && cfg.IdentityName == "" {
		return appConfig{}, fmt.Errorf("load meshchat config: identity_name is required")
	}
	return cfg, nil
}
