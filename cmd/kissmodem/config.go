package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/meshmodem/internal/modem"
	"github.com/danmuck/meshmodem/internal/radio"
	"github.com/danmuck/meshmodem/internal/serialport"
)

// kissmodem config.toml key mapping to modem runtime settings.
type fileConfig struct {
	IdentityDir  string     `toml:"identity_dir"`
	IdentityName string     `toml:"identity_name"`
	Strict       bool       `toml:"strict"`
	PoolSize     int        `toml:"pool_size"`
	StatusAddr   string     `toml:"status_addr"`
	CORSOrigins  []string   `toml:"cors_origins"`
	Capture      string     `toml:"capture"`
	Serial       serialFile `toml:"serial"`
	Radio        radioFile  `toml:"radio"`
}

type serialFile struct {
	Device        string `toml:"device"`
	Baud          int    `toml:"baud"`
	ReadTimeoutMS int    `toml:"read_timeout_ms"`
}

type radioFile struct {
	Mode       string   `toml:"mode"`
	Listen     string   `toml:"listen"`
	Peers      []string `toml:"peers"`
	Freq       float64  `toml:"freq"`
	BW         float64  `toml:"bw"`
	SF         int      `toml:"sf"`
	CR         int      `toml:"cr"`
	TxPowerDBm int      `toml:"tx_power_dbm"`
	Loss       float64  `toml:"loss"`
}

const (
	radioModeUDP = "udp"
	radioModeMem = "mem"
)

type radioConfig struct {
	Mode   string
	Listen string
	Peers  []string
	Params radio.Params
	Loss   float64
}

type appConfig struct {
	IdentityDir  string
	IdentityName string
	Modem        modem.Config
	StatusAddr   string
	CORSOrigins  []string
	Capture      string
	Serial       serialport.Config
	Radio        radioConfig
}

func defaultConfig() appConfig {
	return appConfig{
		IdentityDir:  "data",
		IdentityName: "_main",
		Modem:        modem.DefaultConfig(),
		Serial:       serialport.DefaultConfig("/dev/ttyUSB0"),
		Radio: radioConfig{
			Mode:   radioModeUDP,
			Listen: ":7400",
			Params: radio.DefaultParams(),
		},
	}
}

// kissmodem loader for TOML config with default overlay.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load kissmodem config: %w", err)
	}

	if meta.IsDefined("identity_dir") {
		cfg.IdentityDir = strings.TrimSpace(raw.IdentityDir)
	}
	if meta.IsDefined("identity_name") {
		cfg.IdentityName = strings.TrimSpace(raw.IdentityName)
	}
	if meta.IsDefined("strict") {
		cfg.Modem.Strict = raw.Strict
	}
	if meta.IsDefined("pool_size") {
		cfg.Modem.PoolSize = raw.PoolSize
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("capture") {
		cfg.Capture = strings.TrimSpace(raw.Capture)
	}
	applySerial(meta, raw.Serial, &cfg.Serial)

	if meta.IsDefined("radio", "mode") {
		cfg.Radio.Mode = strings.ToLower(strings.TrimSpace(raw.Radio.Mode))
	}
	if meta.IsDefined("radio", "listen") {
		cfg.Radio.Listen = strings.TrimSpace(raw.Radio.Listen)
	}
	if meta.IsDefined("radio", "peers") {
		cfg.Radio.Peers = raw.Radio.Peers
	}
	if meta.IsDefined("radio", "freq") {
		cfg.Radio.Params.FreqMHz = raw.Radio.Freq
	}
	if meta.IsDefined("radio", "bw") {
		cfg.Radio.Params.BandwidthK = raw.Radio.BW
	}
	if meta.IsDefined("radio", "sf") {
		cfg.Radio.Params.SF = uint8(raw.Radio.SF)
	}
	if meta.IsDefined("radio", "cr") {
		cfg.Radio.Params.CR = uint8(raw.Radio.CR)
	}
	if meta.IsDefined("radio", "tx_power_dbm") {
		cfg.Radio.Params.TxPowerDBm = int8(raw.Radio.TxPowerDBm)
	}
	if meta.IsDefined("radio", "loss") {
		cfg.Radio.Loss = raw.Radio.Loss
	}

	if cfg.IdentityName == "" {
		return appConfig{}, fmt.Errorf("load kissmodem config: identity_name is required")
	}
	if cfg.Modem.PoolSize <= 0 {
		return appConfig{}, fmt.Errorf("load kissmodem config: pool_size must be positive, got %d", cfg.Modem.PoolSize)
	}
	if err := cfg.Serial.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("load kissmodem config: %w", err)
	}
	switch cfg.Radio.Mode {
	case radioModeUDP, radioModeMem:
	default:
		return appConfig{}, fmt.Errorf("load kissmodem config: unsupported radio mode %q (expected udp or mem)", cfg.Radio.Mode)
	}
	if err := cfg.Radio.Params.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("load kissmodem config: %w", err)
	}
	if cfg.Radio.Loss < 0 || cfg.Radio.Loss >= 1 {
		return appConfig{}, fmt.Errorf("load kissmodem config: radio loss %.2f outside [0,1)", cfg.Radio.Loss)
	}
	return cfg, nil
}

func applySerial(meta toml.MetaData, raw serialFile, out *serialport.Config) {
	if meta.IsDefined("serial", "device") {
		out.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("serial", "baud") {
		out.Baud = raw.Baud
	}
	if meta.IsDefined("serial", "read_timeout_ms") {
		out.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}
}
