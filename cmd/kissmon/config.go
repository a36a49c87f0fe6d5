package main

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/meshmodem/internal/meshcrypto"
	"github.com/danmuck/meshmodem/internal/serialport"
)

// kissmon config.toml key mapping to monitor settings.
type fileConfig struct {
	Capture    string `toml:"capture"`
	ChannelKey string `toml:"channel_key"`
	Serial     struct {
		Device        string `toml:"device"`
		Baud          int    `toml:"baud"`
		ReadTimeoutMS int    `toml:"read_timeout_ms"`
	} `toml:"serial"`
}

type appConfig struct {
	// Capture is a pcap path; empty disables capture.
	Capture    string
	ChannelKey string
	Serial     serialport.Config
}

func defaultConfig() appConfig {
	return appConfig{
		ChannelKey: meshcrypto.PublicChannelKey,
		Serial:     serialport.DefaultConfig("/dev/ttyUSB0"),
	}
}

// kissmon loader for TOML config with default overlay.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load kissmon config: %w", err)
	}
	if meta.IsDefined("capture") {
		cfg.Capture = strings.TrimSpace(raw.Capture)
	}
	if meta.IsDefined("channel_key") {
		cfg.ChannelKey = strings.TrimSpace(raw.ChannelKey)
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

	key, err := base64.StdEncoding.DecodeString(cfg.ChannelKey)
	if err != nil {
		return appConfig{}, fmt.Errorf("load kissmon config: channel_key: %w", err)
	}
	if len(key) != meshcrypto.KeySize {
		return appConfig{}, fmt.Errorf("load kissmon config: channel_key must be %d bytes, got %d", meshcrypto.KeySize, len(key))
	}
	if err := cfg.Serial.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("load kissmon config: %w", err)
	}
	return cfg, nil
}
