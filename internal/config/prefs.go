package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/meshmodem/internal/radio"
)

const MaxNodeNameLen = 31

var ErrUnknownSetting = errors.New("config: unknown setting")

// Prefs are the chat node's persisted preferences.
type Prefs struct {
	NodeName      string  `toml:"node_name"`
	Lat           float64 `toml:"node_lat"`
	Lon           float64 `toml:"node_lon"`
	AirtimeFactor float64 `toml:"airtime_factor"`
	Freq          float64 `toml:"freq"`
	TxPowerDBm    int     `toml:"tx_power_dbm"`
	Bandwidth     float64 `toml:"bw"`
	SF            int     `toml:"sf"`
	CR            int     `toml:"cr"`
	ANSI          bool    `toml:"use_ansi_colors"`
}

func DefaultPrefs() Prefs {
	p := radio.DefaultParams()
	return Prefs{
		NodeName:      "NONAME",
		AirtimeFactor: 1.0,
		Freq:          p.FreqMHz,
		TxPowerDBm:    int(p.TxPowerDBm),
		Bandwidth:     p.BandwidthK,
		SF:            int(p.SF),
		CR:            int(p.CR),
	}
}

// Radio converts the stored RF settings to radio parameters.
func (p Prefs) Radio() radio.Params {
	r := radio.DefaultParams()
	r.FreqMHz = p.Freq
	r.BandwidthK = p.Bandwidth
	r.SF = uint8(p.SF)
	r.CR = uint8(p.CR)
	r.TxPowerDBm = int8(p.TxPowerDBm)
	return r
}

func ValidatePrefs(p Prefs) error {
	if err := validateName(p.NodeName); err != nil {
		return err
	}
	checks := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"airtime_factor", p.AirtimeFactor, 0.01, 100},
		{"node_lat", p.Lat, -90, 90},
		{"node_lon", p.Lon, -180, 180},
		{"tx_power_dbm", float64(p.TxPowerDBm), 2, 30},
		{"freq", p.Freq, 137, 1020},
		{"bw", p.Bandwidth, 7.8, 500},
		{"sf", float64(p.SF), 5, 12},
		{"cr", float64(p.CR), 5, 8},
	}
	for _, c := range checks {
		if c.v < c.min || c.v > c.max {
			return fmt.Errorf("config: %s must be between %g and %g", c.name, c.min, c.max)
		}
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("config: name is required")
	}
	if len(name) > MaxNodeNameLen {
		return fmt.Errorf("config: name longer than %d bytes", MaxNodeNameLen)
	}
	return nil
}

// LoadPrefs reads prefs from path. A missing file yields the defaults.
func LoadPrefs(path string) (Prefs, error) {
	p := DefaultPrefs()
	if err := loadToml(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPrefs(), nil
		}
		return Prefs{}, err
	}
	if err := ValidatePrefs(p); err != nil {
		return Prefs{}, err
	}
	return p, nil
}

func SavePrefs(path string, p Prefs) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("config encode failed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config save failed (%s): %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config save failed (%s): %w", path, err)
	}
	return nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Set applies one "set <key> <value>" change and returns the confirmation
// text. Radio settings take effect on restart.
func (p *Prefs) Set(key, value string) (string, error) {
	next := *p
	value = strings.TrimSpace(value)
	var msg string
	switch strings.ToLower(key) {
	case "name":
		next.NodeName = value
		msg = "Name: " + value
	case "lat":
		v, err := parseFloat(key, value)
		if err != nil {
			return "", err
		}
		next.Lat = v
		msg = fmt.Sprintf("Lat: %.6f", v)
	case "lon":
		v, err := parseFloat(key, value)
		if err != nil {
			return "", err
		}
		next.Lon = v
		msg = fmt.Sprintf("Lon: %.6f", v)
	case "af":
		v, err := parseFloat(key, value)
		if err != nil {
			return "", err
		}
		next.AirtimeFactor = v
		msg = fmt.Sprintf("AF: %.2f", v)
	case "freq":
		v, err := parseFloat(key, value)
		if err != nil {
			return "", err
		}
		next.Freq = v
		msg = fmt.Sprintf("Freq: %.2f MHz (restart)", v)
	case "bw":
		v, err := parseFloat(key, value)
		if err != nil {
			return "", err
		}
		next.Bandwidth = v
		msg = fmt.Sprintf("BW: %.1f kHz (restart)", v)
	case "tx":
		v, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("config: tx: %w", err)
		}
		next.TxPowerDBm = v
		msg = fmt.Sprintf("TX: %d dBm (restart)", v)
	case "sf":
		v, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("config: sf: %w", err)
		}
		next.SF = v
		msg = fmt.Sprintf("SF: %d (restart)", v)
	case "cr":
		v, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("config: cr: %w", err)
		}
		next.CR = v
		msg = fmt.Sprintf("CR: %d (restart)", v)
	case "ansi":
		switch value {
		case "on", "1":
			next.ANSI = true
		case "off", "0":
			next.ANSI = false
		default:
			return "", fmt.Errorf("config: ansi takes on or off")
		}
		msg = "ANSI colors: OFF"
		if next.ANSI {
			msg = "ANSI colors: ON"
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if err := ValidatePrefs(next); err != nil {
		return "", err
	}
	*p = next
	return msg, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
