package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/meshmodem/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
identity_name = "bench"
strict = true
status_addr = "127.0.0.1:9110"
[serial]
device = "/dev/ttyACM0"
read_timeout_ms = 250
[radio]
mode = "MEM"
sf = 7
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IdentityName != "bench" || cfg.IdentityDir != "data" {
		t.Fatalf("unexpected identity settings: %q %q", cfg.IdentityDir, cfg.IdentityName)
	}
	if !cfg.Modem.Strict || cfg.Modem.PoolSize != 32 {
		t.Fatalf("unexpected modem config: %+v", cfg.Modem)
	}
	if cfg.Serial.Device != "/dev/ttyACM0" || cfg.Serial.Baud != 115200 || cfg.Serial.ReadTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected serial config: %+v", cfg.Serial)
	}
	if cfg.Radio.Mode != radioModeMem || cfg.Radio.Params.SF != 7 || cfg.Radio.Params.FreqMHz != 915 {
		t.Fatalf("unexpected radio config: %+v", cfg.Radio)
	}
}

func TestLoadConfigTemplate(t *testing.T) {
	tmpl, err := config.Template("kissmodem")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := loadConfig(writeConfig(t, tmpl))
	if err != nil {
		t.Fatalf("template must load: %v", err)
	}
	if cfg.Radio.Mode != radioModeUDP || len(cfg.Radio.Peers) != 1 || cfg.StatusAddr != ":9110" {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	for _, content := range []string{
		`identity_name = ""`,
		`pool_size = 0`,
		"[radio]\nmode = \"lora\"",
		"[radio]\nsf = 13",
		"[radio]\nloss = 1.0",
		"[serial]\ndevice = \"\"",
	} {
		if _, err := loadConfig(writeConfig(t, content)); err == nil || !strings.Contains(err.Error(), "kissmodem") {
			t.Fatalf("config %q: expected load error, got %v", content, err)
		}
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file must fail")
	}
}
