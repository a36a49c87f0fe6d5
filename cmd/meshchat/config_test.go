package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/meshmodem/internal/chat"
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
	cfg, err := loadConfig(writeConfig(t, `
data_dir = "/var/lib/meshchat"
ui = "LINE"
bot_script = "bot.lua"
status_token = " tok "
[radio]
peers = ["10.0.0.2:7400", "10.0.0.3:7400"]
loss = 0.1
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PrefsPath != "/var/lib/meshchat/prefs.toml" || cfg.ContactsPath() != "/var/lib/meshchat/contacts" {
		t.Fatalf("unexpected derived paths: %q %q", cfg.PrefsPath, cfg.ContactsPath())
	}
	if cfg.UI != uiLine || cfg.Link != linkUDP || cfg.BotScript != "bot.lua" || cfg.StatusToken != "tok" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Radio.Listen != ":7401" || len(cfg.Radio.Peers) != 2 || cfg.Radio.Loss != 0.1 {
		t.Fatalf("unexpected radio config: %+v", cfg.Radio)
	}
	if cfg.IdentityName != "_chat" || cfg.ModemIdentity {
		t.Fatalf("unexpected identity config: %q modem=%v", cfg.IdentityName, cfg.ModemIdentity)
	}
}

func TestLoadConfigSerialLink(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
link = "serial"
modem_identity = true
identity_name = ""
[serial]
device = "/dev/ttyACM1"
baud = 57600
read_timeout_ms = 50
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Link != linkSerial || !cfg.ModemIdentity {
		t.Fatalf("unexpected link config: %+v", cfg)
	}
	if cfg.Serial.Device != "/dev/ttyACM1" || cfg.Serial.Baud != 57600 || cfg.Serial.ReadTimeout != 50*time.Millisecond {
		t.Fatalf("unexpected serial config: %+v", cfg.Serial)
	}
}

func TestLoadConfigTemplate(t *testing.T) {
	tmpl, err := config.Template("meshchat")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := loadConfig(writeConfig(t, tmpl))
	if err != nil {
		t.Fatalf("template must load: %v", err)
	}
	if cfg.PrefsPath != "data/prefs.toml" || cfg.UI != uiTUI {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	for _, content := range []string{
		`link = "bluetooth"`,
		`ui = "gui"`,
		`modem_identity = true`,
		`data_dir = ""`,
		"link = \"serial\"\n[serial]\nbaud = 0",
		"[radio]\nloss = 2.0",
		`identity_name = ""`,
	} {
		if _, err := loadConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("config %q: expected load error", content)
		}
	}
}

func TestFanOutCopiesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan chat.Event)
	out := fanOut(ctx, in, 2)
	in <- chat.Event{Kind: chat.EventNotice, Text: "hi"}
	for i, ch := range out {
		select {
		case ev := <-ch:
			if ev.Text != "hi" {
				t.Fatalf("consumer %d got=%q", i, ev.Text)
			}
		case <-time.After(time.Second):
			t.Fatalf("consumer %d got nothing", i)
		}
	}
}
