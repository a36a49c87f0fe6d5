package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Kinds lists the templates Template knows.
var Kinds = []string{"kissmodem", "meshchat", "kissmon", "prefs"}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "kissmodem":
		return kissmodemTemplate, nil
	case "meshchat":
		return meshchatTemplate, nil
	case "kissmon":
		return kissmonTemplate, nil
	case "prefs":
		data, err := toml.Marshal(DefaultPrefs())
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// CheckSyntax parses path as TOML without binding it to a schema.
func CheckSyntax(path string) error {
	var raw map[string]any
	return loadToml(path, &raw)
}

const kissmodemTemplate = `identity_dir = "data"
identity_name = "_main"
strict = false
pool_size = 32
status_addr = ":9110"
cors_origins = ["http://localhost:3000"]
capture = ""

[serial]
device = "/dev/ttyUSB0"
baud = 115200
read_timeout_ms = 100

[radio]
mode = "udp"
listen = ":7400"
peers = ["127.0.0.1:7401"]
freq = 915.0
bw = 250.0
sf = 10
cr = 5
tx_power_dbm = 20
loss = 0.0
`

const meshchatTemplate = `data_dir = "data"
identity_name = "_chat"
modem_identity = false
prefs = "data/prefs.toml"
link = "udp"
ui = "tui"
bot_script = ""
status_addr = ""
status_token = ""

[serial]
device = "/dev/ttyUSB0"
baud = 115200
read_timeout_ms = 100

[radio]
listen = ":7401"
peers = ["127.0.0.1:7400"]
loss = 0.0
`

const kissmonTemplate = `capture = "kissmon.pcap"
channel_key = "izOH6cXN6mrJ5e26oRXNcg=="

[serial]
device = "/dev/ttyUSB0"
baud = 115200
read_timeout_ms = 100
`
