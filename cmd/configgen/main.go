package main

import (
	"flag"
	"log"
	"strings"

	"github.com/danmuck/meshmodem/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "prefs":
		return "data/prefs.toml"
	default:
		return "cmd/" + kind + "/config.toml"
	}
}

func knownKind(kind string) bool {
	for _, k := range config.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func main() {
	kind := flag.String("kind", "meshchat", "config kind: "+strings.Join(config.Kinds, "|"))
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if !knownKind(*kind) {
		log.Fatalf("unknown kind: %s", *kind)
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		var err error
		if *kind == "prefs" {
			_, err = config.LoadPrefs(path)
		} else {
			err = config.CheckSyntax(path)
		}
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
