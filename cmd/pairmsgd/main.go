package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/pairmsg/pairmsg/internal/config"
	"github.com/pairmsg/pairmsg/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.pairmsg/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", path, err)
		os.Exit(1)
	}
	if !cfg.Session().Valid() {
		fmt.Fprintf(os.Stderr, "error: %s: identity.email is required\n", path)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
