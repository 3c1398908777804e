package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmdesk/vmdesk/internal/buildinfo"
	"github.com/vmdesk/vmdesk/internal/config"
	"github.com/vmdesk/vmdesk/internal/daemon"
)

func main() {
	var showVersion bool
	var configPath string

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmdeskd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("vmdeskd: starting %s", buildinfo.String())
	if err := daemon.Run(ctx, cfg, logger); err != nil {
		logger.Printf("vmdeskd: %v", err)
		os.Exit(1)
	}
	logger.Printf("vmdeskd: shutdown complete")
}

// loadConfig reads the config file at path. With no explicit path, a missing
// default config file is not an error; the built-in defaults apply.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == "" && errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.Config{}, err
}

// newLogger honors log_timestamps; under systemd the journal already stamps
// each line.
func newLogger(cfg config.Config) *log.Logger {
	flags := 0
	if cfg.LogTimestamps {
		flags = log.LstdFlags
	}
	return log.New(os.Stderr, "", flags)
}
