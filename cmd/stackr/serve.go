package main

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/stackr"
)

func runServe(ctx context.Context, f ServeFlags) error {
	cfg, err := stackr.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.Home, 0o750); err != nil {
		return fmt.Errorf("failed to create home %s: %w", cfg.Home, err)
	}

	if f.Daemonize {
		return daemonize(f.PidFile, f.LogFile)
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	s, err := stackr.New(cfg)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
