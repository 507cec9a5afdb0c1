package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/stackr"
	"github.com/loykin/stackr/pkg/template"
)

// Init writes a starter config for the chosen profile.
func (c *command) Init(f InitFlags) error {
	home := ""
	if f.Home != "" {
		abs, err := absPath(f.Home)
		if err != nil {
			return err
		}
		home = abs
	}

	outputPath := f.Output
	if outputPath == "" {
		dir := home
		if dir == "" {
			cfg, err := stackr.DefaultConfig()
			if err != nil {
				return err
			}
			dir = cfg.Home
		}
		outputPath = filepath.Join(dir, "stackr.toml")
	}

	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}

	content, err := template.NewGenerator().GenerateTOML(template.Profile(f.Profile), home)
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(c.out, "Config created: %s\n", outputPath)
	_, _ = fmt.Fprintf(c.out, "Start the daemon with: stackr serve %s\n", outputPath)
	return nil
}
