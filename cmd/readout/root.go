// cmd/readout/root.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamzrod/crate-readout/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "readout",
	Short: "Triggered block readout of a front-end crate",
	Long: `readout drives one crate through download, prestart, go, end and
cleanup, reading every configured module family into one framed event
per trigger.`,
	SilenceUsage: true,
}

// loadConfig reads, overrides, validates and normalizes a crate file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}
