// internal/config/load.go
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads and decodes a YAML configuration file.
// Unknown keys are rejected. No validation or defaults are applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads one YAML document.
func Decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config: empty document")
		}
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// overrides are the environment variables that win over the file.
// Unset variables leave the file value alone.
type overrides struct {
	BlockLevel     *int    `env:"READOUT_BLOCK_LEVEL"`
	BufferLevel    *int    `env:"READOUT_BUFFER_LEVEL"`
	RunlogPath     *string `env:"READOUT_RUNLOG_PATH"`
	LogLevel       *string `env:"READOUT_LOG_LEVEL"`
	StatusEndpoint *string `env:"READOUT_STATUS_ENDPOINT"`
	SinkEndpoint   *string `env:"READOUT_SINK_ENDPOINT"`
}

// ApplyEnv applies environment overrides. A nil environ reads the
// process environment. Call before Validate.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}

	var o overrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	c := &cfg.Crate
	if o.BlockLevel != nil {
		c.Trigger.BlockLevel = *o.BlockLevel
	}
	if o.BufferLevel != nil {
		c.Trigger.BufferLevel = *o.BufferLevel
	}
	if o.LogLevel != nil {
		c.Log.Level = *o.LogLevel
	}
	if o.RunlogPath != nil {
		if c.Runlog == nil {
			c.Runlog = &RunlogConfig{}
		}
		c.Runlog.Path = *o.RunlogPath
	}
	if o.StatusEndpoint != nil {
		if c.Status == nil {
			c.Status = &StatusConfig{}
		}
		c.Status.Endpoint = *o.StatusEndpoint
	}
	if o.SinkEndpoint != nil {
		if c.Sink == nil {
			c.Sink = &SinkConfig{}
		}
		c.Sink.Endpoint = *o.SinkEndpoint
	}
	return nil
}
