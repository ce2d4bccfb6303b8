// internal/config/normalize.go
package config

import (
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/planner"
)

// Defaults applied by Normalize.
const (
	DefaultROCTag              = 1
	DefaultBufferWords         = 256000
	DefaultFlushLimit          = 64
	DefaultMaxSlaveBlockLevel  = 1
	DefaultMaxSlaveBufferLevel = 10
	DefaultTimeoutMs           = 1000
	DefaultSimEventWords       = 64
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	c := &cfg.Crate

	if c.ROCTag == 0 {
		c.ROCTag = DefaultROCTag
	}
	if c.BufferWords == 0 {
		c.BufferWords = DefaultBufferWords
	}
	if c.MarginWords == 0 {
		c.MarginWords = planner.DefaultMarginWords
	}
	if c.FlushLimit == 0 {
		c.FlushLimit = DefaultFlushLimit
	}

	// ------------------------------------------------------------
	// TRIGGER
	// ------------------------------------------------------------

	t := &c.Trigger
	if t.Role == "" {
		t.Role = "master"
	}
	if t.BlockLevel == 0 {
		t.BlockLevel = 1
	}
	if t.BufferLevel == 0 {
		t.BufferLevel = 1
	}
	if t.MaxSlaveBlockLevel == 0 {
		t.MaxSlaveBlockLevel = DefaultMaxSlaveBlockLevel
	}
	if t.MaxSlaveBufferLevel == 0 {
		t.MaxSlaveBufferLevel = DefaultMaxSlaveBufferLevel
	}

	// ------------------------------------------------------------
	// FAMILIES
	// ------------------------------------------------------------

	for i := range c.Families {
		f := &c.Families[i]

		// kind already validated
		p, _ := module.ProfileFor(module.Family(f.Kind))

		if f.Transport == "" {
			f.Transport = "sim"
		}
		if f.TimeoutMs == 0 {
			f.TimeoutMs = DefaultTimeoutMs
		}
		if f.Bank == 0 {
			f.Bank = p.Bank
		}
		if f.PollBudget == 0 {
			f.PollBudget = p.PollBudget
		}
		if f.Sim.EventWords == 0 {
			f.Sim.EventWords = DefaultSimEventWords
		}

		switch p.Family {
		case module.FamilyMPD:
			if f.Geometry.EventBytes == 0 {
				f.Geometry.EventBytes = planner.DefaultMPDEventBytes
			}
		case module.FamilyMAROC:
			if f.Geometry.CeilingWords == 0 {
				f.Geometry.CeilingWords = planner.DefaultMAROCBlockWords
			}
		}
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if c.Status != nil && c.Status.TimeoutMs == 0 {
		c.Status.TimeoutMs = DefaultTimeoutMs
	}
	if c.Sink != nil && c.Sink.TimeoutMs == 0 {
		c.Sink.TimeoutMs = DefaultTimeoutMs
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}
