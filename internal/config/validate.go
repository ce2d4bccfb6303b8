// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/crate-readout/internal/module"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	c := cfg.Crate

	// ------------------------------------------------------------
	// CRATE
	// ------------------------------------------------------------

	if c.Name == "" {
		return fmt.Errorf("crate: name is required")
	}
	if c.BufferWords < 0 || c.MarginWords < 0 || c.FlushLimit < 0 {
		return fmt.Errorf("crate %q: buffer_words, margin_words and flush_limit must not be negative", c.Name)
	}
	for i := 0; i < len(c.Name); i++ {
		if c.Name[i] > 0x7F {
			return fmt.Errorf("crate %q: name must contain ASCII characters only", c.Name)
		}
	}

	// ------------------------------------------------------------
	// TRIGGER
	// ------------------------------------------------------------

	t := c.Trigger
	switch t.Role {
	case "", "master", "slave":
	default:
		return fmt.Errorf("trigger: unknown role %q", t.Role)
	}
	if t.BlockLevel < 0 || t.BlockLevel > 255 {
		return fmt.Errorf("trigger: block_level %d out of range 1..255", t.BlockLevel)
	}
	if t.BufferLevel < 0 || t.SyncInterval < 0 || t.RateHz < 0 {
		return fmt.Errorf("trigger: buffer_level, sync_interval and rate_hz must not be negative")
	}
	if t.MaxSlaveBlockLevel < 0 || t.MaxSlaveBufferLevel < 0 {
		return fmt.Errorf("trigger: slave limits must not be negative")
	}

	// ------------------------------------------------------------
	// FAMILIES
	// ------------------------------------------------------------

	if len(c.Families) == 0 {
		return fmt.Errorf("crate %q: at least one family is required", c.Name)
	}

	names := make(map[string]struct{})
	// key = effective bank tag
	banks := make(map[uint16]string)
	// key = backplane slot
	slots := make(map[int]string)

	for _, f := range c.Families {
		if f.Name == "" {
			return fmt.Errorf("family: name is required")
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("family %q: duplicate name", f.Name)
		}
		names[f.Name] = struct{}{}

		p, err := module.ProfileFor(module.Family(f.Kind))
		if err != nil {
			return fmt.Errorf("family %q: unknown kind %q", f.Name, f.Kind)
		}

		switch f.Transport {
		case "", "sim":
		case "modbus":
			if f.Endpoint == "" {
				return fmt.Errorf("family %q: modbus transport requires endpoint", f.Name)
			}
		default:
			return fmt.Errorf("family %q: unknown transport %q", f.Name, f.Transport)
		}

		if f.TimeoutMs < 0 || f.PollBudget < 0 {
			return fmt.Errorf("family %q: timeout_ms and poll_budget must not be negative", f.Name)
		}

		bank := f.Bank
		if bank == 0 {
			bank = p.Bank
		}
		if bank == c.ROCTag && c.ROCTag != 0 {
			return fmt.Errorf("family %q: bank %d collides with roc_tag", f.Name, bank)
		}
		if prev, exists := banks[bank]; exists {
			return fmt.Errorf("bank collision: tag=%d used by families %q and %q", bank, prev, f.Name)
		}
		banks[bank] = f.Name

		if len(f.Slots) == 0 {
			return fmt.Errorf("family %q: at least one slot is required", f.Name)
		}
		for _, s := range f.Slots {
			if s < 0 || s > module.MaxSlot {
				return fmt.Errorf("family %q: slot %d out of range 0..%d", f.Name, s, module.MaxSlot)
			}
			if prev, exists := slots[s]; exists {
				return fmt.Errorf("slot collision: slot=%d used by families %q and %q", s, prev, f.Name)
			}
			slots[s] = f.Name
		}

		if err := validateGeometry(f); err != nil {
			return err
		}
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if c.Status != nil {
		if c.Status.Endpoint == "" {
			return fmt.Errorf("status: endpoint is required when status is set")
		}
		if int(c.Status.BaseSlot)+module.MaxSlot >= 4096 {
			return fmt.Errorf("status: base_slot %d overflows register space", c.Status.BaseSlot)
		}
	}
	if c.Sink != nil && c.Sink.Endpoint == "" {
		return fmt.Errorf("sink: endpoint is required when sink is set")
	}
	if c.Runlog != nil && c.Runlog.Path == "" {
		return fmt.Errorf("runlog: path is required when runlog is set")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	return nil
}

func validateGeometry(f FamilyConfig) error {
	g := f.Geometry
	if g.Channels < 0 || g.Window < 0 || g.EventBytes < 0 || g.CeilingWords < 0 {
		return fmt.Errorf("family %q: geometry must not be negative", f.Name)
	}
	if f.Sim.EventWords < 0 || f.Sim.ReadyDelay < 0 {
		return fmt.Errorf("family %q: sim settings must not be negative", f.Name)
	}
	if module.Family(f.Kind) == module.FamilyFADC {
		if g.Channels == 0 || g.Window == 0 {
			return fmt.Errorf("family %q: fadc250 requires geometry.channels and geometry.window", f.Name)
		}
		if g.Channels > 16 {
			return fmt.Errorf("family %q: fadc250 has at most 16 channels", f.Name)
		}
	}
	return nil
}
