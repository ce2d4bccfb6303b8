// internal/bringup/builder.go
package bringup

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/tamzrod/crate-readout/internal/config"
	hwmodbus "github.com/tamzrod/crate-readout/internal/hw/modbus"
	"github.com/tamzrod/crate-readout/internal/logging"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/planner"
	"github.com/tamzrod/crate-readout/internal/readout"
	"github.com/tamzrod/crate-readout/internal/sim"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

// Factory creates the hardware of one family. The closer may be nil.
type Factory func(f config.FamilyConfig) (module.Hardware, io.Closer, error)

// Registry maps a transport name to its factory.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the sim and modbus transports.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("sim", SimFactory)
	r.Register("modbus", ModbusFactory)
	return r
}

// Register adds or replaces a transport.
func (r *Registry) Register(transport string, f Factory) {
	r.factories[transport] = f
}

// Transports lists the registered transport names.
func (r *Registry) Transports() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- factories ----

// SimFactory builds a simulated crate for the family.
func SimFactory(f config.FamilyConfig) (module.Hardware, io.Closer, error) {
	geo := sim.Geometry{
		Channels:   f.Geometry.Channels,
		Window:     f.Geometry.Window,
		EventWords: f.Sim.EventWords,
		ReadyDelay: f.Sim.ReadyDelay,
	}
	return sim.NewCrate(module.Family(f.Kind), geo, f.Slots...), nil, nil
}

// ModbusFactory dials the family's Modbus gateway.
func ModbusFactory(f config.FamilyConfig) (module.Hardware, io.Closer, error) {
	br, err := hwmodbus.Dial(hwmodbus.Config{
		Endpoint: f.Endpoint,
		UnitID:   f.UnitID,
		Timeout:  time.Duration(f.TimeoutMs) * time.Millisecond,
		Slots:    f.Slots,
	})
	if err != nil {
		return nil, nil, err
	}
	return br, br, nil
}

// ---- build ----

// Result is the brought-up crate.
type Result struct {
	// Units are the module sets with at least one working module.
	Units []readout.Unit

	// Hardware holds every family that was created, usable or not,
	// so teardown can reach it.
	Hardware []module.Hardware

	// Failures are SetupFailure faults of excluded modules.
	Failures []readout.Fault

	// Firers are simulated families a software pulser must drive.
	Firers []trigger.Firer

	closers []io.Closer
}

// Close releases transport connections.
func (r *Result) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Builder brings up the families of one crate.
type Builder struct {
	reg      *Registry
	families []config.FamilyConfig
	log      *slog.Logger
}

// NewBuilder returns a Builder over normalized family configs.
func NewBuilder(reg *Registry, families []config.FamilyConfig, log *slog.Logger) *Builder {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Builder{reg: reg, families: families, log: logging.For(log, logging.ComponentBringup)}
}

// Bringup creates every family and probes every slot. A module that
// fails is excluded and reported; the rest of the crate is kept.
// An error is returned only when nothing could be built at all.
func (b *Builder) Bringup() (*Result, error) {
	res := &Result{}

	for _, f := range b.families {
		b.family(f, res)
	}

	if len(res.Units) == 0 {
		_ = res.Close()
		return res, fmt.Errorf("bringup: no usable module in %d families", len(b.families))
	}
	return res, nil
}

func (b *Builder) family(f config.FamilyConfig, res *Result) {
	fail := func(slot int, err error) {
		res.Failures = append(res.Failures, readout.Fault{
			Kind: readout.SetupFailure, Unit: f.Name, Slot: slot, Mask: module.Bit(slot), Err: err,
		})
		b.log.Error("module setup failed",
			"seq", 0, "module", f.Name, "slot", slot, "words", 0, "err", err)
	}

	p, err := module.ProfileFor(module.Family(f.Kind))
	if err != nil {
		for _, s := range f.Slots {
			fail(s, err)
		}
		return
	}
	if f.Bank != 0 {
		p.Bank = f.Bank
	}
	if f.PollBudget > 0 {
		p.PollBudget = f.PollBudget
	}

	factory, ok := b.reg.factories[f.Transport]
	if !ok {
		err := fmt.Errorf("bringup: unknown transport %q", f.Transport)
		for _, s := range f.Slots {
			fail(s, err)
		}
		return
	}

	hw, closer, err := factory(f)
	if err != nil {
		for _, s := range f.Slots {
			fail(s, fmt.Errorf("bringup: %s: %w", f.Transport, err))
		}
		return
	}
	res.Hardware = append(res.Hardware, hw)
	if closer != nil {
		res.closers = append(res.closers, closer)
	}
	if fr, ok := hw.(trigger.Firer); ok {
		res.Firers = append(res.Firers, fr)
	}

	var handles []module.Handle
	for _, s := range f.Slots {
		if err := hw.Probe(s); err != nil {
			fail(s, err)
			continue
		}
		handles = append(handles, module.Handle{
			Slot:        s,
			Family:      f.Name,
			ReadCeiling: f.Geometry.CeilingWords,
		})
	}
	if len(handles) == 0 {
		return
	}

	set, err := module.NewSet(handles...)
	if err != nil {
		fail(handles[0].Slot, err)
		return
	}
	drv, err := module.NewDriver(f.Name, p, set, hw)
	if err != nil {
		fail(handles[0].Slot, err)
		return
	}

	res.Units = append(res.Units, readout.Unit{
		Driver:     drv,
		Bank:       p.Bank,
		PollBudget: p.PollBudget,
		Params:     paramsOf(f, len(handles)),
	})

	b.log.Info("family up",
		"module", f.Name,
		"kind", f.Kind,
		"transport", f.Transport,
		"scan_mask", set.ScanMask().String(),
		"transfer", drv.Transfer().String(),
	)
}

// ---- capacity inputs ----

// PlannerParams returns the capacity inputs of every configured family,
// counting every configured slot. Bring-up counts only the slots that
// came up.
func PlannerParams(families []config.FamilyConfig) []planner.Params {
	out := make([]planner.Params, 0, len(families))
	for _, f := range families {
		out = append(out, paramsOf(f, len(f.Slots)))
	}
	return out
}

func paramsOf(f config.FamilyConfig, boards int) planner.Params {
	return planner.Params{
		Name:       f.Name,
		Family:     module.Family(f.Kind),
		Boards:     boards,
		Channels:   f.Geometry.Channels,
		Window:     f.Geometry.Window,
		EventBytes: f.Geometry.EventBytes,
		BlockWords: f.Geometry.CeilingWords,
	}
}
