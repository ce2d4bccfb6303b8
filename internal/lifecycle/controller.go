// internal/lifecycle/controller.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tamzrod/crate-readout/internal/bringup"
	"github.com/tamzrod/crate-readout/internal/logging"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/planner"
	"github.com/tamzrod/crate-readout/internal/readout"
	"github.com/tamzrod/crate-readout/internal/runlog"
	"github.com/tamzrod/crate-readout/internal/status"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

// Bringup creates the crate's hardware and module sets.
// bringup.Builder satisfies it.
type Bringup interface {
	Bringup() (*bringup.Result, error)
}

// Publisher delivers counter snapshots. export.Publisher satisfies it.
type Publisher interface {
	Publish(mods []status.ModuleCounters) error
}

// Recorder stores the end-of-run report. runlog.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, r runlog.Report) (string, error)
}

// Config is the run-control view of the crate.
type Config struct {
	Crate     string
	RunNumber int

	Readout     readout.Config
	MarginWords int

	Role   trigger.Role
	Limits trigger.Limits
}

// Deps are the collaborators of the controller. Bringup and Trigger are
// required; the rest may be nil.
type Deps struct {
	Bringup   Bringup
	Trigger   trigger.Source
	Publisher Publisher
	Recorder  Recorder
	Sink      readout.Sink
	Log       *slog.Logger
}

// attacher is a trigger source that drives simulated families.
type attacher interface {
	Attach(f trigger.Firer)
}

// Controller sequences download, prestart, go, end and cleanup around
// the readout loop. It is driven from one goroutine.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	state State
	setup *bringup.Result
	orch  *readout.Orchestrator

	disabled []readout.Fault
	levels   trigger.Levels
	plan     planner.Plan

	runID    string
	started  time.Time
	triggers int
}

// New returns an Unconfigured controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Bringup == nil {
		return nil, errors.New("lifecycle: bringup required")
	}
	if deps.Trigger == nil {
		return nil, errors.New("lifecycle: trigger source required")
	}
	if cfg.Role == "" {
		cfg.Role = trigger.RoleMaster
	}
	return &Controller{
		cfg:  cfg,
		deps: deps,
		log:  logging.For(deps.Log, logging.ComponentLifecycle),
	}, nil
}

func (c *Controller) State() State           { return c.state }
func (c *Controller) Levels() trigger.Levels { return c.levels }
func (c *Controller) Plan() planner.Plan     { return c.plan }
func (c *Controller) RunID() string          { return c.runID }
func (c *Controller) Triggers() int          { return c.triggers }

// Counters returns the run counters, nil before a successful download.
func (c *Controller) Counters() *status.Counters {
	if c.orch == nil {
		return nil
	}
	return c.orch.Counters()
}

// ---- download ----

// Download brings up the crate. Modules that fail are excluded and
// reported through a *SetupError; the controller is Downloaded anyway.
func (c *Controller) Download() error {
	if c.state != Unconfigured {
		return transitionError("download", c.state)
	}

	res, err := c.deps.Bringup.Bringup()
	if res == nil {
		return fmt.Errorf("lifecycle: bringup: %w", err)
	}
	c.setup = res
	c.disabled = res.Failures
	c.state = Downloaded

	if a, ok := c.deps.Trigger.(attacher); ok {
		for _, f := range res.Firers {
			a.Attach(f)
		}
	}

	if len(res.Units) > 0 {
		orch, oerr := readout.New(c.cfg.Readout, c.deps.Trigger, res.Units, c.deps.Log)
		if oerr != nil {
			return fmt.Errorf("lifecycle: readout: %w", oerr)
		}
		c.orch = orch
		c.markDisabled()
	}

	for _, u := range res.Units {
		c.log.Info("downloaded",
			"module", u.Driver.Name(),
			"scan_mask", u.Driver.Set().ScanMask().String(),
		)
	}

	if err != nil || len(res.Failures) > 0 {
		return &SetupError{Faults: res.Failures, Cause: err}
	}
	return nil
}

func (c *Controller) markDisabled() {
	for _, f := range c.disabled {
		c.orch.Counters().MarkDisabled(f.Slot, f.Unit)
	}
}

// ---- prestart ----

// Prestart clears counters and resets token and trigger-count state.
// Modules are left disabled.
func (c *Controller) Prestart() error {
	if c.state != Downloaded && c.state != Ended {
		return transitionError("prestart", c.state)
	}
	c.state = Prestarted
	c.runID = runlog.NewRunID()
	c.triggers = 0

	if c.orch == nil {
		c.log.Warn("prestart: no modules")
		return nil
	}

	c.forEachHardware("disable", func(hw module.Hardware) error { return hw.Disable() })

	for _, u := range c.orch.Units() {
		hw := u.Driver.Hardware()
		for _, h := range u.Driver.Set().Handles() {
			err := errors.Join(hw.SoftReset(h.Slot), hw.ResetToken(h.Slot), hw.ResetTriggerCount(h.Slot))
			if err != nil {
				c.log.Error("prestart reset failed",
					"seq", 0, "module", u.Driver.Name(), "slot", h.Slot, "words", 0, "err", err)
			}
		}
	}

	// baselines are taken after the resets, which may clear hardware counters
	c.orch.Reset()
	c.markDisabled()

	c.log.Info("prestarted", "run_id", c.runID, "run", c.cfg.RunNumber)
	return nil
}

// ---- go ----

// Go reads the block level, freezes the capacity plan and enables modules.
func (c *Controller) Go() error {
	if c.state != Prestarted {
		return transitionError("go", c.state)
	}

	lv, err := trigger.Clamp(c.cfg.Role, trigger.Levels{
		Block:  c.deps.Trigger.BlockLevel(),
		Buffer: c.deps.Trigger.BufferLevel(),
	}, c.cfg.Limits)
	if err != nil {
		c.log.Error("go: levels clamped", "err", err, "block_level", lv.Block, "buffer_level", lv.Buffer)
	}
	c.levels = lv

	if c.orch == nil {
		c.log.Warn("go: no modules")
		c.state = Running
		c.started = time.Now()
		return nil
	}

	var errs []error
	c.forEachHardware("set block level", func(hw module.Hardware) error {
		if err := hw.SetBlockLevel(lv.Block); err != nil {
			errs = append(errs, err)
			return err
		}
		return nil
	})
	if len(errs) > 0 {
		return fmt.Errorf("lifecycle: go: %w", errors.Join(errs...))
	}

	plan, err := planner.ComputeMaxWords(lv.Block, c.orch.PlannerParams(), c.cfg.MarginWords)
	if err != nil {
		return fmt.Errorf("lifecycle: go: %w", err)
	}
	if err := c.orch.Arm(plan); err != nil {
		return fmt.Errorf("lifecycle: go: %w", err)
	}
	c.plan = plan

	c.forEachHardware("enable", func(hw module.Hardware) error { return hw.Enable() })

	c.state = Running
	c.started = time.Now()
	c.log.Info("go",
		"block_level", lv.Block,
		"buffer_level", lv.Buffer,
		"max_words", plan.Total,
	)
	return nil
}

// ---- running ----

// Run services triggers until maxTriggers have been read (0 = no limit)
// or ctx is done. A done context is a normal stop.
func (c *Controller) Run(ctx context.Context, maxTriggers int) error {
	if c.state != Running {
		return transitionError("run", c.state)
	}
	if c.orch == nil {
		c.log.Warn("run: no modules")
		return nil
	}

	for maxTriggers <= 0 || c.triggers < maxTriggers {
		tr, err := c.deps.Trigger.Await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("lifecycle: await trigger: %w", err)
		}

		ev, err := c.orch.Service(tr)
		c.triggers++
		if err != nil {
			// event discarded; framing is rebuilt on the next trigger
			continue
		}

		if c.deps.Sink != nil {
			if err := c.deps.Sink.Emit(ev); err != nil {
				c.log.Warn("event sink failed", "seq", ev.Seq, "words", len(ev.Words), "err", err)
			}
		}
		if ev.Sync {
			c.publish()
		}
	}
	return nil
}

// ---- end ----

// End disables modules, reports pending data, publishes the final
// snapshot and records the run. Calling End when not running is a no-op.
func (c *Controller) End(ctx context.Context) error {
	if c.state != Running {
		return nil
	}
	c.state = Ended

	if c.orch == nil {
		return nil
	}
	c.orch.Disarm()

	c.forEachHardware("disable", func(hw module.Hardware) error { return hw.Disable() })

	for _, u := range c.orch.Units() {
		for _, h := range u.Driver.Set().Handles() {
			if n := u.Driver.BytesAvailable(h.Slot); n > 0 {
				c.log.Warn("end: data pending",
					"seq", c.triggers, "module", u.Driver.Name(), "slot", h.Slot, "words", n/4)
			}
		}
	}

	var errs []error
	if err := c.publish(); err != nil {
		errs = append(errs, err)
	}
	if c.deps.Recorder != nil {
		id, err := c.deps.Recorder.Record(ctx, c.report())
		if err != nil {
			c.log.Error("run record failed", "run_id", c.runID, "err", err)
			errs = append(errs, err)
		} else {
			c.log.Info("run recorded", "run_id", id)
		}
	}

	c.log.Info("ended",
		"run_id", c.runID,
		"triggers", c.triggers,
		"int_count", c.deps.Trigger.IntCount(),
	)
	return errors.Join(errs...)
}

func (c *Controller) report() runlog.Report {
	return runlog.Report{
		ID:         c.runID,
		Crate:      c.cfg.Crate,
		RunNumber:  c.cfg.RunNumber,
		BlockLevel: c.levels.Block,
		Triggers:   c.triggers,
		StartedAt:  c.started,
		EndedAt:    time.Now(),
		Modules:    runlog.ModulesFrom(c.orch.Counters().Snapshot()),
	}
}

// ---- cleanup ----

// Cleanup hard resets every family that was created. It always runs to
// completion; failures and panics are logged, never returned.
func (c *Controller) Cleanup() {
	if c.state == Cleaned {
		return
	}
	c.state = Cleaned
	if c.setup == nil {
		return
	}

	for _, hw := range c.setup.Hardware {
		c.hardReset(hw)
	}
	if err := c.setup.Close(); err != nil {
		c.log.Warn("cleanup: close transports", "err", err)
	}
	c.log.Info("cleaned")
}

func (c *Controller) hardReset(hw module.Hardware) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cleanup: hard reset panicked", "panic", r)
		}
	}()
	if err := hw.HardReset(); err != nil {
		c.log.Error("cleanup: hard reset failed", "err", err)
	}
}

// ---- helpers ----

func (c *Controller) publish() error {
	if c.deps.Publisher == nil || c.orch == nil {
		return nil
	}
	if err := c.deps.Publisher.Publish(c.orch.Counters().Snapshot()); err != nil {
		c.log.Warn("status publish failed", "seq", c.triggers, "err", err)
		return err
	}
	return nil
}

// forEachHardware runs fn on the hardware of every usable family.
func (c *Controller) forEachHardware(op string, fn func(module.Hardware) error) {
	for _, u := range c.orch.Units() {
		if err := fn(u.Driver.Hardware()); err != nil {
			c.log.Error(op+" failed", "module", u.Driver.Name(), "err", err)
		}
	}
}
