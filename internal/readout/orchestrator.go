// internal/readout/orchestrator.go
package readout

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tamzrod/crate-readout/internal/bank"
	"github.com/tamzrod/crate-readout/internal/logging"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/planner"
	"github.com/tamzrod/crate-readout/internal/poller"
	"github.com/tamzrod/crate-readout/internal/status"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

// DefaultFlushLimit bounds the flushes of one module at a sync check.
const DefaultFlushLimit = 64

// TriggerEventWords is the most words the trigger block carries per event.
const TriggerEventWords = 4

var (
	ErrNotArmed      = errors.New("readout: not armed")
	ErrNoUnits       = errors.New("readout: no module sets")
	ErrCapacity      = errors.New("readout: buffer smaller than plan")
	ErrDuplicateUnit = errors.New("readout: duplicate unit name")
)

// TriggerBlockReader supplies the trigger module's block for the current
// trigger. trigger.Source satisfies it.
type TriggerBlockReader interface {
	ReadTriggerBlock(dst []uint32) (int, error)
}

// Config is the frozen shape of the event buffer.
type Config struct {
	// ROCTag is the tag of the outer event bank.
	ROCTag uint16

	BufferWords int
	FlushLimit  int
}

// Unit is one module set read as one bank.
type Unit struct {
	Driver module.Driver

	// Bank overrides the family bank tag when non-zero.
	Bank uint16

	// PollBudget overrides the family poll budget when non-zero.
	PollBudget int

	// Params shapes the capacity bound. Name, Family and Boards are
	// filled from the driver.
	Params planner.Params
}

func (u Unit) bank() uint16 {
	if u.Bank != 0 {
		return u.Bank
	}
	return u.Driver.Profile().Bank
}

func (u Unit) budget() int {
	if u.PollBudget > 0 {
		return u.PollBudget
	}
	return u.Driver.Profile().PollBudget
}

// Orchestrator services one trigger at a time across every module set.
// It owns the event buffer and the error counters of the run.
// It is not safe for concurrent use; Counters may be read from anywhere.
type Orchestrator struct {
	cfg      Config
	units    []Unit
	trig     TriggerBlockReader
	counters *status.Counters
	log      *slog.Logger

	buf          *bank.Buffer
	plan         planner.Plan
	armed        bool
	triggerWords int

	// soft error baselines taken at prestart, by slot
	softBase map[int]int
}

// New builds an orchestrator. trig may be nil when no trigger block is read.
func New(cfg Config, trig TriggerBlockReader, units []Unit, log *slog.Logger) (*Orchestrator, error) {
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	if cfg.BufferWords <= 0 {
		return nil, fmt.Errorf("readout: buffer words must be > 0, got %d", cfg.BufferWords)
	}
	if cfg.FlushLimit <= 0 {
		cfg.FlushLimit = DefaultFlushLimit
	}
	o := &Orchestrator{
		cfg:      cfg,
		trig:     trig,
		counters: status.NewCounters(),
		log:      logging.For(log, logging.ComponentReadout),
		buf:      bank.NewBuffer(cfg.BufferWords),
		softBase: make(map[int]int),
	}

	names := make(map[string]struct{})
	for _, u := range units {
		if u.Driver == nil {
			return nil, errors.New("readout: unit without driver")
		}
		name := u.Driver.Name()
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, name)
		}
		names[name] = struct{}{}

		u.Params.Name = name
		u.Params.Family = u.Driver.Profile().Family
		u.Params.Boards = u.Driver.Set().Len()
		o.units = append(o.units, u)

		for _, h := range u.Driver.Set().Handles() {
			o.counters.Register(h.Slot, name)
		}
	}
	return o, nil
}

// Units returns the module sets in readout order.
func (o *Orchestrator) Units() []Unit {
	out := make([]Unit, len(o.units))
	copy(out, o.units)
	return out
}

// Counters are the error counters of the run.
func (o *Orchestrator) Counters() *status.Counters { return o.counters }

// PlannerParams returns the capacity inputs of every set.
func (o *Orchestrator) PlannerParams() []planner.Params {
	out := make([]planner.Params, len(o.units))
	for i, u := range o.units {
		out[i] = u.Params
	}
	return out
}

// Plan returns the armed capacity plan.
func (o *Orchestrator) Plan() (planner.Plan, bool) { return o.plan, o.armed }

// Reset clears the counters and takes soft error baselines.
// Called at prestart only.
func (o *Orchestrator) Reset() {
	o.armed = false
	o.counters.Clear()
	o.buf.Abandon()

	clear(o.softBase)
	for _, u := range o.units {
		sc, ok := u.Driver.Hardware().(module.SoftErrorCounter)
		if !ok {
			continue
		}
		for _, h := range u.Driver.Set().Handles() {
			if n, err := sc.SoftErrors(h.Slot); err == nil {
				o.softBase[h.Slot] = n
			}
		}
	}
}

// Arm freezes the capacity plan for the run. A buffer that cannot hold
// the plan plus framing is refused.
func (o *Orchestrator) Arm(plan planner.Plan) error {
	for _, u := range o.units {
		if _, ok := plan.Bound(u.Driver.Name()); !ok {
			return fmt.Errorf("readout: plan has no bound for %s", u.Driver.Name())
		}
	}

	tw := bank.HeaderWords + TriggerEventWords*plan.BlockLevel
	need := plan.Total + tw + bank.HeaderWords*(1+len(o.units))
	if need > o.buf.Capacity() {
		return fmt.Errorf("%w: need %d words, have %d", ErrCapacity, need, o.buf.Capacity())
	}

	o.plan = plan
	o.triggerWords = tw
	o.armed = true
	o.log.Info("armed",
		"block_level", plan.BlockLevel,
		"max_words", plan.Total,
		"buffer_words", o.buf.Capacity(),
	)
	return nil
}

// Disarm stops accepting triggers.
func (o *Orchestrator) Disarm() { o.armed = false }

// Service reads one trigger into a framed event.
// Per-trigger failures are recorded on the Event and in the counters.
// An error is returned only when the event framing itself cannot be
// kept, and the event content is then discarded.
func (o *Orchestrator) Service(tr trigger.Trigger) (Event, error) {
	ev := Event{Seq: tr.Seq, Sync: tr.Sync}
	if !o.armed {
		return ev, ErrNotArmed
	}
	if err := o.buf.Reset(); err != nil {
		return ev, o.abandon(tr.Seq, err)
	}

	evf, err := o.buf.Open(o.cfg.ROCTag, bank.TypeBank, uint8(tr.Seq))
	if err != nil {
		return ev, o.abandon(tr.Seq, err)
	}

	if err := o.readTriggerBlock(evf, &ev); err != nil {
		return ev, o.abandon(tr.Seq, err)
	}

	for i := range o.units {
		// headers of the sets still to come
		reserve := bank.HeaderWords * (len(o.units) - i - 1)
		rep, err := o.readUnit(o.units[i], tr.Seq, reserve, &ev)
		if err != nil {
			return ev, o.abandon(tr.Seq, err)
		}
		ev.Units = append(ev.Units, rep)
	}

	if err := evf.Close(); err != nil {
		return ev, o.abandon(tr.Seq, err)
	}

	if tr.Sync {
		o.drainCheck(tr.Seq, &ev)
		o.sampleSoftErrors(tr.Seq)
	}

	ev.Words = o.buf.Words()
	return ev, nil
}

func (o *Orchestrator) abandon(seq int, err error) error {
	o.buf.Abandon()
	o.log.Error("event framing failed", "seq", seq, "err", err)
	return fmt.Errorf("readout: seq %d: %w", seq, err)
}

// ---- trigger block ----

func (o *Orchestrator) readTriggerBlock(evf *bank.Frame, ev *Event) error {
	if o.trig == nil {
		return nil
	}
	tail := evf.Tail(o.triggerWords)
	n, err := o.trig.ReadTriggerBlock(tail)
	if n > len(tail) {
		n = len(tail)
	}
	if err != nil || n <= 0 {
		o.log.Error("trigger block: no data or error",
			"seq", ev.Seq, "module", "trigger", "slot", -1, "words", n, "err", err)
		return nil
	}
	ev.TriggerWords = n
	return evf.Commit(n)
}

// ---- per set ----

func (o *Orchestrator) readUnit(u Unit, seq, reserve int, ev *Event) (UnitReport, error) {
	drv := u.Driver
	name := drv.Name()
	set := drv.Set()
	want := set.ScanMask()

	rep := UnitReport{Name: name, Bank: u.bank()}

	f, err := o.buf.Open(rep.Bank, bank.TypeUint32, drv.Profile().BankNum(o.plan.BlockLevel))
	if err != nil {
		return rep, err
	}

	res := poller.WaitReady(drv, want, u.budget())
	rep.Outcome = res.Outcome
	rep.Ready = res.Got
	rep.Iterations = res.Iterations

	if res.Outcome != poller.Ready {
		o.scanMismatch(name, seq, res, ev)
		return rep, f.Close()
	}

	ceiling := f.Free() - reserve
	if bound, ok := o.plan.Bound(name); ok && bound < ceiling {
		ceiling = bound
	}
	tail := f.Tail(ceiling)

	n, rerr := drv.ReadBlock(tail)
	if n > len(tail) {
		n = len(tail)
	}
	// words already transferred are valid data, even on error
	if n > 0 {
		if err := f.Commit(n); err != nil {
			return rep, err
		}
	}
	rep.Words = n

	if rerr != nil {
		o.blockError(drv, seq, n, rerr, ev)
	} else {
		o.transferDone(drv, seq, n)
	}

	return rep, f.Close()
}

func (o *Orchestrator) scanMismatch(name string, seq int, res poller.Result, ev *Event) {
	missing := res.Missing()
	for _, s := range missing.Slots() {
		o.counters.Timeout(s, seq)
		ev.Faults = append(ev.Faults, Fault{
			Kind: ReadinessTimeout, Seq: seq, Unit: name, Slot: s, Mask: module.Bit(s),
		})
	}

	slot := -1
	if ss := missing.Slots(); len(ss) > 0 {
		slot = ss[0]
	}
	ev.Faults = append(ev.Faults, Fault{
		Kind: ScanMismatch, Seq: seq, Unit: name, Slot: slot, Mask: missing,
		Err: fmt.Errorf("ready %s want %s after %d probes", res.Got, res.Want, res.Iterations),
	})
	o.log.Error("scan mismatch",
		"seq", seq,
		"module", name,
		"slot", slot,
		"words", 0,
		"outcome", res.Outcome.String(),
		"ready", res.Got.String(),
		"want", res.Want.String(),
		"iterations", res.Iterations,
	)
}

func (o *Orchestrator) blockError(drv module.Driver, seq, n int, rerr error, ev *Event) {
	set := drv.Set()
	slot := -1
	var be *module.BlockError
	if errors.As(rerr, &be) && set.ScanMask().Has(be.Slot) {
		slot = be.Slot
	} else if h, ok := set.First(); ok {
		slot = h.Slot
	}
	o.counters.BlockError(slot, seq)

	// every member, even those not implicated
	recErr := drv.Recover()

	ev.Faults = append(ev.Faults, Fault{
		Kind: BlockTransferError, Seq: seq, Unit: drv.Name(), Slot: slot,
		Mask: set.ScanMask(), Words: n, Err: rerr,
	})

	attrs := []any{
		"seq", seq,
		"module", drv.Name(),
		"slot", slot,
		"words", n,
		"transfer", drv.Transfer().String(),
		"err", rerr,
	}
	if recErr != nil {
		attrs = append(attrs, "recover_err", recErr)
	}
	o.log.Error("block transfer error", attrs...)
}

func (o *Orchestrator) transferDone(drv module.Driver, seq, n int) {
	handles := drv.Set().Handles()
	if n == 0 {
		for _, h := range handles {
			o.counters.NoData(h.Slot, seq)
		}
		o.log.Warn("no data or error",
			"seq", seq, "module", drv.Name(), "slot", handles[0].Slot, "words", 0)
	} else {
		for _, h := range handles {
			o.counters.OK(h.Slot)
		}
	}

	if err := drv.Release(); err != nil {
		o.log.Warn("token release failed",
			"seq", seq, "module", drv.Name(), "slot", handles[0].Slot, "words", n, "err", err)
	}
}
