package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/crate-readout/internal/bringup"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/readout"
	"github.com/tamzrod/crate-readout/internal/runlog"
	"github.com/tamzrod/crate-readout/internal/sim"
	"github.com/tamzrod/crate-readout/internal/status"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

// ---- fakes ----

type fakeBringup struct {
	res *bringup.Result
	err error
}

func (f *fakeBringup) Bringup() (*bringup.Result, error) { return f.res, f.err }

type fakePublisher struct {
	calls int
	last  []status.ModuleCounters
}

func (f *fakePublisher) Publish(mods []status.ModuleCounters) error {
	f.calls++
	f.last = mods
	return nil
}

type fakeRecorder struct {
	reports []runlog.Report
}

func (f *fakeRecorder) Record(_ context.Context, r runlog.Report) (string, error) {
	f.reports = append(f.reports, r)
	return r.ID, nil
}

// clearingHW zeroes the soft error counters on soft reset.
type clearingHW struct {
	*sim.Crate
}

func (h clearingHW) SoftReset(slot int) error {
	h.ClearSoftErrors(slot)
	return h.Crate.SoftReset(slot)
}

// panicHW blows up on hard reset.
type panicHW struct {
	module.Hardware
}

func (panicHW) HardReset() error { panic("bus locked") }

// ---- helpers ----

func unitFor(t *testing.T, name string, fam module.Family, hw module.Hardware, slots ...int) readout.Unit {
	t.Helper()
	p, err := module.ProfileFor(fam)
	require.NoError(t, err)

	var hs []module.Handle
	for _, s := range slots {
		hs = append(hs, module.Handle{Slot: s, Family: name})
	}
	set, err := module.NewSet(hs...)
	require.NoError(t, err)
	drv, err := module.NewDriver(name, p, set, hw)
	require.NoError(t, err)
	return readout.Unit{Driver: drv, PollBudget: 5}
}

type rig struct {
	ctl    *Controller
	crate  *sim.Crate
	pulser *sim.Pulser
	pub    *fakePublisher
	rec    *fakeRecorder
	events []readout.Event
}

func newRig(t *testing.T, cfg Config, pcfg sim.PulserConfig) *rig {
	t.Helper()
	r := &rig{
		crate:  sim.NewCrate(module.FamilyMPD, sim.Geometry{EventWords: 4}, 9),
		pulser: sim.NewPulser(pcfg),
		pub:    &fakePublisher{},
		rec:    &fakeRecorder{},
	}
	res := &bringup.Result{
		Units:    []readout.Unit{unitFor(t, "mpd", module.FamilyMPD, r.crate, 9)},
		Hardware: []module.Hardware{r.crate},
		Firers:   []trigger.Firer{r.crate},
	}

	if cfg.Readout.BufferWords == 0 {
		cfg.Readout.BufferWords = 500000
	}
	ctl, err := New(cfg, Deps{
		Bringup:   &fakeBringup{res: res},
		Trigger:   r.pulser,
		Publisher: r.pub,
		Recorder:  r.rec,
		Sink: readout.SinkFunc(func(ev readout.Event) error {
			r.events = append(r.events, ev)
			return nil
		}),
	})
	require.NoError(t, err)
	r.ctl = ctl
	return r
}

// ---- tests ----

func TestFullRun(t *testing.T) {
	r := newRig(t, Config{Crate: "roc1", RunNumber: 7},
		sim.PulserConfig{BlockLevel: 2, Schedule: trigger.Schedule{Interval: 2}})
	ctx := context.Background()

	require.NoError(t, r.ctl.Download())
	assert.Equal(t, Downloaded, r.ctl.State())

	require.NoError(t, r.ctl.Prestart())
	assert.Equal(t, Prestarted, r.ctl.State())
	assert.False(t, r.crate.Enabled(), "prestart leaves modules disabled")
	assert.NotEmpty(t, r.ctl.RunID())

	require.NoError(t, r.ctl.Go())
	assert.Equal(t, Running, r.ctl.State())
	assert.True(t, r.crate.Enabled())
	assert.Equal(t, 2, r.crate.BlockLevel())
	assert.Equal(t, 2, r.ctl.Plan().BlockLevel)
	assert.Equal(t, trigger.Levels{Block: 2, Buffer: 1}, r.ctl.Levels())

	require.NoError(t, r.ctl.Run(ctx, 4))
	assert.Equal(t, 4, r.ctl.Triggers())
	require.Len(t, r.events, 4)
	for i, ev := range r.events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Empty(t, ev.Faults, "seq %d", ev.Seq)
	}
	assert.Equal(t, 2, r.pub.calls, "published at each sync event")

	require.NoError(t, r.ctl.End(ctx))
	assert.Equal(t, Ended, r.ctl.State())
	assert.False(t, r.crate.Enabled())
	assert.Equal(t, 3, r.pub.calls)

	require.Len(t, r.rec.reports, 1)
	rep := r.rec.reports[0]
	assert.Equal(t, r.ctl.RunID(), rep.ID)
	assert.Equal(t, "roc1", rep.Crate)
	assert.Equal(t, 7, rep.RunNumber)
	assert.Equal(t, 2, rep.BlockLevel)
	assert.Equal(t, 4, rep.Triggers)
	require.Len(t, rep.Modules, 1)
	assert.Equal(t, status.HealthOK, rep.Modules[0].Health)

	r.ctl.Cleanup()
	assert.Equal(t, Cleaned, r.ctl.State())
	assert.Equal(t, 1, r.crate.HardResets())

	r.ctl.Cleanup()
	assert.Equal(t, 1, r.crate.HardResets(), "cleanup runs once")
}

func TestCountersPersistAcrossTriggersAndClearAtPrestart(t *testing.T) {
	r := newRig(t, Config{Crate: "roc1"}, sim.PulserConfig{})
	ctx := context.Background()

	require.NoError(t, r.ctl.Download())
	require.NoError(t, r.ctl.Prestart())
	require.NoError(t, r.ctl.Go())

	r.crate.Silence(9, 1)
	require.NoError(t, r.ctl.Run(ctx, 3))
	require.Len(t, r.events, 3)
	assert.Len(t, r.events[0].FaultsOf(readout.ScanMismatch), 1)
	assert.Empty(t, r.events[1].Faults)

	m, ok := r.ctl.Counters().Get(9)
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Timeouts)

	require.NoError(t, r.ctl.End(ctx))
	assert.Equal(t, uint64(1), r.rec.reports[0].Modules[0].Timeouts)

	require.NoError(t, r.ctl.Prestart())
	m, _ = r.ctl.Counters().Get(9)
	assert.Zero(t, m.Timeouts)
	assert.Equal(t, status.HealthUnknown, m.Health)
}

func TestDownloadExcludesFailedModule(t *testing.T) {
	// slot 4 never came up
	crate := sim.NewCrate(module.FamilyFADC, sim.Geometry{Channels: 1, Window: 2}, 3, 5)
	fail := readout.Fault{
		Kind: readout.SetupFailure, Unit: "fadc", Slot: 4, Mask: module.Bit(4),
		Err: errors.New("board id mismatch"),
	}
	u := unitFor(t, "fadc", module.FamilyFADC, crate, 3, 5)
	u.Params.Channels, u.Params.Window = 1, 2

	res := &bringup.Result{
		Units:    []readout.Unit{u},
		Hardware: []module.Hardware{crate},
		Failures: []readout.Fault{fail},
	}
	ctl, err := New(Config{Crate: "roc1", Readout: readout.Config{BufferWords: 10000}}, Deps{
		Bringup: &fakeBringup{res: res},
		Trigger: sim.NewPulser(sim.PulserConfig{}, crate),
	})
	require.NoError(t, err)

	err = ctl.Download()
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Fatal())
	assert.Contains(t, err.Error(), "fadc slot 4")
	assert.Equal(t, Downloaded, ctl.State())

	require.NoError(t, ctl.Prestart())
	m, ok := ctl.Counters().Get(4)
	require.True(t, ok)
	assert.Equal(t, status.HealthDisabled, m.Health, "disabled mark survives prestart")

	require.NoError(t, ctl.Go())
	require.NoError(t, ctl.Run(context.Background(), 2))

	m3, _ := ctl.Counters().Get(3)
	assert.Zero(t, m3.Timeouts, "excluded slot is not in the scan mask")
	assert.Equal(t, status.HealthOK, m3.Health)
}

func TestModuleAbsentRunIsNoop(t *testing.T) {
	ctl, err := New(Config{Crate: "roc1"}, Deps{
		Bringup: &fakeBringup{res: &bringup.Result{}, err: errors.New("bringup: no usable module")},
		Trigger: sim.NewPulser(sim.PulserConfig{}),
	})
	require.NoError(t, err)

	err = ctl.Download()
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Fatal())

	ctx := context.Background()
	require.NoError(t, ctl.Prestart())
	require.NoError(t, ctl.Go())
	require.NoError(t, ctl.Run(ctx, 10))
	assert.Zero(t, ctl.Triggers())
	require.NoError(t, ctl.End(ctx))
	assert.Nil(t, ctl.Counters())

	ctl.Cleanup()
	assert.Equal(t, Cleaned, ctl.State())
}

func TestTransitionOrder(t *testing.T) {
	r := newRig(t, Config{Crate: "roc1"}, sim.PulserConfig{})

	assert.ErrorIs(t, r.ctl.Go(), ErrTransition)
	assert.ErrorIs(t, r.ctl.Prestart(), ErrTransition)
	assert.ErrorIs(t, r.ctl.Run(context.Background(), 1), ErrTransition)
	assert.NoError(t, r.ctl.End(context.Background()), "end when not running is a no-op")
	assert.Equal(t, Unconfigured, r.ctl.State())

	require.NoError(t, r.ctl.Download())
	assert.ErrorIs(t, r.ctl.Download(), ErrTransition)
}

func TestSlaveLevelsFallBack(t *testing.T) {
	r := newRig(t, Config{
		Crate:  "roc2",
		Role:   trigger.RoleSlave,
		Limits: trigger.Limits{MaxBlock: 1, MaxBuffer: 10},
	}, sim.PulserConfig{BlockLevel: 4, BufferLevel: 2})

	require.NoError(t, r.ctl.Download())
	require.NoError(t, r.ctl.Prestart())
	require.NoError(t, r.ctl.Go())

	assert.Equal(t, trigger.Levels{Block: 1, Buffer: 1}, r.ctl.Levels())
	assert.Equal(t, 1, r.crate.BlockLevel())
	assert.Equal(t, 1, r.ctl.Plan().BlockLevel)
}

func TestRunStopsOnContext(t *testing.T) {
	r := newRig(t, Config{Crate: "roc1"}, sim.PulserConfig{})
	require.NoError(t, r.ctl.Download())
	require.NoError(t, r.ctl.Prestart())
	require.NoError(t, r.ctl.Go())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.ctl.Run(ctx, 0))
	assert.Zero(t, r.ctl.Triggers())
}

func TestGoRejectsUndersizedBuffer(t *testing.T) {
	r := newRig(t, Config{Crate: "roc1", Readout: readout.Config{BufferWords: 100}}, sim.PulserConfig{})
	require.NoError(t, r.ctl.Download())
	require.NoError(t, r.ctl.Prestart())

	assert.ErrorIs(t, r.ctl.Go(), readout.ErrCapacity)
	assert.Equal(t, Prestarted, r.ctl.State())
}

func TestCleanupSurvivesPanickingHardware(t *testing.T) {
	crate := sim.NewCrate(module.FamilyMPD, sim.Geometry{EventWords: 4}, 9)
	res := &bringup.Result{
		Units:    []readout.Unit{unitFor(t, "mpd", module.FamilyMPD, crate, 9)},
		Hardware: []module.Hardware{panicHW{crate}, crate},
	}
	ctl, err := New(Config{Crate: "roc1", Readout: readout.Config{BufferWords: 500000}}, Deps{
		Bringup: &fakeBringup{res: res},
		Trigger: sim.NewPulser(sim.PulserConfig{}),
	})
	require.NoError(t, err)
	require.NoError(t, ctl.Download())

	assert.NotPanics(t, ctl.Cleanup)
	assert.Equal(t, 1, crate.HardResets())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{Trigger: sim.NewPulser(sim.PulserConfig{})})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Bringup: &fakeBringup{}})
	assert.Error(t, err)
}

func TestPrestartBaselinesAfterSoftReset(t *testing.T) {
	crate := sim.NewCrate(module.FamilyMPD, sim.Geometry{EventWords: 4}, 9)
	crate.AddSoftErrors(9, 100)
	hw := clearingHW{crate}

	res := &bringup.Result{
		Units:    []readout.Unit{unitFor(t, "mpd", module.FamilyMPD, hw, 9)},
		Hardware: []module.Hardware{hw},
		Firers:   []trigger.Firer{crate},
	}
	ctl, err := New(Config{Crate: "roc1", Readout: readout.Config{BufferWords: 500000}}, Deps{
		Bringup: &fakeBringup{res: res},
		Trigger: sim.NewPulser(sim.PulserConfig{Schedule: trigger.Schedule{Interval: 1}}),
	})
	require.NoError(t, err)

	require.NoError(t, ctl.Download())
	require.NoError(t, ctl.Prestart())
	require.NoError(t, ctl.Go())

	crate.AddSoftErrors(9, 7)
	require.NoError(t, ctl.Run(context.Background(), 1))

	m, ok := ctl.Counters().Get(9)
	require.True(t, ok)
	assert.Equal(t, uint64(7), m.SoftErrors)
}

func TestEndLogsIntCount(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	crate := sim.NewCrate(module.FamilyMPD, sim.Geometry{EventWords: 4}, 9)
	res := &bringup.Result{
		Units:    []readout.Unit{unitFor(t, "mpd", module.FamilyMPD, crate, 9)},
		Hardware: []module.Hardware{crate},
		Firers:   []trigger.Firer{crate},
	}
	ctl, err := New(Config{Crate: "roc1", Readout: readout.Config{BufferWords: 500000}}, Deps{
		Bringup: &fakeBringup{res: res},
		Trigger: sim.NewPulser(sim.PulserConfig{}),
		Log:     log,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ctl.Download())
	require.NoError(t, ctl.Prestart())
	require.NoError(t, ctl.Go())
	require.NoError(t, ctl.Run(ctx, 3))
	require.NoError(t, ctl.End(ctx))

	var ended map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec["msg"] == "ended" {
			ended = rec
		}
	}
	require.NotNil(t, ended)
	assert.Equal(t, float64(3), ended["int_count"])
	assert.Equal(t, float64(3), ended["triggers"])
}
