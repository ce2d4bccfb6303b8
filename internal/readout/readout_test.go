// internal/readout/readout_test.go
package readout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/crate-readout/internal/bank"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/planner"
	"github.com/tamzrod/crate-readout/internal/poller"
	"github.com/tamzrod/crate-readout/internal/sim"
	"github.com/tamzrod/crate-readout/internal/status"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

const rocTag = 1

// ---- helpers ----

type fakeTrigger struct {
	fail bool
	seq  uint32
}

func (f *fakeTrigger) ReadTriggerBlock(dst []uint32) (int, error) {
	if f.fail {
		return 0, errors.New("trigger fifo empty")
	}
	f.seq++
	blk := []uint32{2, uint32(sim.TriggerBankTag)<<16 | uint32(bank.TypeUint32)<<8 | 1, f.seq}
	return copy(dst, blk), nil
}

type logCapture struct {
	buf bytes.Buffer
}

func (l *logCapture) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&l.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (l *logCapture) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(l.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func newUnit(t *testing.T, name string, fam module.Family, hw module.Hardware, slots ...int) Unit {
	t.Helper()
	p, err := module.ProfileFor(fam)
	require.NoError(t, err)

	var hs []module.Handle
	for _, s := range slots {
		hs = append(hs, module.Handle{Slot: s, Family: string(fam)})
	}
	set, err := module.NewSet(hs...)
	require.NoError(t, err)

	drv, err := module.NewDriver(name, p, set, hw)
	require.NoError(t, err)

	return Unit{
		Driver:     drv,
		PollBudget: 10,
		Params:     planner.Params{Channels: 16, Window: 50},
	}
}

func newCrate(t *testing.T, fam module.Family, bl int, geo sim.Geometry, slots ...int) *sim.Crate {
	t.Helper()
	c := sim.NewCrate(fam, geo, slots...)
	require.NoError(t, c.SetBlockLevel(bl))
	require.NoError(t, c.Enable())
	return c
}

func armed(t *testing.T, bl int, flushLimit int, log *slog.Logger, units ...Unit) *Orchestrator {
	t.Helper()
	o, err := New(Config{ROCTag: rocTag, BufferWords: 500000, FlushLimit: flushLimit}, &fakeTrigger{}, units, log)
	require.NoError(t, err)
	o.Reset()

	plan, err := planner.ComputeMaxWords(bl, o.PlannerParams(), planner.DefaultMarginWords)
	require.NoError(t, err)
	require.NoError(t, o.Arm(plan))
	return o
}

func parseEvent(t *testing.T, ev Event) bank.Bank {
	t.Helper()
	banks, err := bank.Parse(ev.Words)
	require.NoError(t, err)
	require.Len(t, banks, 1)
	require.Equal(t, uint16(rocTag), banks[0].Tag)
	return banks[0]
}

func seqWords(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i + 1)
	}
	return out
}

func assertClean(t *testing.T, c *status.Counters, slots ...int) {
	t.Helper()
	for _, s := range slots {
		m, ok := c.Get(s)
		require.True(t, ok, "slot %d", s)
		assert.Zero(t, m.Timeouts+m.NotReady+m.BlockErrors+m.DrainResiduals+m.SoftErrors, "slot %d: %+v", s, m)
	}
}

// ---- end-to-end scenarios ----

func TestScenario_SingleModuleNormalTransfer(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9)
	c.Push(9, seqWords(120)...)

	o := armed(t, 1, 0, nil, newUnit(t, "mpd", module.FamilyMPD, c, 9))
	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)

	require.Len(t, ev.Units, 1)
	assert.Equal(t, poller.Ready, ev.Units[0].Outcome)
	assert.Equal(t, 120, ev.Units[0].Words)
	assert.Empty(t, ev.Faults)

	outer := parseEvent(t, ev)
	require.Len(t, outer.Children, 2)
	assert.Equal(t, sim.TriggerBankTag, outer.Children[0].Tag)

	mpd := outer.Children[1]
	assert.Equal(t, uint16(10), mpd.Tag)
	assert.Equal(t, 120, mpd.DataWords())
	assert.Equal(t, seqWords(120), mpd.Data)

	// outer header + trigger block + mpd header + data
	assert.Len(t, ev.Words, 2+3+2+120)
	assertClean(t, o.Counters(), 9)
}

func TestTokenChainCeilingCoversEveryBoard(t *testing.T) {
	c := newCrate(t, module.FamilyMAROC, 1, sim.Geometry{}, 13, 14)
	c.Push(13, seqWords(10)...)
	c.Push(14, seqWords(10)...)

	p, err := module.ProfileFor(module.FamilyMAROC)
	require.NoError(t, err)
	set, err := module.NewSet(
		module.Handle{Slot: 13, Family: "maroc", ReadCeiling: 16},
		module.Handle{Slot: 14, Family: "maroc", ReadCeiling: 16},
	)
	require.NoError(t, err)
	drv, err := module.NewDriver("maroc", p, set, c)
	require.NoError(t, err)

	o := armed(t, 1, 0, nil, Unit{Driver: drv, PollBudget: 10, Params: planner.Params{BlockWords: 16}})
	plan, _ := o.Plan()
	bound, ok := plan.Bound("maroc")
	require.True(t, ok)
	assert.Equal(t, 32, bound)

	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)
	assert.Empty(t, ev.Faults)
	require.Len(t, ev.Units, 1)
	assert.Equal(t, 20, ev.Units[0].Words)

	outer := parseEvent(t, ev)
	require.Len(t, outer.Children, 2)
	assert.Equal(t, 20, outer.Children[1].DataWords())
	assertClean(t, o.Counters(), 13, 14)
}

func TestScenario_SecondModuleTimesOut(t *testing.T) {
	var lc logCapture
	c := newCrate(t, module.FamilyFADC, 4, sim.Geometry{Channels: 1, Window: 2}, 3, 4, 5)
	c.Silence(4, 1)
	c.Fire(1)

	o := armed(t, 4, 0, lc.logger(), newUnit(t, "fadc", module.FamilyFADC, c, 3, 4, 5))
	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)

	assert.Equal(t, poller.NotReady, ev.Units[0].Outcome)
	assert.Equal(t, 0, ev.Units[0].Words)

	fadc, ok := parseEvent(t, ev).Find(3)
	require.True(t, ok)
	assert.Equal(t, uint32(1), fadc.Length)
	assert.Zero(t, fadc.DataWords())

	require.Len(t, ev.FaultsOf(ScanMismatch), 1)
	timeouts := ev.FaultsOf(ReadinessTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, 4, timeouts[0].Slot)

	m4, _ := o.Counters().Get(4)
	assert.Equal(t, uint64(1), m4.Timeouts)
	assertClean(t, o.Counters(), 3, 5)

	recs := lc.records(t, "scan mismatch")
	require.Len(t, recs, 1)
	assert.EqualValues(t, 1, recs[0]["seq"])
	assert.EqualValues(t, 4, recs[0]["slot"])
	assert.EqualValues(t, 0, recs[0]["words"])

	// next trigger proceeds normally
	c.Fire(2)
	ev, err = o.Service(trigger.Trigger{Seq: 2})
	require.NoError(t, err)
	assert.Equal(t, poller.Ready, ev.Units[0].Outcome)
	assert.Empty(t, ev.Faults)
	assert.Positive(t, ev.Units[0].Words)
}

func TestScenario_TokenChainBlockError(t *testing.T) {
	var lc logCapture
	c := newCrate(t, module.FamilyFADC, 1, sim.Geometry{Channels: 1, Window: 2}, 3, 4)
	c.Push(3, seqWords(100)...)
	c.Push(4, seqWords(10)...)
	c.FailTransfer(3, 40)

	u := newUnit(t, "fadc", module.FamilyFADC, c, 3, 4)
	require.Equal(t, module.TransferTokenChain, u.Driver.Transfer())

	o := armed(t, 1, 0, lc.logger(), u)
	ev, err := o.Service(trigger.Trigger{Seq: 7})
	require.NoError(t, err)

	assert.Equal(t, 40, ev.Units[0].Words)
	fadc, ok := parseEvent(t, ev).Find(3)
	require.True(t, ok)
	assert.Equal(t, seqWords(40), fadc.Data)

	faults := ev.FaultsOf(BlockTransferError)
	require.Len(t, faults, 1)
	assert.Equal(t, 3, faults[0].Slot)
	assert.Equal(t, 40, faults[0].Words)
	assert.ErrorIs(t, &faults[0], module.ErrBlockTransfer)

	// both members reset once, none released
	assert.Equal(t, 1, c.Stats(3).TokenResets)
	assert.Equal(t, 1, c.Stats(4).TokenResets)

	recs := lc.records(t, "block transfer error")
	require.Len(t, recs, 1)
	assert.EqualValues(t, 7, recs[0]["seq"])
	assert.EqualValues(t, 40, recs[0]["words"])
	assert.Equal(t, "fadc", recs[0]["module"])

	m3, _ := o.Counters().Get(3)
	assert.Equal(t, uint64(1), m3.BlockErrors)

	// chain recovered: the next trigger reads both boards
	c.Push(3, seqWords(5)...)
	ev, err = o.Service(trigger.Trigger{Seq: 8})
	require.NoError(t, err)
	assert.Empty(t, ev.Faults)
	assert.Equal(t, 15, ev.Units[0].Words)
	assert.Equal(t, 2, c.Stats(3).TokenResets, "release after clean transfer")
}

func TestScenario_SyncDrainResidual(t *testing.T) {
	var lc logCapture
	c := newCrate(t, module.FamilyMAROC, 1, sim.Geometry{EventWords: 4}, 13)
	c.LeaveResidual(13, 2)
	c.Fire(1)

	o := armed(t, 1, 0, lc.logger(), newUnit(t, "maroc", module.FamilyMAROC, c, 13))
	ev, err := o.Service(trigger.Trigger{Seq: 1, Sync: true})
	require.NoError(t, err)

	require.Len(t, ev.Drains, 1)
	d := ev.Drains[0]
	assert.Equal(t, 8, d.Before)
	assert.Equal(t, 0, d.After)
	assert.Equal(t, 1, d.Flushes)
	assert.False(t, d.Stuck)
	assert.Zero(t, c.BytesAvailable(13))

	faults := ev.FaultsOf(DrainResidual)
	require.Len(t, faults, 1)
	assert.NoError(t, faults[0].Err)

	recs := lc.records(t, "drain residual")
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2, recs[0]["words"])

	m, _ := o.Counters().Get(13)
	assert.Equal(t, uint64(1), m.DrainResiduals)
	assert.Equal(t, status.HealthError, m.Health)

	// maroc bank num carries the block level
	maroc, ok := parseEvent(t, ev).Find(18)
	require.True(t, ok)
	assert.Equal(t, uint8(1), maroc.Num)
}

// ---- properties ----

func TestDrainStopsAtFlushLimit(t *testing.T) {
	var lc logCapture
	c := newCrate(t, module.FamilyMAROC, 1, sim.Geometry{EventWords: 4}, 13)
	c.Fire(1)
	c.Push(13, 1, 2)
	c.Stick(13)

	o := armed(t, 1, 5, lc.logger(), newUnit(t, "maroc", module.FamilyMAROC, c, 13))
	ev, err := o.Service(trigger.Trigger{Seq: 1, Sync: true})
	require.NoError(t, err)

	require.Len(t, ev.Drains, 1)
	assert.Equal(t, 5, ev.Drains[0].Flushes)
	assert.True(t, ev.Drains[0].Stuck)
	assert.ErrorIs(t, &ev.FaultsOf(DrainResidual)[0], ErrStuck)
	assert.Len(t, lc.records(t, "drain residual"), 1)

	m, _ := o.Counters().Get(13)
	assert.Equal(t, status.HealthStuck, m.Health)
}

func TestNoDrainCheckOnOrdinaryTrigger(t *testing.T) {
	c := newCrate(t, module.FamilyMAROC, 1, sim.Geometry{EventWords: 4}, 13)
	c.LeaveResidual(13, 2)
	c.Fire(1)

	o := armed(t, 1, 0, nil, newUnit(t, "maroc", module.FamilyMAROC, c, 13))
	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)

	assert.Empty(t, ev.Drains)
	assert.Equal(t, 8, c.BytesAvailable(13))
}

func TestZeroReadyStillFramed(t *testing.T) {
	c := newCrate(t, module.FamilyFADC, 1, sim.Geometry{Channels: 1, Window: 2}, 3, 4)

	o := armed(t, 1, 0, nil, newUnit(t, "fadc", module.FamilyFADC, c, 3, 4))
	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)

	assert.Equal(t, poller.TimedOut, ev.Units[0].Outcome)
	assert.Equal(t, 10, ev.Units[0].Iterations)

	fadc, ok := parseEvent(t, ev).Find(3)
	require.True(t, ok)
	assert.Zero(t, fadc.DataWords())
	assert.Len(t, ev.FaultsOf(ReadinessTimeout), 2)
}

func TestCursorEqualsSumOfFrames(t *testing.T) {
	fadc := newCrate(t, module.FamilyFADC, 2, sim.Geometry{Channels: 4, Window: 10}, 3, 4, 5)
	mpd := newCrate(t, module.FamilyMPD, 2, sim.Geometry{EventWords: 33}, 9)
	maroc := newCrate(t, module.FamilyMAROC, 2, sim.Geometry{EventWords: 7}, 13, 14)

	o := armed(t, 2, 0, nil,
		newUnit(t, "fadc", module.FamilyFADC, fadc, 3, 4, 5),
		newUnit(t, "mpd", module.FamilyMPD, mpd, 9),
		newUnit(t, "maroc", module.FamilyMAROC, maroc, 13, 14),
	)

	for seq := 1; seq <= 5; seq++ {
		fadc.Fire(seq)
		mpd.Fire(seq)
		maroc.Fire(seq)
		if seq == 3 {
			mpd.FailTransfer(9, 11)
		}

		ev, err := o.Service(trigger.Trigger{Seq: seq})
		require.NoError(t, err)

		want := bank.HeaderWords + ev.TriggerWords
		for _, u := range ev.Units {
			want += bank.HeaderWords + u.Words
		}
		assert.Len(t, ev.Words, want, "seq %d", seq)

		outer := parseEvent(t, ev)
		require.Len(t, outer.Children, 4, "seq %d", seq)
		for i, u := range ev.Units {
			assert.Equal(t, u.Words, outer.Children[i+1].DataWords(), "seq %d unit %s", seq, u.Name)
		}
		assert.Equal(t, uint8(seq), outer.Num)
	}
}

func TestNoDataCountsNotReady(t *testing.T) {
	var lc logCapture
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9)
	c.Push(9)

	o := armed(t, 1, 0, lc.logger(), newUnit(t, "mpd", module.FamilyMPD, c, 9))
	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)
	assert.Empty(t, ev.Faults)

	m, _ := o.Counters().Get(9)
	assert.Equal(t, uint64(1), m.NotReady)
	assert.Len(t, lc.records(t, "no data or error"), 1)
}

func TestSoftErrorsSampledAtSync(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{EventWords: 4}, 9)
	c.AddSoftErrors(9, 10)

	o := armed(t, 1, 0, nil, newUnit(t, "mpd", module.FamilyMPD, c, 9))
	c.AddSoftErrors(9, 3)

	c.Fire(1)
	_, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)
	m, _ := o.Counters().Get(9)
	assert.Zero(t, m.SoftErrors, "sampled only at sync")

	c.Fire(2)
	_, err = o.Service(trigger.Trigger{Seq: 2, Sync: true})
	require.NoError(t, err)
	m, _ = o.Counters().Get(9)
	assert.Equal(t, uint64(3), m.SoftErrors)
}

func TestSoftErrorsRebaseWhenCounterCleared(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{EventWords: 4}, 9)
	c.AddSoftErrors(9, 100)

	o := armed(t, 1, 0, nil, newUnit(t, "mpd", module.FamilyMPD, c, 9))
	c.ClearSoftErrors(9)
	c.AddSoftErrors(9, 7)

	c.Fire(1)
	_, err := o.Service(trigger.Trigger{Seq: 1, Sync: true})
	require.NoError(t, err)
	m, _ := o.Counters().Get(9)
	assert.Equal(t, uint64(7), m.SoftErrors)

	c.AddSoftErrors(9, 2)
	c.Fire(2)
	_, err = o.Service(trigger.Trigger{Seq: 2, Sync: true})
	require.NoError(t, err)
	m, _ = o.Counters().Get(9)
	assert.Equal(t, uint64(9), m.SoftErrors)
}

func TestTriggerBlockFailureDoesNotStopEvent(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9)
	c.Push(9, 1, 2, 3)

	o, err := New(Config{ROCTag: rocTag, BufferWords: 200000}, &fakeTrigger{fail: true},
		[]Unit{newUnit(t, "mpd", module.FamilyMPD, c, 9)}, nil)
	require.NoError(t, err)
	plan, err := planner.ComputeMaxWords(1, o.PlannerParams(), 0)
	require.NoError(t, err)
	require.NoError(t, o.Arm(plan))

	ev, err := o.Service(trigger.Trigger{Seq: 1})
	require.NoError(t, err)
	assert.Zero(t, ev.TriggerWords)
	require.Len(t, parseEvent(t, ev).Children, 1)
}

func TestServiceRequiresArm(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9)
	o, err := New(Config{BufferWords: 1000}, nil, []Unit{newUnit(t, "mpd", module.FamilyMPD, c, 9)}, nil)
	require.NoError(t, err)

	_, err = o.Service(trigger.Trigger{Seq: 1})
	assert.ErrorIs(t, err, ErrNotArmed)
}

func TestArmRejectsSmallBuffer(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9)
	o, err := New(Config{BufferWords: 1000}, nil, []Unit{newUnit(t, "mpd", module.FamilyMPD, c, 9)}, nil)
	require.NoError(t, err)

	plan, err := planner.ComputeMaxWords(1, o.PlannerParams(), 4)
	require.NoError(t, err)
	assert.ErrorIs(t, o.Arm(plan), ErrCapacity)
}

func TestNewRejectsDuplicateUnits(t *testing.T) {
	c := newCrate(t, module.FamilyMPD, 1, sim.Geometry{}, 9, 10)
	_, err := New(Config{BufferWords: 1000}, nil, []Unit{
		newUnit(t, "mpd", module.FamilyMPD, c, 9),
		newUnit(t, "mpd", module.FamilyMPD, c, 10),
	}, nil)
	assert.ErrorIs(t, err, ErrDuplicateUnit)
}
