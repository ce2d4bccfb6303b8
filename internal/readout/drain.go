// internal/readout/drain.go
package readout

import "github.com/tamzrod/crate-readout/internal/module"

// drainCheck verifies every module is empty after a sync event.
// A module with residual data is flushed until empty or until the flush
// limit is spent, and logged exactly once.
func (o *Orchestrator) drainCheck(seq int, ev *Event) {
	for _, u := range o.units {
		drv := u.Driver
		for _, h := range drv.Set().Handles() {
			rep, ok := o.drainModule(drv, h.Slot)
			if !ok {
				continue
			}
			rep.Unit = drv.Name()
			ev.Drains = append(ev.Drains, rep)

			o.counters.DrainResidual(h.Slot, seq, rep.Stuck)

			f := Fault{
				Kind: DrainResidual, Seq: seq, Unit: rep.Unit, Slot: h.Slot,
				Mask: module.Bit(h.Slot), Words: rep.Before / 4,
			}
			if rep.Stuck {
				f.Err = ErrStuck
			}
			ev.Faults = append(ev.Faults, f)

			o.log.Error("drain residual",
				"seq", seq,
				"module", rep.Unit,
				"slot", h.Slot,
				"words", rep.Before/4,
				"bytes_before", rep.Before,
				"bytes_after", rep.After,
				"flushes", rep.Flushes,
				"stuck", rep.Stuck,
			)
		}
	}
}

func (o *Orchestrator) drainModule(drv module.Driver, slot int) (DrainReport, bool) {
	before := drv.BytesAvailable(slot)
	if before <= 0 {
		return DrainReport{}, false
	}

	rep := DrainReport{Slot: slot, Before: before, After: before}
	for rep.After > 0 && rep.Flushes < o.cfg.FlushLimit {
		rep.Flushes++
		if err := drv.Flush(slot); err != nil {
			break
		}
		rep.After = drv.BytesAvailable(slot)
	}
	rep.Stuck = rep.After > 0
	return rep, true
}

// sampleSoftErrors adds soft error growth since the last sample.
func (o *Orchestrator) sampleSoftErrors(seq int) {
	for _, u := range o.units {
		sc, ok := u.Driver.Hardware().(module.SoftErrorCounter)
		if !ok {
			continue
		}
		for _, h := range u.Driver.Set().Handles() {
			n, err := sc.SoftErrors(h.Slot)
			if err != nil {
				o.log.Warn("soft error read failed",
					"seq", seq, "module", u.Driver.Name(), "slot", h.Slot, "words", 0, "err", err)
				continue
			}
			base, ok := o.softBase[h.Slot]
			o.softBase[h.Slot] = n
			if !ok {
				// no baseline yet: this sample is the baseline
				continue
			}
			delta := n - base
			if n < base {
				// counter was cleared under us; it restarted from zero
				delta = n
			}
			if delta <= 0 {
				continue
			}
			o.counters.SoftErrors(h.Slot, seq, delta)
			o.log.Warn("soft errors",
				"seq", seq, "module", u.Driver.Name(), "slot", h.Slot, "words", 0, "count", delta, "total", n)
		}
	}
}
