// internal/status/counters.go
package status

import (
	"sort"
	"sync"
)

// ModuleCounters are the per-module error counts of a run.
// Every count only grows until Clear.
type ModuleCounters struct {
	Slot   int
	Family string

	Timeouts       uint64
	NotReady       uint64
	BlockErrors    uint64
	DrainResiduals uint64
	SoftErrors     uint64

	// Health reflects the last readout of the module.
	Health uint16

	// LastFaultSeq is the trigger number of the most recent fault, 0 if none.
	LastFaultSeq int
}

// Counters holds ModuleCounters for every registered module.
// The readout loop is the only writer; diagnostics take snapshots.
// The lock makes each update whole for readers on other goroutines.
type Counters struct {
	mu sync.Mutex
	m  map[int]*ModuleCounters
}

// NewCounters returns an empty counter table.
func NewCounters() *Counters {
	return &Counters{m: make(map[int]*ModuleCounters)}
}

// Register adds a module. Registering an existing slot keeps its counts.
func (c *Counters) Register(slot int, family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[slot]; ok {
		return
	}
	c.m[slot] = &ModuleCounters{Slot: slot, Family: family}
}

// MarkDisabled registers a module excluded at setup.
func (c *Counters) MarkDisabled(slot int, family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.m[slot]
	if !ok {
		mc = &ModuleCounters{Slot: slot, Family: family}
		c.m[slot] = mc
	}
	mc.Health = HealthDisabled
}

func (c *Counters) update(slot int, fn func(*ModuleCounters)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.m[slot]
	if !ok {
		mc = &ModuleCounters{Slot: slot}
		c.m[slot] = mc
	}
	fn(mc)
}

func (c *Counters) fault(slot, seq int, fn func(*ModuleCounters)) {
	c.update(slot, func(mc *ModuleCounters) {
		fn(mc)
		mc.LastFaultSeq = seq
		if mc.Health != HealthStuck {
			mc.Health = HealthError
		}
	})
}

func (c *Counters) Timeout(slot, seq int) {
	c.fault(slot, seq, func(mc *ModuleCounters) { mc.Timeouts++ })
}

func (c *Counters) NoData(slot, seq int) {
	c.fault(slot, seq, func(mc *ModuleCounters) { mc.NotReady++ })
}

func (c *Counters) BlockError(slot, seq int) {
	c.fault(slot, seq, func(mc *ModuleCounters) { mc.BlockErrors++ })
}

// DrainResidual counts one residual finding. stuck marks data that
// survived active draining; it stays set until Clear.
func (c *Counters) DrainResidual(slot, seq int, stuck bool) {
	c.fault(slot, seq, func(mc *ModuleCounters) {
		mc.DrainResiduals++
		if stuck {
			mc.Health = HealthStuck
		}
	})
}

// SoftErrors adds n hardware soft errors. Non-positive n is ignored.
func (c *Counters) SoftErrors(slot, seq, n int) {
	if n <= 0 {
		return
	}
	c.fault(slot, seq, func(mc *ModuleCounters) { mc.SoftErrors += uint64(n) })
}

// OK records a clean readout.
func (c *Counters) OK(slot int) {
	c.update(slot, func(mc *ModuleCounters) {
		if mc.Health != HealthStuck {
			mc.Health = HealthOK
		}
	})
}

// Get returns a copy of one module's counters.
func (c *Counters) Get(slot int) (ModuleCounters, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.m[slot]
	if !ok {
		return ModuleCounters{}, false
	}
	return *mc, true
}

// Snapshot copies all counters ordered by slot.
func (c *Counters) Snapshot() []ModuleCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ModuleCounters, 0, len(c.m))
	for _, mc := range c.m {
		out = append(out, *mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Clear zeroes every count and health, keeping registrations.
// Only the administrative prestart path calls this.
func (c *Counters) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for slot, mc := range c.m {
		c.m[slot] = &ModuleCounters{Slot: slot, Family: mc.Family}
	}
}
