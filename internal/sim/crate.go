// internal/sim/crate.go
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tamzrod/crate-readout/internal/module"
)

var (
	ErrNoBoard  = errors.New("sim: no board in slot")
	ErrDisabled = errors.New("sim: crate disabled")
)

// Geometry shapes the blocks a simulated board produces.
type Geometry struct {
	Channels   int // fadc250
	Window     int // fadc250
	EventWords int // ssp_mpd, ssp_maroc

	// ReadyDelay is the number of readiness probes a fresh block stays
	// hidden for.
	ReadyDelay int
}

// BoardStats counts what the readout did to one board.
type BoardStats struct {
	Reads       int
	TokenResets int
	SoftResets  int
	Flushes     int
	Probes      int
}

type board struct {
	slot    int
	pending [][]uint32
	probes  int

	// fault injection
	failProbe  bool
	silent     int
	failAfter  int // -1 = no fault armed
	residual   int
	stuck      bool
	tokenStuck bool
	softErrors int

	stats BoardStats
}

// Crate simulates one family of boards behind one controller.
// It implements module.Hardware and module.SoftErrorCounter.
type Crate struct {
	mu sync.Mutex

	family     module.Family
	geo        Geometry
	boards     map[int]*board
	blockLevel int
	enabled    bool
	triggers   int
	hardResets int
}

// NewCrate installs one board per slot.
func NewCrate(f module.Family, geo Geometry, slots ...int) *Crate {
	c := &Crate{
		family:     f,
		geo:        geo,
		boards:     make(map[int]*board),
		blockLevel: 1,
	}
	for _, s := range slots {
		c.boards[s] = &board{slot: s, failAfter: -1}
	}
	return c
}

func (c *Crate) Family() module.Family { return c.family }

// ---- fault injection ----

// Remove pulls the board out of slot.
func (c *Crate) Remove(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.boards, slot)
}

// FailProbe makes discovery of slot fail.
func (c *Crate) FailProbe(slot int) { c.with(slot, func(b *board) { b.failProbe = true }) }

// Silence drops the next n blocks of slot.
func (c *Crate) Silence(slot, n int) { c.with(slot, func(b *board) { b.silent += n }) }

// FailTransfer makes the next read of slot fault after words words.
// The board's token stays stuck until reset.
func (c *Crate) FailTransfer(slot, words int) { c.with(slot, func(b *board) { b.failAfter = words }) }

// LeaveResidual makes the next block of slot leave words extra words
// pending after it is read.
func (c *Crate) LeaveResidual(slot, words int) { c.with(slot, func(b *board) { b.residual = words }) }

// Stick makes Flush on slot ineffective.
func (c *Crate) Stick(slot int) { c.with(slot, func(b *board) { b.stuck = true }) }

// AddSoftErrors bumps the cumulative soft error count of slot.
func (c *Crate) AddSoftErrors(slot, n int) { c.with(slot, func(b *board) { b.softErrors += n }) }

// ClearSoftErrors zeroes the cumulative soft error count of slot.
func (c *Crate) ClearSoftErrors(slot int) { c.with(slot, func(b *board) { b.softErrors = 0 }) }

// Push queues a literal block on slot.
func (c *Crate) Push(slot int, words ...uint32) {
	c.with(slot, func(b *board) { b.pending = append(b.pending, append([]uint32(nil), words...)) })
}

// Stats returns the counters of slot.
func (c *Crate) Stats(slot int) BoardStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.boards[slot]; ok {
		return b.stats
	}
	return BoardStats{}
}

func (c *Crate) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Crate) BlockLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockLevel
}

func (c *Crate) HardResets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hardResets
}

func (c *Crate) with(slot int, fn func(*board)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.boards[slot]; ok {
		fn(b)
	}
}

// ---- trigger side ----

// Fire makes every enabled board produce one block for trigger seq.
func (c *Crate) Fire(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.triggers++
	for _, s := range c.slotsLocked() {
		b := c.boards[s]
		if b.silent > 0 {
			b.silent--
			continue
		}
		b.pending = append(b.pending, c.block(b.slot, seq))
		if b.residual > 0 {
			b.pending = append(b.pending, make([]uint32, b.residual))
			b.residual = 0
		}
	}
}

func (c *Crate) slotsLocked() []int {
	out := make([]int, 0, len(c.boards))
	for s := range c.boards {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// ---- module.Readout ----

func (c *Crate) Ready(want module.Mask) module.Mask {
	c.mu.Lock()
	defer c.mu.Unlock()
	var got module.Mask
	for _, s := range want.Slots() {
		b, ok := c.boards[s]
		if !ok || len(b.pending) == 0 {
			continue
		}
		b.probes++
		if b.probes > c.geo.ReadyDelay {
			got |= module.Bit(s)
		}
	}
	return got
}

func (c *Crate) ReadBlock(slot int, dst []uint32, tt module.TransferType) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.boards[slot]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}

	chain := []int{slot}
	if tt == module.TransferTokenChain {
		chain = chain[:0]
		for _, s := range c.slotsLocked() {
			if s >= slot {
				chain = append(chain, s)
			}
		}
	}

	n := 0
	for _, s := range chain {
		b := c.boards[s]
		w, err := c.readBoard(b, dst[n:])
		n += w
		if err != nil {
			return n, &module.BlockError{Slot: s, Words: n, Err: err}
		}
	}
	return n, nil
}

func (c *Crate) readBoard(b *board, dst []uint32) (int, error) {
	if b.tokenStuck {
		return 0, errors.New("token not returned")
	}
	if len(b.pending) == 0 {
		return 0, nil
	}
	b.stats.Reads++
	b.probes = 0

	blk := b.pending[0]

	if b.failAfter >= 0 {
		k := min(b.failAfter, len(blk), len(dst))
		copy(dst, blk[:k])
		b.pending = b.pending[1:]
		b.failAfter = -1
		b.tokenStuck = true
		return k, errors.New("bus error")
	}

	if len(blk) > len(dst) {
		k := copy(dst, blk)
		// the rest stays in the board
		b.pending[0] = blk[k:]
		return k, fmt.Errorf("block of %d words exceeds %d word ceiling", len(blk), len(dst))
	}

	copy(dst, blk)
	b.pending = b.pending[1:]
	return len(blk), nil
}

func (c *Crate) ResetToken(slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	b.tokenStuck = false
	b.stats.TokenResets++
	return nil
}

func (c *Crate) BytesAvailable(slot int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return 0
	}
	n := 0
	for _, blk := range b.pending {
		n += 4 * len(blk)
	}
	return n
}

func (c *Crate) Flush(slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	b.stats.Flushes++
	if b.stuck || len(b.pending) == 0 {
		return nil
	}
	b.pending = b.pending[1:]
	return nil
}

// ---- module.Control ----

func (c *Crate) Probe(slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	b.stats.Probes++
	if b.failProbe {
		return fmt.Errorf("sim: slot %d: board id mismatch", slot)
	}
	return nil
}

func (c *Crate) SoftReset(slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	b.pending = nil
	b.probes = 0
	b.tokenStuck = false
	b.stats.SoftResets++
	return nil
}

func (c *Crate) ResetTriggerCount(slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.boards[slot]; !ok {
		return fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	c.triggers = 0
	return nil
}

func (c *Crate) SetBlockLevel(level int) error {
	if level < 1 || level > 255 {
		return fmt.Errorf("sim: block level %d out of range", level)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockLevel = level
	return nil
}

func (c *Crate) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	return nil
}

func (c *Crate) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	return nil
}

func (c *Crate) HardReset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.blockLevel = 1
	c.triggers = 0
	c.hardResets++
	for _, b := range c.boards {
		b.pending = nil
		b.probes = 0
		b.tokenStuck = false
	}
	return nil
}

// ---- module.SoftErrorCounter ----

func (c *Crate) SoftErrors(slot int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[slot]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoBoard, slot)
	}
	return b.softErrors, nil
}

var (
	_ module.Hardware         = (*Crate)(nil)
	_ module.SoftErrorCounter = (*Crate)(nil)
)
