// internal/sim/pulser.go
package sim

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tamzrod/crate-readout/internal/bank"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

// TriggerBankTag is the tag of the trigger module's own block.
const TriggerBankTag uint16 = 0xFF10

// PulserConfig drives a software trigger source.
type PulserConfig struct {
	// RateHz limits the trigger rate. 0 means unlimited.
	RateHz float64

	Schedule    trigger.Schedule
	BlockLevel  int
	BufferLevel int
}

// Pulser is a software trigger source. It implements trigger.Source.
type Pulser struct {
	mu     sync.Mutex
	cfg    PulserConfig
	lim    *rate.Limiter
	firers []trigger.Firer

	seq   int
	block *bank.Buffer
}

// NewPulser creates a pulser firing every attached trigger.Firer on each trigger.
func NewPulser(cfg PulserConfig, firers ...trigger.Firer) *Pulser {
	if cfg.BlockLevel < 1 {
		cfg.BlockLevel = 1
	}
	if cfg.BufferLevel < 1 {
		cfg.BufferLevel = 1
	}
	limit := rate.Inf
	if cfg.RateHz > 0 {
		limit = rate.Limit(cfg.RateHz)
	}
	return &Pulser{
		cfg:    cfg,
		lim:    rate.NewLimiter(limit, 1),
		firers: firers,
		block:  bank.NewBuffer(bank.HeaderWords + 2*255),
	}
}

// Attach adds a trigger.Firer.
func (p *Pulser) Attach(f trigger.Firer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.firers = append(p.firers, f)
}

func (p *Pulser) BlockLevel() int  { return p.cfg.BlockLevel }
func (p *Pulser) BufferLevel() int { return p.cfg.BufferLevel }

func (p *Pulser) IntCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Await waits for the rate limiter, then fires one trigger.
func (p *Pulser) Await(ctx context.Context) (trigger.Trigger, error) {
	if err := p.lim.Wait(ctx); err != nil {
		return trigger.Trigger{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	if err := p.buildBlock(); err != nil {
		return trigger.Trigger{}, err
	}
	for _, f := range p.firers {
		f.Fire(p.seq)
	}
	return trigger.Trigger{Seq: p.seq, Sync: p.cfg.Schedule.IsSync(p.seq)}, nil
}

// buildBlock writes the trigger bank: event number and timestamp per event.
func (p *Pulser) buildBlock() error {
	if err := p.block.Reset(); err != nil {
		return err
	}
	bl := p.cfg.BlockLevel
	f, err := p.block.Open(TriggerBankTag, bank.TypeUint32, uint8(bl))
	if err != nil {
		return err
	}
	first := (p.seq-1)*bl + 1
	for e := 0; e < bl; e++ {
		if err := f.Append(uint32(first+e), uint32((first+e)*4)); err != nil {
			return err
		}
	}
	return f.Close()
}

// ReadTriggerBlock copies the current trigger bank into dst.
func (p *Pulser) ReadTriggerBlock(dst []uint32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq == 0 {
		return 0, nil
	}
	words := p.block.Words()
	if len(dst) < len(words) {
		return 0, fmt.Errorf("sim: trigger block of %d words does not fit in %d", len(words), len(dst))
	}
	return copy(dst, words), nil
}

var _ trigger.Source = (*Pulser)(nil)
