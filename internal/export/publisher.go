// internal/export/publisher.go
package export

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tamzrod/crate-readout/internal/logging"
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/status"
)

// Config places the exported status blocks.
type Config struct {
	UnitID uint8

	// BaseSlot offsets every block; module at backplane slot s
	// owns registers (BaseSlot+s)*SlotsPerModule onward.
	BaseSlot uint16
}

// Publisher writes every module's counters to the status endpoint.
type Publisher struct {
	cfg     Config
	cli     RegisterClient
	log     *slog.Logger
	writers map[int]*ModuleWriter
}

// NewPublisher returns a Publisher over cli.
func NewPublisher(cfg Config, cli RegisterClient, log *slog.Logger) (*Publisher, error) {
	if cli == nil {
		return nil, errors.New("export: client required")
	}
	if int(cfg.BaseSlot)+module.MaxSlot >= 0x10000/status.SlotsPerModule {
		return nil, fmt.Errorf("export: base slot %d overflows register space", cfg.BaseSlot)
	}
	return &Publisher{
		cfg:     cfg,
		cli:     cli,
		log:     logging.For(log, logging.ComponentExport),
		writers: make(map[int]*ModuleWriter),
	}, nil
}

// Publish writes one block per module. Failures are joined; a failing
// module does not stop the others.
func (p *Publisher) Publish(mods []status.ModuleCounters) error {
	var errs []error
	for _, m := range mods {
		w := p.writerFor(m)
		if err := w.WriteStatus(status.SnapshotOf(m)); err != nil {
			p.log.Warn("status write failed", "slot", m.Slot, "base", w.Base(), "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) writerFor(m status.ModuleCounters) *ModuleWriter {
	if w, ok := p.writers[m.Slot]; ok {
		return w
	}
	base := (p.cfg.BaseSlot + uint16(m.Slot)) * status.SlotsPerModule
	w := NewModuleWriter(p.cli, p.cfg.UnitID, base, m.Family)
	p.writers[m.Slot] = w
	return w
}
