// internal/export/writer.go
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/crate-readout/internal/status"
)

// RegisterClient is the delivery transport for status blocks.
type RegisterClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// ModuleWriter delivers one module's status block verbatim.
// It owns a fixed SlotsPerModule block at base.
type ModuleWriter struct {
	cli    RegisterClient
	unitID uint8
	base   uint16

	needFull bool
	last     []uint16
	nameRegs []uint16
}

// NewModuleWriter builds a writer for the block at base.
func NewModuleWriter(cli RegisterClient, unitID uint8, base uint16, family string) *ModuleWriter {
	return &ModuleWriter{
		cli:      cli,
		unitID:   unitID,
		base:     base,
		needFull: true, // full re-assert on first successful write
		nameRegs: status.EncodeFamilyName(family),
	}
}

// Base returns the first register of the block.
func (w *ModuleWriter) Base() uint16 { return w.base }

// WriteStatus delivers a module status snapshot.
// On any write failure, the next call re-asserts the full block.
func (w *ModuleWriter) WriteStatus(s status.Snapshot) error {
	if w == nil || w.cli == nil {
		return errors.New("export: writer has no client")
	}

	live := status.Encode(s)

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if w.needFull {
		regs := w.fullBlockRegs(live)
		if err := w.cli.WriteRegisters(w.unitID, w.base, regs); err != nil {
			return fmt.Errorf("export: full block write at %d failed: %w", w.base, err)
		}
		w.needFull = false
		w.last = live
		return nil
	}

	var errs []string

	for i := 0; i < status.SlotFamilyNameStart; i++ {
		if w.last[i] == live[i] {
			continue
		}
		if err := w.cli.WriteRegisters(w.unitID, w.base+uint16(i), []uint16{live[i]}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d write failed: %v", i, err))
			continue
		}
		w.last[i] = live[i]
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt; re-assert on next call.
		w.needFull = true
		return errors.New("export: " + strings.Join(errs, " | "))
	}

	return nil
}

func (w *ModuleWriter) fullBlockRegs(live []uint16) []uint16 {
	regs := make([]uint16, status.SlotsPerModule)
	copy(regs, live[:status.SlotFamilyNameStart])

	// Family name always lives at the end of the block
	for i := 0; i < status.SlotFamilyNameSlots && i < len(w.nameRegs); i++ {
		regs[status.SlotFamilyNameStart+i] = w.nameRegs[i]
	}
	return regs
}
