// internal/module/hardware.go
package module

import (
	"errors"
	"fmt"
)

// ErrBlockTransfer is reported when hardware flags a fault during a bulk read.
var ErrBlockTransfer = errors.New("module: block transfer error")

// BlockError carries the module that signalled the fault and the words it
// had already produced. Words are valid data and must be kept.
type BlockError struct {
	Slot  int
	Words int
	Err   error
}

func (e *BlockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module: slot %d: block transfer error after %d words: %v", e.Slot, e.Words, e.Err)
	}
	return fmt.Sprintf("module: slot %d: block transfer error after %d words", e.Slot, e.Words)
}

func (e *BlockError) Is(target error) bool { return target == ErrBlockTransfer }

func (e *BlockError) Unwrap() error { return e.Err }

// Readout is the per-trigger surface of one family of modules.
// Implementations are external collaborators (bus drivers, bridges, simulators).
type Readout interface {
	// Ready returns the subset of want that currently has a block ready.
	Ready(want Mask) Mask

	// ReadBlock transfers at most len(dst) words, starting at slot.
	// TransferTokenChain passes the token along the chain until every
	// board with the token enabled has been read.
	// On a hardware fault it returns the words already written and an
	// error matching ErrBlockTransfer.
	ReadBlock(slot int, dst []uint32, tt TransferType) (int, error)

	// ResetToken returns the read token/soft state of slot to idle.
	// Resetting an idle module is a no-op.
	ResetToken(slot int) error

	// BytesAvailable is the count of data still pending in slot.
	BytesAvailable(slot int) int

	// Flush discards one pending transfer from slot without copying it.
	Flush(slot int) error
}

// Control is the run-control surface of one family of modules.
type Control interface {
	Probe(slot int) error
	SoftReset(slot int) error
	ResetTriggerCount(slot int) error
	SetBlockLevel(level int) error
	Enable() error
	Disable() error
	HardReset() error
}

// Hardware is everything the core needs from one family.
type Hardware interface {
	Readout
	Control
}

// SoftErrorCounter is implemented by hardware that keeps a cumulative
// soft error count per module (fiber link errors and similar).
type SoftErrorCounter interface {
	SoftErrors(slot int) (int, error)
}
