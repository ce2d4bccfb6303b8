// internal/readout/fault.go
package readout

import (
	"errors"
	"fmt"

	"github.com/tamzrod/crate-readout/internal/module"
)

// Kind classifies a readout fault.
type Kind int

const (
	// ReadinessTimeout: a module never reported ready within the poll budget.
	ReadinessTimeout Kind = iota + 1
	// ScanMismatch: fewer modules ready than the scan mask expects.
	ScanMismatch
	// BlockTransferError: hardware flagged a fault during a bulk read.
	BlockTransferError
	// DrainResidual: data still pending after a sync event was read.
	DrainResidual
	// SetupFailure: a module failed discovery at download.
	SetupFailure
)

func (k Kind) String() string {
	switch k {
	case ReadinessTimeout:
		return "readiness-timeout"
	case ScanMismatch:
		return "scan-mismatch"
	case BlockTransferError:
		return "block-transfer-error"
	case DrainResidual:
		return "drain-residual"
	case SetupFailure:
		return "setup-failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrStuck marks a residual that survived active draining.
var ErrStuck = errors.New("readout: residual data survived flush limit")

// Fault is one recorded failure. Faults are collected on the Event;
// they are never returned as an error from Service.
type Fault struct {
	Kind Kind
	Seq  int

	// Unit is the module set name; Slot is the implicated module or -1.
	Unit string
	Slot int

	// Mask is the set of modules the fault concerns.
	Mask module.Mask

	// Words is the word count observed on the failing path.
	Words int

	Err error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("readout: %s: seq=%d unit=%s slot=%d words=%d", f.Kind, f.Seq, f.Unit, f.Slot, f.Words)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }
