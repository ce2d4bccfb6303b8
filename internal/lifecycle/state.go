// internal/lifecycle/state.go
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/crate-readout/internal/readout"
)

// State is a run-control state.
type State int

const (
	Unconfigured State = iota
	Downloaded
	Prestarted
	Running
	Ended
	Cleaned
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Downloaded:
		return "downloaded"
	case Prestarted:
		return "prestarted"
	case Running:
		return "running"
	case Ended:
		return "ended"
	case Cleaned:
		return "cleaned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrTransition is returned when a transition is requested from a state
// that does not allow it. Nothing is touched.
var ErrTransition = errors.New("lifecycle: invalid transition")

func transitionError(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrTransition, op, from)
}

// SetupError reports the modules excluded at download.
// The controller stays usable with the remaining modules.
type SetupError struct {
	Faults []readout.Fault

	// Cause is set when bring-up produced no usable module at all.
	Cause error
}

func (e *SetupError) Error() string {
	parts := make([]string, 0, len(e.Faults))
	for _, f := range e.Faults {
		parts = append(parts, fmt.Sprintf("%s slot %d: %v", f.Unit, f.Slot, f.Err))
	}
	msg := fmt.Sprintf("lifecycle: %d module(s) failed setup", len(e.Faults))
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, "; ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SetupError) Unwrap() []error {
	out := make([]error, 0, len(e.Faults)+1)
	for i := range e.Faults {
		out = append(out, &e.Faults[i])
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Fatal reports whether no module survived setup.
func (e *SetupError) Fatal() bool { return e.Cause != nil }
