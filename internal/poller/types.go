// internal/poller/types.go
package poller

import (
	"fmt"
	"time"

	"github.com/tamzrod/crate-readout/internal/module"
)

// Outcome is the result class of one readiness wait.
type Outcome int

const (
	// Ready: every wanted module reported a block.
	Ready Outcome = iota
	// NotReady: budget exhausted with some, not all, modules ready.
	NotReady
	// TimedOut: budget exhausted with no module ready.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case NotReady:
		return "not-ready"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is produced by one wait. Consumed once, never stored.
type Result struct {
	Outcome    Outcome
	Want       module.Mask
	Got        module.Mask
	Iterations int

	// Elapsed is observational only; control flow depends on Iterations.
	Elapsed time.Duration
}

// Missing is the set of wanted modules that never reported ready.
func (r Result) Missing() module.Mask {
	return r.Want &^ r.Got
}
