// internal/poller/poller.go
package poller

import (
	"time"

	"github.com/tamzrod/crate-readout/internal/module"
)

// Readier abstracts the readiness query of a module set.
// It must not block.
type Readier interface {
	Ready(want module.Mask) module.Mask
}

// WaitReady polls r until every module in want is ready or budget probes
// have been made. No sleeping: the budget is the timeout.
// A block once reported ready stays ready until read, so readiness
// accumulates across probes.
func WaitReady(r Readier, want module.Mask, budget int) Result {
	start := time.Now()
	res := Result{Want: want}

	if want == 0 {
		res.Outcome = Ready
		return res
	}
	if budget < 1 {
		budget = 1
	}

	for res.Iterations < budget {
		res.Iterations++
		res.Got |= r.Ready(want) & want
		if res.Got == want {
			break
		}
	}

	res.Elapsed = time.Since(start)

	switch {
	case res.Got == want:
		res.Outcome = Ready
	case res.Got == 0:
		res.Outcome = TimedOut
	default:
		res.Outcome = NotReady
	}
	return res
}
