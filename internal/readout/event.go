// internal/readout/event.go
package readout

import (
	"github.com/tamzrod/crate-readout/internal/module"
	"github.com/tamzrod/crate-readout/internal/poller"
)

// UnitReport describes the readout of one module set for one trigger.
type UnitReport struct {
	Name       string
	Bank       uint16
	Outcome    poller.Outcome
	Ready      module.Mask
	Iterations int

	// Words is the data written into the set's bank.
	Words int
}

// DrainReport describes the sync check of one module.
type DrainReport struct {
	Unit    string
	Slot    int
	Before  int // bytes
	After   int // bytes
	Flushes int
	Stuck   bool
}

// Event is the result of servicing one trigger.
type Event struct {
	Seq  int
	Sync bool

	// Words is the framed event. It aliases the shared buffer and is
	// valid only until the next Service call.
	Words []uint32

	// TriggerWords is the size of the trigger block copied in.
	TriggerWords int

	Units  []UnitReport
	Drains []DrainReport
	Faults []Fault
}

// Faulted reports whether any fault was recorded.
func (e Event) Faulted() bool { return len(e.Faults) > 0 }

// FaultsOf returns the faults of one kind.
func (e Event) FaultsOf(k Kind) []Fault {
	var out []Fault
	for _, f := range e.Faults {
		if f.Kind == k {
			out = append(out, f)
		}
	}
	return out
}

// Sink receives every serviced event.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }
