// internal/trigger/trigger.go
package trigger

import (
	"context"
	"fmt"
)

// Trigger is one readout request from the distribution fabric.
type Trigger struct {
	// Seq counts triggers from 1 within a run.
	Seq int

	// Sync marks a synchronization event: every module must be fully
	// drained after it is read.
	Sync bool
}

// Source is the trigger-distribution collaborator.
type Source interface {
	// BlockLevel is the number of events per block currently programmed.
	BlockLevel() int

	// BufferLevel is the number of blocks allowed in flight.
	BufferLevel() int

	// Await blocks until the next trigger or until ctx is done.
	Await(ctx context.Context) (Trigger, error)

	// ReadTriggerBlock copies the trigger module's own block for the
	// current trigger into dst. The block is already bank structured.
	ReadTriggerBlock(dst []uint32) (int, error)

	// IntCount is the number of triggers seen so far. Diagnostics only.
	IntCount() int
}

// Firer is hardware that produces a block when a software trigger
// source fires.
type Firer interface {
	Fire(seq int)
}

// Role is the position of the crate in the trigger fabric.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// ParseRole accepts the config spelling of a role. Empty means master.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleMaster:
		return RoleMaster, nil
	case RoleSlave:
		return RoleSlave, nil
	default:
		return "", fmt.Errorf("trigger: unknown role %q", s)
	}
}
