// internal/module/set.go
package module

import "fmt"

// Handle identifies one module instance in the crate.
type Handle struct {
	// Slot is the backplane position. It doubles as the scan mask bit.
	Slot int

	// Family is the module family name the handle belongs to.
	Family string

	// ReadCeiling is the family-specific largest single transfer in words.
	// 0 means no family ceiling.
	ReadCeiling int
}

// Set is the ordered collection of modules read as one unit.
// Order is the readout (token) order. Built once; never mutated.
type Set struct {
	handles []Handle
	mask    Mask
}

// NewSet builds a set in the given order.
// Slots must be in range and unique.
func NewSet(handles ...Handle) (Set, error) {
	var s Set
	for _, h := range handles {
		if h.Slot < 0 || h.Slot > MaxSlot {
			return Set{}, fmt.Errorf("module: slot %d out of range 0..%d", h.Slot, MaxSlot)
		}
		if s.mask.Has(h.Slot) {
			return Set{}, fmt.Errorf("module: duplicate slot %d", h.Slot)
		}
		s.mask |= Bit(h.Slot)
		s.handles = append(s.handles, h)
	}
	return s, nil
}

// Len returns the number of modules.
func (s Set) Len() int { return len(s.handles) }

// ScanMask is the set of modules expected to respond on every trigger.
func (s Set) ScanMask() Mask { return s.mask }

// Handles returns a copy of the handles in readout order.
func (s Set) Handles() []Handle {
	out := make([]Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// First returns the head of the readout order.
func (s Set) First() (Handle, bool) {
	if len(s.handles) == 0 {
		return Handle{}, false
	}
	return s.handles[0], true
}

// Without returns a new set with the masked modules removed, order preserved.
func (s Set) Without(drop Mask) Set {
	out := Set{}
	for _, h := range s.handles {
		if drop.Has(h.Slot) {
			continue
		}
		out.handles = append(out.handles, h)
		out.mask |= Bit(h.Slot)
	}
	return out
}
