// internal/module/mask.go
package module

import (
	"fmt"
	"math/bits"
)

// MaxSlot is the highest backplane position a module may occupy.
const MaxSlot = 31

// Mask is a set of module positions. Bit n set = module in slot n.
type Mask uint32

// Bit returns the single-module mask for slot.
func Bit(slot int) Mask {
	if slot < 0 || slot > MaxSlot {
		return 0
	}
	return Mask(1) << uint(slot)
}

// Has reports whether slot is in the mask.
func (m Mask) Has(slot int) bool {
	return m&Bit(slot) != 0
}

// Count returns the number of modules in the mask.
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Slots lists the positions in ascending order.
func (m Mask) Slots() []int {
	out := make([]int, 0, m.Count())
	for v := uint32(m); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros32(v))
	}
	return out
}

func (m Mask) String() string {
	return fmt.Sprintf("0x%08x", uint32(m))
}
