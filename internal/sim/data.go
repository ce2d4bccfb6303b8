// internal/sim/data.go
package sim

import "github.com/tamzrod/crate-readout/internal/module"

// Data word type codes, top nibble of defining words.
const (
	wordBlockHeader  uint32 = 0x8 << 28
	wordBlockTrailer uint32 = 0x9 << 28
	wordEventHeader  uint32 = 0xA << 28
	wordTriggerTime  uint32 = 0xB << 28
	wordWindowRaw    uint32 = 0xC << 28
	wordFiller       uint32 = 0xF << 28
)

// block builds one block as the family would format it. Caller holds mu.
func (c *Crate) block(slot, seq int) []uint32 {
	bl := c.blockLevel
	first := (seq-1)*bl + 1
	hdr := wordBlockHeader | uint32(slot&0x1f)<<22 | uint32(seq&0x3ff)<<8 | uint32(bl&0xff)

	out := []uint32{hdr}
	switch c.family {
	case module.FamilyFADC:
		half := (c.geo.Window + 1) / 2
		for e := 0; e < bl; e++ {
			out = append(out,
				wordEventHeader|uint32(first+e)&0x3fffff,
				wordTriggerTime|uint32(first+e)*4,
				wordTriggerTime|1<<27,
				wordFiller,
			)
			for ch := 0; ch < c.geo.Channels; ch++ {
				out = append(out, wordWindowRaw|uint32(ch)<<23|uint32(c.geo.Window))
				for i := 0; i < half; i++ {
					// two 13-bit samples per word
					s := uint32(100 + ch + i)
					out = append(out, s<<16|s)
				}
			}
		}
	default:
		for e := 0; e < bl; e++ {
			out = append(out, wordEventHeader|uint32(first+e)&0x3fffff)
			for i := 1; i < c.geo.EventWords; i++ {
				out = append(out, uint32(slot)<<24|uint32(i))
			}
		}
	}
	out = append(out, wordBlockTrailer|uint32(slot&0x1f)<<22|uint32(len(out)+1))
	return out
}
