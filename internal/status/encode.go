// internal/status/encode.go
package status

// Encode converts a Snapshot into the live part of a module status block.
// Layout is protocol-locked. The family name slots are left zero.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerModule)

	regs[SlotHealthCode] = s.Health
	regs[SlotTimeouts] = s.Timeouts
	regs[SlotNotReady] = s.NotReady
	regs[SlotBlockErrors] = s.BlockErrors
	regs[SlotDrainResiduals] = s.DrainResiduals
	regs[SlotSoftErrors] = s.SoftErrors
	regs[SlotLastFaultSeqLo] = uint16(s.LastFaultSeq)
	regs[SlotLastFaultSeqHi] = uint16(s.LastFaultSeq >> 16)
	regs[SlotModuleSlot] = s.Slot

	return regs
}

// EncodeFamilyName packs up to 12 ASCII characters into 6 registers,
// two bytes per register, big-endian.
func EncodeFamilyName(name string) []uint16 {
	out := make([]uint16, SlotFamilyNameSlots)

	b := []byte(name)
	if len(b) > FamilyNameMaxChars {
		b = b[:FamilyNameMaxChars]
	}

	// sanitize to printable ASCII
	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < FamilyNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}
