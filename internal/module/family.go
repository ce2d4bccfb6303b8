// internal/module/family.go
package module

import "fmt"

// Family is a module family (hardware type).
type Family string

// Known families.
const (
	FamilyFADC  Family = "fadc250"   // flash ADC digitizer
	FamilyMPD   Family = "ssp_mpd"   // SSP bridge reading APV/MPD fibers
	FamilyMAROC Family = "ssp_maroc" // SSP aggregator for MAROC boards
)

// Profile holds the family traits the readout loop needs.
type Profile struct {
	Family Family

	// Bank is the tag of the bank the family writes into the event.
	Bank uint16

	// PollBudget is the default readiness poll iteration cap.
	PollBudget int

	// BlockLevelNum makes the bank num carry the block level.
	BlockLevelNum bool
}

// ProfileFor returns the defaults of a known family.
func ProfileFor(f Family) (Profile, error) {
	switch f {
	case FamilyFADC:
		return Profile{Family: f, Bank: 0x3, PollBudget: 100}, nil
	case FamilyMPD:
		return Profile{Family: f, Bank: 10, PollBudget: 10000}, nil
	case FamilyMAROC:
		return Profile{Family: f, Bank: 18, PollBudget: 100000, BlockLevelNum: true}, nil
	default:
		return Profile{}, fmt.Errorf("module: unknown family %q", f)
	}
}

// BankNum is the num field of the family bank header.
func (p Profile) BankNum(blockLevel int) uint8 {
	if p.BlockLevelNum {
		return uint8(blockLevel)
	}
	return 0
}
