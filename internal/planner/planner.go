// internal/planner/planner.go
package planner

import (
	"errors"
	"fmt"

	"github.com/tamzrod/crate-readout/internal/module"
)

// fADC250 block geometry, in 32-bit words.
const (
	// block header + block trailer + 2 possible filler words
	fadcBlockOverhead = 4
	// event header + trigger time 1 + trigger time 2 + header 2
	fadcEventHeader = 4
	// one channel header per channel with window data
	fadcChannelHeader = 1
	// scaler readout: 16 channels + header/trailer
	fadcScalerWords = 18
)

// Default SSP geometry.
const (
	DefaultMPDEventBytes   = 32000 * 12
	DefaultMAROCBlockWords = 0x10000
)

// DefaultMarginWords pads the total for block framing.
const DefaultMarginWords = 4

// Params describes one module set sharing the event buffer.
type Params struct {
	Name   string
	Family module.Family
	Boards int

	// fADC processing window
	Channels int
	Window   int

	// SSP/MPD worst-case bytes per event, per board
	EventBytes int

	// SSP/MAROC fixed words per block, per board
	BlockWords int
}

// Bound is the worst-case yield of one set for one block.
type Bound struct {
	Name  string
	Words int
}

// Plan is the frozen capacity of a run.
type Plan struct {
	BlockLevel  int
	Bounds      []Bound
	MarginWords int
	Total       int
}

// Bound returns the bound of the named set.
func (p Plan) Bound(name string) (int, bool) {
	for _, b := range p.Bounds {
		if b.Name == name {
			return b.Words, true
		}
	}
	return 0, false
}

var ErrBlockLevel = errors.New("planner: block level must be >= 1")

// ComputeMaxWords returns the pessimistic per-set and total word bound of
// one block at blockLevel. It must be rerun whenever blockLevel or any
// processing parameter changes.
//
// Processing modes other than the raw window produce strictly fewer
// words, so the fADC bound always assumes the raw window.
func ComputeMaxWords(blockLevel int, params []Params, marginWords int) (Plan, error) {
	if blockLevel < 1 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrBlockLevel, blockLevel)
	}
	if marginWords < 0 {
		return Plan{}, fmt.Errorf("planner: negative margin %d", marginWords)
	}

	plan := Plan{BlockLevel: blockLevel, MarginWords: marginWords, Total: marginWords}
	for _, p := range params {
		w, err := setWords(blockLevel, p)
		if err != nil {
			return Plan{}, err
		}
		plan.Bounds = append(plan.Bounds, Bound{Name: p.Name, Words: w})
		plan.Total += w
	}
	return plan, nil
}

func setWords(bl int, p Params) (int, error) {
	if p.Boards < 1 {
		return 0, fmt.Errorf("planner: %s: boards must be >= 1", p.Name)
	}

	switch p.Family {
	case module.FamilyFADC:
		if p.Channels < 1 || p.Window < 1 {
			return 0, fmt.Errorf("planner: %s: channels and window must be >= 1", p.Name)
		}
		perEvent := fadcEventHeader + p.Channels*(fadcChannelHeader+ceilDiv(p.Window, 2))
		return p.Boards * (fadcBlockOverhead + bl*perEvent + fadcScalerWords), nil

	case module.FamilyMPD:
		eb := p.EventBytes
		if eb <= 0 {
			eb = DefaultMPDEventBytes
		}
		return p.Boards * bl * ceilDiv(eb, 4), nil

	case module.FamilyMAROC:
		bw := p.BlockWords
		if bw <= 0 {
			bw = DefaultMAROCBlockWords
		}
		return p.Boards * bw, nil

	default:
		return 0, fmt.Errorf("planner: %s: unknown family %q", p.Name, p.Family)
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
