// internal/trigger/schedule.go
package trigger

import "fmt"

// Schedule marks every Interval-th trigger as a sync event.
// A zero Interval never syncs.
type Schedule struct {
	Interval int
}

// IsSync reports whether trigger seq is a sync event.
func (s Schedule) IsSync(seq int) bool {
	return s.Interval > 0 && seq > 0 && seq%s.Interval == 0
}

// Levels are the block and buffer levels a run is started with.
type Levels struct {
	Block  int
	Buffer int
}

// Limits bound the levels a slave crate may run with.
type Limits struct {
	MaxBlock  int
	MaxBuffer int
}

// Clamp checks levels against the role limits. A slave over either limit
// falls back to block level 1 and buffer level 1; the returned error
// explains why and is meant for logging, not for aborting.
func Clamp(role Role, lv Levels, lim Limits) (Levels, error) {
	if lv.Block < 1 {
		lv.Block = 1
	}
	if lv.Buffer < 1 {
		lv.Buffer = 1
	}
	if role != RoleSlave {
		return lv, nil
	}
	if (lim.MaxBuffer > 0 && lv.Buffer > lim.MaxBuffer) || (lim.MaxBlock > 0 && lv.Block > lim.MaxBlock) {
		err := fmt.Errorf("trigger: slave levels block=%d buffer=%d exceed max block=%d buffer=%d",
			lv.Block, lv.Buffer, lim.MaxBlock, lim.MaxBuffer)
		return Levels{Block: 1, Buffer: 1}, err
	}
	return lv, nil
}
