// internal/status/snapshot.go
package status

// Snapshot is exactly what the exporter is allowed to deliver for one module.
// It contains no logic and no memory beyond current state.
type Snapshot struct {
	Health         uint16
	Timeouts       uint16
	NotReady       uint16
	BlockErrors    uint16
	DrainResiduals uint16
	SoftErrors     uint16
	LastFaultSeq   uint32
	Slot           uint16
}

// SnapshotOf converts module counters into an exportable snapshot.
// Counters saturate at CounterMax; they never wrap.
func SnapshotOf(m ModuleCounters) Snapshot {
	return Snapshot{
		Health:         m.Health,
		Timeouts:       saturate(m.Timeouts),
		NotReady:       saturate(m.NotReady),
		BlockErrors:    saturate(m.BlockErrors),
		DrainResiduals: saturate(m.DrainResiduals),
		SoftErrors:     saturate(m.SoftErrors),
		LastFaultSeq:   uint32(m.LastFaultSeq),
		Slot:           uint16(m.Slot),
	}
}

func saturate(v uint64) uint16 {
	if v > CounterMax {
		return CounterMax
	}
	return uint16(v)
}
