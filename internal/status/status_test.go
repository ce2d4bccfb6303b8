// internal/status/status_test.go
package status

import "testing"

func TestCounters_FaultsAccumulate(t *testing.T) {
	c := NewCounters()
	c.Register(3, "fadc")
	c.Register(4, "fadc")

	c.Timeout(4, 10)
	c.Timeout(4, 12)
	c.BlockError(3, 11)
	c.OK(3)

	m4, ok := c.Get(4)
	if !ok {
		t.Fatalf("slot 4 missing")
	}
	if m4.Timeouts != 2 || m4.LastFaultSeq != 12 || m4.Health != HealthError {
		t.Fatalf("slot 4 counters wrong: %+v", m4)
	}

	m3, _ := c.Get(3)
	if m3.BlockErrors != 1 || m3.Health != HealthOK {
		t.Fatalf("slot 3 counters wrong: %+v", m3)
	}
}

func TestCounters_StuckSurvivesOK(t *testing.T) {
	c := NewCounters()
	c.Register(13, "maroc")

	c.DrainResidual(13, 1000, true)
	c.OK(13)

	m, _ := c.Get(13)
	if m.Health != HealthStuck {
		t.Fatalf("health=%d want stuck", m.Health)
	}
	if m.DrainResiduals != 1 {
		t.Fatalf("drain residuals=%d want 1", m.DrainResiduals)
	}
}

func TestCounters_ClearKeepsRegistration(t *testing.T) {
	c := NewCounters()
	c.Register(5, "mpd")
	c.SoftErrors(5, 1, 7)
	c.SoftErrors(5, 2, 0)
	c.Clear()

	m, ok := c.Get(5)
	if !ok {
		t.Fatalf("registration lost")
	}
	if m.SoftErrors != 0 || m.Family != "mpd" || m.Health != HealthUnknown {
		t.Fatalf("clear failed: %+v", m)
	}
}

func TestSnapshotOrderedAndSaturated(t *testing.T) {
	c := NewCounters()
	c.Register(20, "mpd")
	c.Register(3, "fadc")
	c.SoftErrors(20, 70000, 70000)

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Slot != 3 || snap[1].Slot != 20 {
		t.Fatalf("snapshot not ordered by slot: %+v", snap)
	}

	s := SnapshotOf(snap[1])
	if s.SoftErrors != CounterMax {
		t.Fatalf("soft errors=%d want saturated %d", s.SoftErrors, CounterMax)
	}

	regs := Encode(s)
	if len(regs) != SlotsPerModule {
		t.Fatalf("regs=%d want %d", len(regs), SlotsPerModule)
	}
	if regs[SlotLastFaultSeqLo] != uint16(70000&0xFFFF) || regs[SlotLastFaultSeqHi] != 1 {
		t.Fatalf("seq split wrong: lo=%d hi=%d", regs[SlotLastFaultSeqLo], regs[SlotLastFaultSeqHi])
	}
	if regs[SlotModuleSlot] != 20 {
		t.Fatalf("slot reg=%d want 20", regs[SlotModuleSlot])
	}
}

func TestEncodeFamilyName(t *testing.T) {
	regs := EncodeFamilyName("fadc250\x01toolongname")
	if len(regs) != SlotFamilyNameSlots {
		t.Fatalf("regs=%d want %d", len(regs), SlotFamilyNameSlots)
	}
	if regs[0] != uint16('f')<<8|uint16('a') {
		t.Fatalf("first reg=0x%04x", regs[0])
	}
	// byte 7 is the sanitized control character
	if byte(regs[3]) != '?' {
		t.Fatalf("control char not sanitized: 0x%04x", regs[3])
	}
}
