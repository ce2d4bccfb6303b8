// internal/hw/modbus/bridge.go
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/crate-readout/internal/modbustcp"
	"github.com/tamzrod/crate-readout/internal/module"
)

// RegisterIO is the part of a Modbus client the bridge needs.
// modbus.Client satisfies it.
type RegisterIO interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Bridge drives one family of boards through a Modbus TCP gateway.
// It implements module.Hardware and module.SoftErrorCounter.
// Requests are serialized; the gateway handles one transaction at a time.
type Bridge struct {
	mu     sync.Mutex
	regs   RegisterIO
	slots  []int
	closer io.Closer
}

type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
	Slots    []int
}

// Dial connects to the gateway.
func Dial(cfg Config) (*Bridge, error) {
	h, cli, err := modbustcp.Dial(cfg.Endpoint, cfg.UnitID, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("hw modbus: %w", err)
	}
	return NewBridge(cli, cfg.Slots, h), nil
}

// NewBridge wraps an existing register client. closer may be nil.
func NewBridge(regs RegisterIO, slots []int, closer io.Closer) *Bridge {
	s := append([]int(nil), slots...)
	sort.Ints(s)
	return &Bridge{regs: regs, slots: s, closer: closer}
}

func (b *Bridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// ---- register helpers, mu held ----

func (b *Bridge) read1(addr uint16) (uint16, error) {
	raw, err := b.regs.ReadHoldingRegisters(addr, 1)
	if err != nil {
		return 0, err
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("hw modbus: short response at 0x%04x", addr)
	}
	return binary.BigEndian.Uint16(raw), nil
}

func (b *Bridge) read32(addr uint16) (uint32, error) {
	raw, err := b.regs.ReadHoldingRegisters(addr, 2)
	if err != nil {
		return 0, err
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("hw modbus: short response at 0x%04x", addr)
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (b *Bridge) write(addr, value uint16) error {
	_, err := b.regs.WriteSingleRegister(addr, value)
	return err
}

func (b *Bridge) command(slot int, cmd uint16) error {
	if err := b.write(slotReg(slot, RegControl), cmd); err != nil {
		return fmt.Errorf("hw modbus: slot %d: command %d: %w", slot, cmd, err)
	}
	return nil
}

func (b *Bridge) owns(slot int) bool {
	i := sort.SearchInts(b.slots, slot)
	return i < len(b.slots) && b.slots[i] == slot
}

// ---- module.Readout ----

func (b *Bridge) Ready(want module.Mask) module.Mask {
	b.mu.Lock()
	defer b.mu.Unlock()

	var got module.Mask
	for _, s := range want.Slots() {
		if !b.owns(s) {
			continue
		}
		st, err := b.read1(slotReg(s, RegStatus))
		if err == nil && st&StatusReady != 0 {
			got |= module.Bit(s)
		}
	}
	return got
}

func (b *Bridge) ReadBlock(slot int, dst []uint32, tt module.TransferType) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.owns(slot) {
		return 0, fmt.Errorf("hw modbus: slot %d not on this gateway", slot)
	}

	chain := []int{slot}
	if tt == module.TransferTokenChain {
		chain = chain[:0]
		for _, s := range b.slots {
			if s >= slot {
				chain = append(chain, s)
			}
		}
	}

	n := 0
	for _, s := range chain {
		w, err := b.readBoard(s, dst[n:])
		n += w
		if err != nil {
			return n, &module.BlockError{Slot: s, Words: n, Err: err}
		}
	}
	return n, nil
}

func (b *Bridge) readBoard(slot int, dst []uint32) (int, error) {
	st, err := b.read1(slotReg(slot, RegStatus))
	if err != nil {
		return 0, err
	}
	if st&StatusError != 0 {
		return 0, errors.New("board reports bus error")
	}

	avail, err := b.read32(slotReg(slot, RegWordsHi))
	if err != nil {
		return 0, err
	}

	want := int(avail)
	if want > len(dst) {
		want = len(dst)
	}

	n := 0
	for n < want {
		regs := min(2*(want-n), MaxFIFORegs)
		raw, err := b.regs.ReadHoldingRegisters(slotReg(slot, RegFIFO), uint16(regs))
		if err != nil {
			return n, err
		}
		for i := 0; i+4 <= len(raw) && n < want; i += 4 {
			dst[n] = binary.BigEndian.Uint32(raw[i:])
			n++
		}
		if len(raw) < 4 {
			return n, errors.New("fifo underrun")
		}
	}

	if int(avail) > len(dst) {
		return n, fmt.Errorf("block of %d words exceeds %d word ceiling", avail, len(dst))
	}
	return n, nil
}

func (b *Bridge) ResetToken(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command(slot, CmdResetToken)
}

func (b *Bridge) BytesAvailable(slot int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.read32(slotReg(slot, RegWordsHi))
	if err != nil {
		return 0
	}
	return 4 * int(w)
}

func (b *Bridge) Flush(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command(slot, CmdFlush)
}

// ---- module.Control ----

func (b *Bridge) Probe(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, err := b.read1(slotReg(slot, RegBoardID))
	if err != nil {
		return fmt.Errorf("hw modbus: slot %d: probe: %w", slot, err)
	}
	if id == 0 {
		return fmt.Errorf("hw modbus: slot %d: no board", slot)
	}
	return nil
}

func (b *Bridge) SoftReset(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command(slot, CmdSoftReset)
}

func (b *Bridge) ResetTriggerCount(slot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command(slot, CmdResetTrigCount)
}

func (b *Bridge) SetBlockLevel(level int) error {
	if level < 1 || level > 255 {
		return fmt.Errorf("hw modbus: block level %d out of range", level)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(RegBlockLevel, uint16(level))
}

func (b *Bridge) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(RegEnable, 1)
}

func (b *Bridge) Disable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(RegEnable, 0)
}

func (b *Bridge) HardReset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(RegGlobalCmd, CmdHardReset)
}

// ---- module.SoftErrorCounter ----

func (b *Bridge) SoftErrors(slot int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.read32(slotReg(slot, RegSoftErrHi))
	if err != nil {
		return 0, fmt.Errorf("hw modbus: slot %d: soft errors: %w", slot, err)
	}
	return int(n), nil
}

var (
	_ module.Hardware         = (*Bridge)(nil)
	_ module.SoftErrorCounter = (*Bridge)(nil)
	_ RegisterIO              = modbus.Client(nil)
)
