// internal/hw/modbus/regmap.go
package modbus

// Gateway register map. Each board slot owns a SlotStride block of
// holding registers; crate-wide registers live at GlobalBase.
// Values are protocol-locked.

// ---- PER SLOT ----

const SlotStride = 0x100

const (
	// RegStatus: bit0 block ready, bit1 bus error, bit2 token held.
	RegStatus = 0x00

	// RegWordsHi / RegWordsLo: words pending in the board FIFO.
	RegWordsHi = 0x01
	RegWordsLo = 0x02

	// RegControl takes one Cmd* value per write.
	RegControl = 0x03

	// RegBoardID is non-zero when a board answers in the slot.
	RegBoardID = 0x04

	// RegSoftErrHi / RegSoftErrLo: cumulative link soft errors.
	RegSoftErrHi = 0x05
	RegSoftErrLo = 0x06

	// RegFIFO is the data window. Reading N registers pops N/2 words.
	RegFIFO = 0x10
)

const (
	StatusReady uint16 = 1 << 0
	StatusError uint16 = 1 << 1
	StatusToken uint16 = 1 << 2
)

const (
	CmdSoftReset      uint16 = 1
	CmdResetToken     uint16 = 2
	CmdResetTrigCount uint16 = 3
	CmdFlush          uint16 = 4
)

// ---- GLOBAL ----

const GlobalBase = 0xF000

const (
	RegBlockLevel = GlobalBase + 0x00
	RegEnable     = GlobalBase + 0x01
	RegGlobalCmd  = GlobalBase + 0x02
)

const CmdHardReset uint16 = 0xA5

// ---- LIMITS ----

// MaxFIFORegs is the largest FIFO read in one request (Modbus limit 125).
const MaxFIFORegs = 124

func slotReg(slot int, reg uint16) uint16 {
	return uint16(slot)*SlotStride + reg
}
