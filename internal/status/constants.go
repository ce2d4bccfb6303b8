// internal/status/constants.go
package status

// Module Status Block layout constants.
// These values define the export protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerModule is the fixed number of registers per module.
const SlotsPerModule = 16

// ---- SLOT INDICES ----

// SlotHealthCode holds the module health state.
const SlotHealthCode = 0

// SlotTimeouts holds the readiness timeout count.
const SlotTimeouts = 1

// SlotNotReady holds the no-data count.
const SlotNotReady = 2

// SlotBlockErrors holds the block transfer error count.
const SlotBlockErrors = 3

// SlotDrainResiduals holds the sync-boundary residual count.
const SlotDrainResiduals = 4

// SlotSoftErrors holds the hardware soft error count.
const SlotSoftErrors = 5

// SlotLastFaultSeqLo and SlotLastFaultSeqHi hold the trigger number of the last fault.
const SlotLastFaultSeqLo = 6
const SlotLastFaultSeqHi = 7

// SlotModuleSlot holds the backplane position.
const SlotModuleSlot = 8

// Slot 9 is reserved.
const SlotReserved = 9

// ---- FAMILY NAME ----

// SlotFamilyNameStart is the first register of the family name.
// The name is always placed at the END of the block.
const SlotFamilyNameStart = 10

// SlotFamilyNameSlots is the number of registers reserved for the name.
const SlotFamilyNameSlots = 6

// ---- LIMITS ----

// FamilyNameMaxChars is the maximum number of ASCII characters stored.
const FamilyNameMaxChars = 12

// CounterMax is the saturation value of exported counters.
const CounterMax = 65535

// ---- HEALTH CODES ----

// HealthUnknown represents a module not yet read this run.
const HealthUnknown uint16 = 0

// HealthOK represents a module whose last readout was clean.
const HealthOK uint16 = 1

// HealthError represents a module whose last readout faulted.
const HealthError uint16 = 2

// HealthStuck represents a module that kept data after active draining.
const HealthStuck uint16 = 3

// HealthDisabled represents a module excluded at setup.
const HealthDisabled uint16 = 4
