// internal/module/driver.go
package module

import (
	"errors"
	"fmt"
)

// TransferType selects the bulk read path.
type TransferType int

const (
	// TransferDirect reads exactly one module.
	TransferDirect TransferType = 1
	// TransferTokenChain reads every module in order, passing the token.
	TransferTokenChain TransferType = 2
)

func (t TransferType) String() string {
	switch t {
	case TransferDirect:
		return "direct"
	case TransferTokenChain:
		return "token-chain"
	default:
		return fmt.Sprintf("transfer(%d)", int(t))
	}
}

// Driver reads one module set as a unit.
// It never moves any buffer cursor; the caller commits what it reports.
type Driver interface {
	Name() string
	Profile() Profile
	Set() Set
	Transfer() TransferType

	// Ready returns the subset of want with a block ready.
	Ready(want Mask) Mask

	// ReadBlock fills dst (len(dst) is the ceiling) and returns the words written.
	ReadBlock(dst []uint32) (int, error)

	// Recover resets the token of every module in the set, once each.
	Recover() error

	// Release hands the token back after a clean transfer.
	Release() error

	BytesAvailable(slot int) int
	Flush(slot int) error

	Hardware() Hardware
}

// ErrEmptySet is returned when a driver is built for no modules.
var ErrEmptySet = errors.New("module: empty module set")

// NewDriver picks the transfer strategy from the set size.
func NewDriver(name string, p Profile, set Set, hw Hardware) (Driver, error) {
	if hw == nil {
		return nil, fmt.Errorf("module: %s: nil hardware", name)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("module: %s: %w", name, ErrEmptySet)
	}
	b := base{name: name, profile: p, set: set, hw: hw}
	if set.Len() == 1 {
		return &directDriver{base: b}, nil
	}
	return &chainDriver{base: b}, nil
}

type base struct {
	name    string
	profile Profile
	set     Set
	hw      Hardware
}

func (b *base) Name() string                { return b.name }
func (b *base) Profile() Profile            { return b.profile }
func (b *base) Set() Set                    { return b.set }
func (b *base) Hardware() Hardware          { return b.hw }
func (b *base) Ready(want Mask) Mask        { return b.hw.Ready(want & b.set.ScanMask()) }
func (b *base) BytesAvailable(slot int) int { return b.hw.BytesAvailable(slot) }
func (b *base) Flush(slot int) error        { return b.hw.Flush(slot) }

func (b *base) Recover() error {
	var errs []error
	for _, h := range b.set.handles {
		if err := b.hw.ResetToken(h.Slot); err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", h.Slot, err))
		}
	}
	return errors.Join(errs...)
}

func (b *base) Release() error {
	h, _ := b.set.First()
	return b.hw.ResetToken(h.Slot)
}

// ceiling clamps dst to the read ceiling of the modules a transfer spans.
// A chained transfer may take every member's ceiling; a member with no
// ceiling leaves the chain unbounded.
func (b *base) ceiling(dst []uint32, tt TransferType) []uint32 {
	limit := 0
	if tt == TransferTokenChain {
		for _, h := range b.set.handles {
			if h.ReadCeiling <= 0 {
				return dst
			}
			limit += h.ReadCeiling
		}
	} else {
		h, _ := b.set.First()
		limit = h.ReadCeiling
	}
	if limit > 0 && len(dst) > limit {
		return dst[:limit]
	}
	return dst
}

// directDriver reads the single module of a one-member set.
type directDriver struct {
	base
}

func (d *directDriver) Transfer() TransferType { return TransferDirect }

func (d *directDriver) ReadBlock(dst []uint32) (int, error) {
	h, _ := d.set.First()
	return clampRead(d.hw.ReadBlock(h.Slot, d.ceiling(dst, TransferDirect), TransferDirect))
}

// chainDriver reads a multi-member set with token passing from the head.
type chainDriver struct {
	base
}

func (d *chainDriver) Transfer() TransferType { return TransferTokenChain }

func (d *chainDriver) ReadBlock(dst []uint32) (int, error) {
	h, _ := d.set.First()
	return clampRead(d.hw.ReadBlock(h.Slot, d.ceiling(dst, TransferTokenChain), TransferTokenChain))
}

func clampRead(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, err
}

var (
	_ Driver = (*directDriver)(nil)
	_ Driver = (*chainDriver)(nil)
)
