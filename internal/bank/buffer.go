// internal/bank/buffer.go
package bank

import (
	"errors"
	"fmt"
)

var (
	ErrFrameOpen     = errors.New("bank: frame still open")
	ErrNotInnermost  = errors.New("bank: frame is not the innermost open frame")
	ErrFrameClosed   = errors.New("bank: frame already closed")
	ErrParentNotBank = errors.New("bank: parent frame does not hold banks")
)

// Buffer is the shared event buffer for one trigger.
// It has exactly one writer: the readout loop that owns it.
type Buffer struct {
	words []uint32
	cur   Cursor
	open  []*Frame
}

// NewBuffer allocates a buffer of capacity words.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		words: make([]uint32, capacity),
		cur:   NewCursor(capacity),
	}
}

// Reset starts a new trigger. Fails if a frame from the last one is still open.
func (b *Buffer) Reset() error {
	if len(b.open) > 0 {
		return fmt.Errorf("%w: tag=%d", ErrFrameOpen, b.open[len(b.open)-1].tag)
	}
	b.cur.Rewind()
	return nil
}

// Abandon drops all open frames and rewinds. Used only when invariants are
// already broken and the trigger's content is discarded.
func (b *Buffer) Abandon() {
	for _, f := range b.open {
		f.closed = true
	}
	b.open = b.open[:0]
	b.cur.Rewind()
}

func (b *Buffer) Capacity() int { return len(b.words) }
func (b *Buffer) Len() int      { return b.cur.Pos() }
func (b *Buffer) Free() int     { return b.cur.Free() }

// Words returns the written region. Valid until the next Reset.
func (b *Buffer) Words() []uint32 { return b.words[:b.cur.Pos()] }

// Open starts a bank at the cursor. A nested Open requires the enclosing
// frame to be of type TypeBank.
func (b *Buffer) Open(tag uint16, typ, num uint8) (*Frame, error) {
	if n := len(b.open); n > 0 && b.open[n-1].typ != TypeBank {
		return nil, fmt.Errorf("%w: parent tag=%d", ErrParentNotBank, b.open[n-1].tag)
	}
	start := b.cur.Pos()
	if err := b.cur.Advance(HeaderWords); err != nil {
		return nil, err
	}
	b.words[start] = 1
	b.words[start+1] = encodeIdent(tag, typ, num)

	f := &Frame{buf: b, start: start, tag: tag, typ: typ, num: num}
	b.open = append(b.open, f)
	return f, nil
}

func (b *Buffer) innermost(f *Frame) error {
	if f.closed {
		return ErrFrameClosed
	}
	if n := len(b.open); n == 0 || b.open[n-1] != f {
		return ErrNotInnermost
	}
	return nil
}
