// internal/bank/cursor.go
package bank

import (
	"errors"
	"fmt"
)

var (
	ErrOverrun  = errors.New("bank: advance past end of buffer")
	ErrNegative = errors.New("bank: negative advance")
)

// Cursor is the write position inside a fixed region.
// It only moves forward, and only by explicit Advance calls.
type Cursor struct {
	pos   int
	limit int
}

// NewCursor returns a cursor at 0 over a region of limit words.
func NewCursor(limit int) Cursor {
	if limit < 0 {
		limit = 0
	}
	return Cursor{limit: limit}
}

func (c *Cursor) Pos() int   { return c.pos }
func (c *Cursor) Limit() int { return c.limit }
func (c *Cursor) Free() int  { return c.limit - c.pos }

// Advance moves the cursor by n accepted words.
// A rejected advance leaves the cursor where it was.
func (c *Cursor) Advance(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegative, n)
	}
	if n > c.Free() {
		return fmt.Errorf("%w: pos=%d n=%d limit=%d", ErrOverrun, c.pos, n, c.limit)
	}
	c.pos += n
	return nil
}

// Rewind returns the cursor to 0. Only the buffer owner calls this,
// between triggers.
func (c *Cursor) Rewind() { c.pos = 0 }
