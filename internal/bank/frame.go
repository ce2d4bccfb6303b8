// internal/bank/frame.go
package bank

// Frame is one open bank. Open and Close are strictly paired.
type Frame struct {
	buf    *Buffer
	start  int
	tag    uint16
	typ    uint8
	num    uint8
	closed bool
}

func (f *Frame) Tag() uint16 { return f.tag }

// Len is the number of words written after the header so far.
func (f *Frame) Len() int {
	return f.buf.cur.Pos() - f.start - HeaderWords
}

// Free is the room left in the buffer.
func (f *Frame) Free() int { return f.buf.cur.Free() }

// Tail returns the writable region at the cursor, at most max words.
// Nothing is accepted until Commit.
func (f *Frame) Tail(max int) []uint32 {
	if f.closed || max <= 0 {
		return nil
	}
	pos := f.buf.cur.Pos()
	if free := f.buf.cur.Free(); max > free {
		max = free
	}
	return f.buf.words[pos : pos+max : pos+max]
}

// Commit accepts n words written into the last Tail.
func (f *Frame) Commit(n int) error {
	if err := f.buf.innermost(f); err != nil {
		return err
	}
	return f.buf.cur.Advance(n)
}

// Append copies words into the frame.
func (f *Frame) Append(words ...uint32) error {
	if err := f.buf.innermost(f); err != nil {
		return err
	}
	pos := f.buf.cur.Pos()
	if err := f.buf.cur.Advance(len(words)); err != nil {
		return err
	}
	copy(f.buf.words[pos:], words)
	return nil
}

// Close writes the final length. The frame must be the innermost open one.
func (f *Frame) Close() error {
	if err := f.buf.innermost(f); err != nil {
		return err
	}
	f.buf.words[f.start] = uint32(f.Len() + 1)
	f.closed = true
	f.buf.open = f.buf.open[:len(f.buf.open)-1]
	return nil
}
