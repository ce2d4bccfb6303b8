// internal/bank/header.go
package bank

// Content types.
const (
	TypeUint32 uint8 = 0x01
	TypeBank   uint8 = 0x0e
)

// HeaderWords is the size of a bank header.
const HeaderWords = 2

// Header is a decoded bank header.
type Header struct {
	Length uint32 // words after the length word
	Tag    uint16
	Type   uint8
	Num    uint8
}

// DataWords is the payload size described by the header.
func (h Header) DataWords() int {
	if h.Length == 0 {
		return 0
	}
	return int(h.Length) - 1
}

func encodeIdent(tag uint16, typ, num uint8) uint32 {
	return uint32(tag)<<16 | uint32(typ)<<8 | uint32(num)
}

func decodeHeader(w0, w1 uint32) Header {
	return Header{
		Length: w0,
		Tag:    uint16(w1 >> 16),
		Type:   uint8(w1 >> 8),
		Num:    uint8(w1),
	}
}
