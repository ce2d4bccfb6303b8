// internal/bank/parse.go
package bank

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for a bank whose length does not fit its container.
var ErrMalformed = errors.New("bank: malformed bank")

// Bank is a parsed bank.
type Bank struct {
	Header
	Data     []uint32 // payload for non-container types
	Children []Bank   // children for TypeBank
}

// Parse decodes consecutive banks filling words exactly.
func Parse(words []uint32) ([]Bank, error) {
	var out []Bank
	for off := 0; off < len(words); {
		if len(words)-off < HeaderWords {
			return nil, fmt.Errorf("%w: %d trailing words at offset %d", ErrMalformed, len(words)-off, off)
		}
		h := decodeHeader(words[off], words[off+1])
		if h.Length < 1 {
			return nil, fmt.Errorf("%w: zero length at offset %d", ErrMalformed, off)
		}
		end := off + 1 + int(h.Length)
		if end > len(words) {
			return nil, fmt.Errorf("%w: tag=%d length=%d exceeds container at offset %d", ErrMalformed, h.Tag, h.Length, off)
		}
		b := Bank{Header: h}
		payload := words[off+HeaderWords : end]
		if h.Type == TypeBank {
			kids, err := Parse(payload)
			if err != nil {
				return nil, err
			}
			b.Children = kids
		} else {
			b.Data = payload
		}
		out = append(out, b)
		off = end
	}
	return out, nil
}

// Find returns the first direct child with tag.
func (b Bank) Find(tag uint16) (Bank, bool) {
	for _, c := range b.Children {
		if c.Tag == tag {
			return c, true
		}
	}
	return Bank{}, false
}
