// Package bank owns the per-trigger event buffer: a word region with a
// single monotonic write cursor, and the length-prefixed banks (frames)
// written into it.
//
// Bank layout, one bank:
//
//	word 0  length: number of words that follow word 0
//	word 1  tag<<16 | type<<8 | num
//	word 2+ data (type uint32) or child banks (type bank)
//
// An empty bank is two words with length 1.
package bank
