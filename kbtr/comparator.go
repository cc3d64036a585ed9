package kbtr

import (
	"bytes"
	"encoding/binary"
)

// Comparator orders the byte-string portion of a key. KBTR always breaks
// ties on epoch (descending) after the comparator agrees the key bytes are
// equal; Comparator itself never sees the epoch.
type Comparator interface {
	Compare(a, b []byte) int
}

// Opaque compares raw bytes lexicographically, used for key classes with
// no numeric structure.
type Opaque struct{}

func (Opaque) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// U64Lex compares fixed-width big-endian uint64 keys lexicographically
// (which, for big-endian encoding, coincides with numeric order — the
// class exists because callers may mix variable-width lexical keys with
// it and need the encoding, not just the order, to be well defined).
type U64Lex struct{}

func (U64Lex) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// NumericU64 decodes both sides as big-endian uint64 and compares
// numerically. Keys shorter than 8 bytes are treated as zero-padded on the
// left.
type NumericU64 struct{}

func (NumericU64) Compare(a, b []byte) int {
	av, bv := decodeU64(a), decodeU64(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func decodeU64(b []byte) uint64 {
	var buf [8]byte
	if len(b) >= 8 {
		copy(buf[:], b[len(b)-8:])
	} else {
		copy(buf[8-len(b):], b)
	}
	return binary.BigEndian.Uint64(buf[:])
}
