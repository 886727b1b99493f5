// Package varint implements the variable-length integer encoding used on
// every moqt stream: 1, 2, 4 or 8 bytes, big-endian, with log2(width) in the
// top two bits of the first byte.
//
// Byte-level encoding is delegated to quic-go's quicvarint, which uses the
// same format. This package adds the range contract and the length helpers
// used by message length computations.
package varint

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Max is the largest encodable value, 2^62-1.
const Max = quicvarint.Max

// RangeError is the panic value for values outside [0, Max].
type RangeError struct {
	Value int64
	Big   uint64
}

func (e *RangeError) Error() string {
	if e.Value < 0 {
		return fmt.Sprintf("varint: value %d out of range", e.Value)
	}
	return fmt.Sprintf("varint: value %d out of range", e.Big)
}

// Len returns the encoded width of v. It panics with *RangeError when v
// does not fit in 62 bits.
func Len(v uint64) int {
	if v > Max {
		panic(&RangeError{Big: v})
	}
	return quicvarint.Len(v)
}

// LenInt is Len for signed inputs. Negative values panic.
func LenInt(v int64) int {
	if v < 0 {
		panic(&RangeError{Value: v})
	}
	return Len(uint64(v))
}

// StringLen is the encoded size of a length-prefixed string.
func StringLen(s string) int {
	return Len(uint64(len(s))) + len(s)
}

// BytesLen is the encoded size of a length-prefixed byte slice.
func BytesLen(b []byte) int {
	return Len(uint64(len(b))) + len(b)
}

// Append appends the minimal encoding of v to b.
func Append(b []byte, v uint64) []byte {
	if v > Max {
		panic(&RangeError{Big: v})
	}
	return quicvarint.Append(b, v)
}

// Parse decodes a varint from the front of b, returning the value and the
// number of bytes consumed.
func Parse(b []byte) (uint64, int, error) {
	return quicvarint.Parse(b)
}

// Read decodes one varint from r. An empty source yields io.EOF; a source
// that ends inside the varint yields io.ErrUnexpectedEOF.
func Read(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	width := 1 << (first >> 6)
	v := uint64(first & 0x3f)
	for i := 1; i < width; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}
