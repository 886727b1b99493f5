package varint

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		v     uint64
		width int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1<<30 - 1, 4},
		{1 << 30, 8},
		{Max, 8},
	}
	for _, tt := range tests {
		b := Append(nil, tt.v)
		if len(b) != tt.width || Len(tt.v) != tt.width {
			t.Fatalf("width(%d) = %d (Len %d), want %d", tt.v, len(b), Len(tt.v), tt.width)
		}
		if got := int(1 << (b[0] >> 6)); got != tt.width {
			t.Fatalf("tag width(%d) = %d, want %d", tt.v, got, tt.width)
		}
		got, err := Read(bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.v {
			t.Fatalf("Read = %d, want %d", got, tt.v)
		}
		parsed, n, err := Parse(b)
		if err != nil {
			t.Fatal(err)
		}
		if parsed != tt.v || n != tt.width {
			t.Fatalf("Parse = (%d, %d), want (%d, %d)", parsed, n, tt.v, tt.width)
		}
	}
}

func TestKnownEncoding(t *testing.T) {
	t.Parallel()
	// 15293 is the two-byte example from RFC 9000 Appendix A.
	got := Append(nil, 15293)
	want := []byte{0x7b, 0xbd}
	if !bytes.Equal(got, want) {
		t.Fatalf("Append(15293) = %x, want %x", got, want)
	}
}

func expectRangePanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if _, ok := r.(*RangeError); !ok {
			t.Fatalf("panic value = %T, want *RangeError", r)
		}
	}()
	fn()
}

func TestLenOutOfRange(t *testing.T) {
	t.Parallel()
	expectRangePanic(t, func() { Len(1 << 62) })
	expectRangePanic(t, func() { LenInt(-1) })
	expectRangePanic(t, func() { Append(nil, 1<<62) })
}

func TestReadTruncated(t *testing.T) {
	t.Parallel()
	if _, err := Read(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("empty: err = %v, want io.EOF", err)
	}
	b := Append(nil, 1<<30)
	if _, err := Read(bytes.NewReader(b[:5])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated: err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestStringAndBytesLen(t *testing.T) {
	t.Parallel()
	if got := StringLen(""); got != 1 {
		t.Fatalf("StringLen(\"\") = %d, want 1", got)
	}
	if got := StringLen("/a"); got != 3 {
		t.Fatalf("StringLen(/a) = %d, want 3", got)
	}
	if got := BytesLen(make([]byte, 64)); got != 66 {
		t.Fatalf("BytesLen(64 bytes) = %d, want 66", got)
	}
}
