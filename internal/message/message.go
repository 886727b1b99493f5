package message

import (
	"io"
	"maps"
	"slices"

	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// MaxExtensions bounds the number of extension entries accepted on decode.
const MaxExtensions = 1 << 10

// Message is implemented by every wire message.
type Message interface {
	// Len is the encoded payload size, excluding the length prefix.
	Len() int
	// Encode writes the length prefix and fields, then flushes.
	Encode(w *wire.Writer) error
	// Decode reads one message written by Encode.
	Decode(r *wire.Reader) error
}

// header is the length prefix of a message being decoded.
type header struct {
	name   string
	length uint64
	start  int64
}

func readHeader(r *wire.Reader, name string) (header, error) {
	n, err := r.ReadVarint()
	if err != nil {
		if err == io.EOF {
			return header{}, err
		}
		return header{}, &ParseError{Message: name, Field: "length", Err: err}
	}
	return header{name: name, length: n, start: r.Consumed()}, nil
}

func (h header) fail(field string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &ParseError{Message: h.name, Field: field, Err: err}
}

// done verifies that the fields consumed exactly the declared length.
func (h header) done(r *wire.Reader) error {
	if uint64(r.Consumed()-h.start) != h.length {
		return &ParseError{Message: h.name, Field: "length", Err: ErrLengthMismatch}
	}
	return nil
}

// Extensions are opaque key/value parameters keyed by a varint id.
type Extensions map[uint64][]byte

// Len is the encoded size of the extension block.
func (e Extensions) Len() int {
	n := varint.Len(uint64(len(e)))
	for id, v := range e {
		n += varint.Len(id) + varint.BytesLen(v)
	}
	return n
}

func (e Extensions) encode(w *wire.Writer) {
	w.WriteVarint(uint64(len(e)))
	for _, id := range slices.Sorted(maps.Keys(e)) {
		w.WriteVarint(id)
		w.WriteBytes(e[id])
	}
}

func decodeExtensions(r *wire.Reader) (Extensions, error) {
	count, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if count > MaxExtensions {
		return nil, ErrTooManyEntries
	}
	if count == 0 {
		return nil, nil
	}
	ext := make(Extensions, count)
	for i := uint64(0); i < count; i++ {
		id, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		ext[id] = v
	}
	return ext, nil
}

func stringArrayLen(ss []string) int {
	n := varint.Len(uint64(len(ss)))
	for _, s := range ss {
		n += varint.StringLen(s)
	}
	return n
}
