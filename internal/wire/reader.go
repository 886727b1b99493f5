package wire

import (
	"errors"
	"io"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/quic"
)

const defaultReaderSize = 1 << 10

type readCanceler interface {
	CancelRead(quic.StreamErrorCode)
}

// Reader pulls bytes from a source on demand and decodes typed values.
// Ordinary stream endings are returned as errors: io.EOF when no bytes of
// the next value were available, io.ErrUnexpectedEOF when a value was cut
// short.
type Reader struct {
	r    io.Reader
	pool *bufpool.Pool

	// buffered bytes are buf[start:end]
	buf        []byte
	start, end int

	consumed int64
	err      error
	closed   bool
}

// NewReader returns a Reader on r. A nil pool selects bufpool.Default.
func NewReader(r io.Reader, pool *bufpool.Pool) *Reader {
	pool = bufpool.Or(pool)
	return &Reader{
		r:    r,
		pool: pool,
		buf:  pool.Acquire(defaultReaderSize),
	}
}

// Consumed returns the number of bytes decoded so far.
func (r *Reader) Consumed() int64 { return r.consumed }

// Buffered returns the number of bytes read from the source but not yet
// decoded.
func (r *Reader) Buffered() int { return r.end - r.start }

// fill reads from the source until at least n bytes are buffered.
func (r *Reader) fill(n int) error {
	if r.closed {
		return ErrClosed
	}
	if r.end-r.start >= n {
		return nil
	}
	if r.err != nil {
		return r.shortErr()
	}

	if cap(r.buf)-r.start < n {
		if cap(r.buf) >= n {
			r.end = copy(r.buf[:cap(r.buf)], r.buf[r.start:r.end])
			r.start = 0
		} else {
			grown := r.pool.Acquire(max(n, 2*cap(r.buf)))
			r.end = copy(grown, r.buf[r.start:r.end])
			r.start = 0
			r.pool.Release(r.buf)
			r.buf = grown
		}
	}
	r.buf = r.buf[:cap(r.buf)]

	for r.end-r.start < n {
		m, err := r.r.Read(r.buf[r.end:])
		r.end += m
		if err != nil {
			r.err = err
			if r.end-r.start >= n {
				return nil
			}
			return r.shortErr()
		}
	}
	return nil
}

// shortErr maps the sticky source error for a read that could not be
// satisfied.
func (r *Reader) shortErr() error {
	if r.err == io.EOF && r.end > r.start {
		return io.ErrUnexpectedEOF
	}
	return r.err
}

// copy fills dst, draining buffered bytes before reading the source
// directly.
func (r *Reader) copy(dst []byte) error {
	if r.closed {
		return ErrClosed
	}
	k := copy(dst, r.buf[r.start:r.end])
	r.start += k
	r.consumed += int64(k)
	if k == len(dst) {
		return nil
	}
	if r.err != nil {
		return unexpected(r.err)
	}
	m, err := io.ReadFull(r.r, dst[k:])
	r.consumed += int64(m)
	if err != nil {
		r.err = err
		return unexpected(err)
	}
	return nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.fill(1); err != nil {
		return 0, err
	}
	b := r.buf[r.start]
	r.start++
	r.consumed++
	return b, nil
}

func (r *Reader) ReadUint8() (byte, error) {
	return r.ReadByte()
}

// ReadBool reads one byte that must be 0 or 1.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, ErrInvalidBool
}

func (r *Reader) ReadVarint() (uint64, error) {
	return varint.Read(r)
}

// ReadBytes reads a varint length and that many bytes. Lengths above
// MaxBytesLen fail with ErrTooLarge before anything is allocated.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if n > MaxBytesLen {
		return nil, ErrTooLarge
	}
	b := make([]byte, n)
	if err := r.copy(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadStringArray reads a varint count followed by that many strings.
func (r *Reader) ReadStringArray() ([]string, error) {
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if n > MaxArrayLen {
		return nil, ErrTooLarge
	}
	ss := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return nil, unexpected(err)
		}
		ss = append(ss, s)
	}
	return ss, nil
}

// Cancel aborts the source with code, when it supports that, and releases
// the working buffer.
func (r *Reader) Cancel(code quic.StreamErrorCode) {
	if c, ok := r.r.(readCanceler); ok {
		c.CancelRead(code)
	}
	r.Close()
}

// Close releases the working buffer. It does not touch the source.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.pool.Release(r.buf)
	r.buf = nil
	r.start, r.end = 0, 0
}
