package wire

import (
	"io"

	"go.uber.org/multierr"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/quic"
)

const defaultWriterSize = 1 << 10

type writeCanceler interface {
	CancelWrite(quic.StreamErrorCode)
}

// Writer accumulates encoded values and transmits them on Flush.
type Writer struct {
	w      io.Writer
	pool   *bufpool.Pool
	buf    []byte
	closed bool
}

// NewWriter returns a Writer on w. A nil pool selects bufpool.Default.
func NewWriter(w io.Writer, pool *bufpool.Pool) *Writer {
	pool = bufpool.Or(pool)
	return &Writer{
		w:    w,
		pool: pool,
		buf:  pool.Acquire(defaultWriterSize)[:0],
	}
}

// Buffered returns the number of bytes waiting for Flush.
func (w *Writer) Buffered() int { return len(w.buf) }

func (w *Writer) WriteUint8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteVarint appends v as a varint. It panics if v does not fit in 62 bits.
func (w *Writer) WriteVarint(v uint64) {
	w.buf = varint.Append(w.buf, v)
}

// WriteString appends a varint length followed by the UTF-8 bytes of s.
func (w *Writer) WriteString(s string) {
	w.buf = varint.Append(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes appends a varint length followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = varint.Append(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteStringArray appends a varint count followed by each string.
func (w *Writer) WriteStringArray(ss []string) {
	w.buf = varint.Append(w.buf, uint64(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

// Flush writes the buffered bytes to the sink. On failure the unwritten
// bytes stay buffered so the caller can retry or abandon the writer.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.w.Write(w.buf)
	if err != nil {
		if n > 0 {
			w.buf = w.buf[:copy(w.buf, w.buf[n:])]
		}
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes, returns the working buffer to the pool and closes the sink
// if it is an io.Closer. Later calls return nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Flush()
	w.release()
	if c, ok := w.w.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Cancel drops any buffered bytes, releases the working buffer and aborts
// the sink with code when it supports cancellation.
func (w *Writer) Cancel(code quic.StreamErrorCode) {
	if w.closed {
		return
	}
	w.release()
	if c, ok := w.w.(writeCanceler); ok {
		c.CancelWrite(code)
	}
}

func (w *Writer) release() {
	w.closed = true
	w.pool.Release(w.buf)
	w.buf = nil
}
