package moqt

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/metrics"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// GroupReader reads the frames of one group. ReadFrame is not safe for
// concurrent use; CancelRead may be called at any time.
type GroupReader struct {
	seq    uint64
	stream quic.ReceiveStream

	mu    sync.Mutex
	r     *wire.Reader
	frame message.FrameMessage
	err   error
}

func newGroupReader(seq uint64, st quic.ReceiveStream, r *wire.Reader) *GroupReader {
	return &GroupReader{seq: seq, stream: st, r: r}
}

// GroupSequence returns the sequence number of the group.
func (g *GroupReader) GroupSequence() uint64 { return g.seq }

// ReadFrame returns the next frame. It returns io.EOF after the last
// frame and a *GroupError if the publisher aborted the group.
func (g *GroupReader) ReadFrame() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if err := g.frame.Decode(g.r); err != nil {
		g.r.Close()
		if errors.Is(err, io.EOF) {
			g.err = io.EOF
		} else {
			g.err = groupErrorFrom(err)
		}
		return nil, g.err
	}
	return g.frame.Data, nil
}

// CancelRead abandons the group and tells the publisher to stop sending it.
// Later calls to ReadFrame return a *GroupError with code.
func (g *GroupReader) CancelRead(code GroupErrorCode) {
	// Unblocks a ReadFrame holding the lock.
	g.stream.CancelRead(quic.StreamErrorCode(code))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.r.Cancel(quic.StreamErrorCode(code))
	g.err = &GroupError{Code: code}
}

// GroupWriter writes the frames of one group.
type GroupWriter struct {
	seq     uint64
	stream  quic.SendStream
	w       *wire.Writer
	metrics *metrics.Session
	stop    func() bool

	mu     sync.Mutex
	closed atomic.Bool
}

// GroupSequence returns the sequence number of the group.
func (g *GroupWriter) GroupSequence() uint64 { return g.seq }

// WriteFrame sends one frame. It fails with a *GroupError once the
// subscriber abandons the group.
func (g *GroupWriter) WriteFrame(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return wire.ErrClosed
	}
	msg := message.FrameMessage{Data: data}
	if err := msg.Encode(g.w); err != nil {
		return groupErrorFrom(err)
	}
	g.metrics.FramesWritten.Inc()
	return nil
}

// Close finishes the group.
func (g *GroupWriter) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.stop()
	return groupErrorFrom(g.w.Close())
}

// CancelWrite aborts the group with code.
func (g *GroupWriter) CancelWrite(code GroupErrorCode) {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.stop()
	// Unblocks a WriteFrame holding the lock.
	g.stream.CancelWrite(quic.StreamErrorCode(code))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.w.Cancel(quic.StreamErrorCode(code))
}

// Context is done once the group is finished, aborted or abandoned by the
// subscriber.
func (g *GroupWriter) Context() context.Context { return g.stream.Context() }
