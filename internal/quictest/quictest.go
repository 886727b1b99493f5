// Package quictest provides an in-memory quic.Connection pair for tests.
// Streams are buffered, support reset and stop-sending with error codes,
// and fail with a *quic.ConnError once either side closes the connection.
package quictest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/zsiec/moqt/internal/syncutil"
	"github.com/zsiec/moqt/quic"
)

const acceptBacklog = 64

var errWriteOnClosed = errors.New("quictest: write on closed stream")

// Pipe returns two connected connections.
func Pipe() (client, server quic.Connection) {
	a := newConn()
	b := newConn()
	a.peer, b.peer = b, a
	return a, b
}

type conn struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	peer   *conn

	bidi chan *stream
	uni  chan *pipe

	closeOnce sync.Once
}

func newConn() *conn {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &conn{
		ctx:    ctx,
		cancel: cancel,
		bidi:   make(chan *stream, acceptBacklog),
		uni:    make(chan *pipe, acceptBacklog),
	}
}

func (c *conn) Context() context.Context { return c.ctx }

func (c *conn) OpenStream(ctx context.Context) (quic.Stream, error) {
	if c.ctx.Err() != nil {
		return nil, context.Cause(c.ctx)
	}
	out := newPipe(c.ctx, c.peer.ctx)
	in := newPipe(c.peer.ctx, c.ctx)
	select {
	case c.peer.bidi <- &stream{pipe: in, recv: out}:
		return &stream{pipe: out, recv: in}, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *conn) OpenUniStream(ctx context.Context) (quic.SendStream, error) {
	if c.ctx.Err() != nil {
		return nil, context.Cause(c.ctx)
	}
	p := newPipe(c.ctx, c.peer.ctx)
	select {
	case c.peer.uni <- p:
		return p, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *conn) AcceptStream(ctx context.Context) (quic.Stream, error) {
	select {
	case s := <-c.bidi:
		return s, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *conn) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	select {
	case p := <-c.uni:
		return p, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *conn) CloseWithError(code quic.ConnErrorCode, msg string) error {
	c.closeOnce.Do(func() {
		c.cancel(&quic.ConnError{Code: code, Message: msg})
		c.peer.closeOnce.Do(func() {
			c.peer.cancel(&quic.ConnError{Code: code, Message: msg, Remote: true})
		})
	})
	return nil
}

// stream pairs the local send pipe with the pipe the peer writes into.
type stream struct {
	*pipe
	recv *pipe
}

func (s *stream) Read(p []byte) (int, error)           { return s.recv.Read(p) }
func (s *stream) CancelRead(code quic.StreamErrorCode) { s.recv.CancelRead(code) }

// pipe is one direction of a stream. The writer side and the reader side
// each observe their own connection context.
type pipe struct {
	writerConn context.Context
	readerConn context.Context

	sendCtx    context.Context
	sendCancel context.CancelFunc

	mu   sync.Mutex
	cond syncutil.Cond
	buf  bytes.Buffer

	fin       bool
	resetCode *quic.StreamErrorCode
	stopCode  *quic.StreamErrorCode
}

func newPipe(writerConn, readerConn context.Context) *pipe {
	ctx, cancel := context.WithCancel(writerConn)
	return &pipe{
		writerConn: writerConn,
		readerConn: readerConn,
		sendCtx:    ctx,
		sendCancel: cancel,
	}
}

func (p *pipe) Context() context.Context { return p.sendCtx }

func (p *pipe) Write(b []byte) (int, error) {
	if err := p.writerConn.Err(); err != nil {
		return 0, context.Cause(p.writerConn)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.stopCode != nil:
		return 0, &quic.StreamError{Code: *p.stopCode, Remote: true}
	case p.resetCode != nil:
		return 0, &quic.StreamError{Code: *p.resetCode}
	case p.fin:
		return 0, errWriteOnClosed
	}
	p.buf.Write(b)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetCode != nil {
		return &quic.StreamError{Code: *p.resetCode}
	}
	p.fin = true
	p.cond.Broadcast()
	p.sendCancel()
	return nil
}

func (p *pipe) CancelWrite(code quic.StreamErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fin || p.resetCode != nil {
		return
	}
	p.resetCode = &code
	p.buf.Reset()
	p.cond.Broadcast()
	p.sendCancel()
}

func (p *pipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		switch {
		case p.stopCode != nil:
			p.mu.Unlock()
			return 0, &quic.StreamError{Code: *p.stopCode}
		case p.buf.Len() > 0:
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		case p.resetCode != nil:
			p.mu.Unlock()
			return 0, &quic.StreamError{Code: *p.resetCode, Remote: true}
		case p.fin:
			p.mu.Unlock()
			return 0, io.EOF
		}
		wait := p.cond.Wait()
		p.mu.Unlock()

		select {
		case <-wait:
		case <-p.readerConn.Done():
			return 0, context.Cause(p.readerConn)
		}
	}
}

func (p *pipe) CancelRead(code quic.StreamErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCode != nil {
		return
	}
	p.stopCode = &code
	p.buf.Reset()
	p.cond.Broadcast()
	p.sendCancel()
}
