// Package quicgo adapts github.com/quic-go/quic-go to the quic interfaces.
package quicgo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	qgo "github.com/quic-go/quic-go"
	"github.com/zsiec/moqt/quic"
)

// DefaultConfig returns the QUIC settings used when none are supplied.
func DefaultConfig() *qgo.Config {
	return &qgo.Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		MaxIncomingStreams:    1 << 12,
		MaxIncomingUniStreams: 1 << 12,
	}
}

// Dial establishes a connection to addr.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, conf *qgo.Config) (quic.Connection, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	c, err := qgo.DialAddr(ctx, addr, tlsConf, conf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return Wrap(c), nil
}

// Listener accepts incoming connections.
type Listener struct {
	ln *qgo.Listener
}

// Listen starts accepting connections on addr.
func Listen(addr string, tlsConf *tls.Config, conf *qgo.Config) (*Listener, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	ln, err := qgo.ListenAddr(addr, tlsConf, conf)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept(ctx context.Context) (quic.Connection, error) {
	c, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return Wrap(c), nil
}

// Addr returns the local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops the listener. Established connections are unaffected.
func (l *Listener) Close() error { return l.ln.Close() }

// Wrap adapts an established quic-go connection. The returned connection's
// context carries the close reason as a *quic.ConnError cause.
func Wrap(c qgo.Connection) quic.Connection {
	ctx, cancel := context.WithCancelCause(context.Background())
	context.AfterFunc(c.Context(), func() {
		cancel(convertErr(context.Cause(c.Context())))
	})
	return &connection{c: c, ctx: ctx}
}

type connection struct {
	c   qgo.Connection
	ctx context.Context
}

func (c *connection) Context() context.Context { return c.ctx }

func (c *connection) OpenStream(ctx context.Context) (quic.Stream, error) {
	s, err := c.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, convertErr(err)
	}
	return &stream{sendStream: sendStream{s}, receiveStream: receiveStream{s}}, nil
}

func (c *connection) OpenUniStream(ctx context.Context) (quic.SendStream, error) {
	s, err := c.c.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, convertErr(err)
	}
	return sendStream{s}, nil
}

func (c *connection) AcceptStream(ctx context.Context) (quic.Stream, error) {
	s, err := c.c.AcceptStream(ctx)
	if err != nil {
		return nil, convertErr(err)
	}
	return &stream{sendStream: sendStream{s}, receiveStream: receiveStream{s}}, nil
}

func (c *connection) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	s, err := c.c.AcceptUniStream(ctx)
	if err != nil {
		return nil, convertErr(err)
	}
	return receiveStream{s}, nil
}

func (c *connection) CloseWithError(code quic.ConnErrorCode, msg string) error {
	return c.c.CloseWithError(qgo.ApplicationErrorCode(code), msg)
}

type sendStream struct {
	s qgo.SendStream
}

func (s sendStream) Write(p []byte) (int, error) {
	n, err := s.s.Write(p)
	return n, convertErr(err)
}

func (s sendStream) Close() error                          { return convertErr(s.s.Close()) }
func (s sendStream) CancelWrite(code quic.StreamErrorCode) { s.s.CancelWrite(qgo.StreamErrorCode(code)) }
func (s sendStream) Context() context.Context              { return s.s.Context() }

type receiveStream struct {
	s qgo.ReceiveStream
}

func (s receiveStream) Read(p []byte) (int, error) {
	n, err := s.s.Read(p)
	return n, convertErr(err)
}

func (s receiveStream) CancelRead(code quic.StreamErrorCode) { s.s.CancelRead(qgo.StreamErrorCode(code)) }

type stream struct {
	sendStream
	receiveStream
}

// convertErr maps quic-go application errors onto the transport-neutral
// error types. io.EOF and all other errors pass through unchanged.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	var streamErr *qgo.StreamError
	if errors.As(err, &streamErr) {
		return &quic.StreamError{Code: quic.StreamErrorCode(streamErr.ErrorCode), Remote: streamErr.Remote}
	}
	var appErr *qgo.ApplicationError
	if errors.As(err, &appErr) {
		return &quic.ConnError{Code: quic.ConnErrorCode(appErr.ErrorCode), Message: appErr.ErrorMessage, Remote: appErr.Remote}
	}
	return err
}
