// Package quic defines the multiplexed-stream transport that moqt runs on.
//
// The interfaces mirror the subset of a QUIC connection that the protocol
// needs: opening and accepting bidirectional and unidirectional streams,
// and aborting either direction of a stream with an application error code.
// The quicgo subpackage adapts github.com/quic-go/quic-go to them.
package quic

import (
	"context"
	"fmt"
	"io"
)

// StreamErrorCode is an application error code carried by a stream reset
// or stop-sending signal.
type StreamErrorCode uint64

// ConnErrorCode is an application error code carried by a connection close.
type ConnErrorCode uint64

// SendStream is the sending half of a stream.
type SendStream interface {
	io.Writer
	// Close finishes the stream cleanly.
	Close() error
	// CancelWrite aborts sending with code.
	CancelWrite(StreamErrorCode)
	// Context is done once the send side is closed, cancelled or reset.
	Context() context.Context
}

// ReceiveStream is the receiving half of a stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead asks the peer to stop sending with code.
	CancelRead(StreamErrorCode)
}

// Stream is a bidirectional stream.
type Stream interface {
	SendStream
	ReceiveStream
}

// Connection is an established transport connection.
type Connection interface {
	OpenStream(ctx context.Context) (Stream, error)
	OpenUniStream(ctx context.Context) (SendStream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	CloseWithError(code ConnErrorCode, msg string) error
	// Context is done when the connection is closed.
	Context() context.Context
}

// StreamError is returned by stream reads and writes after the stream was
// aborted with an error code, either locally or by the peer.
type StreamError struct {
	Code   StreamErrorCode
	Remote bool
}

func (e *StreamError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}
	return fmt.Sprintf("stream aborted (%s): code %#x", side, uint64(e.Code))
}

// ConnError is returned by stream and connection operations after the
// connection was closed with an application error code.
type ConnError struct {
	Code    ConnErrorCode
	Message string
	Remote  bool
}

func (e *ConnError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}
	return fmt.Sprintf("connection closed (%s): code %#x: %s", side, uint64(e.Code), e.Message)
}
