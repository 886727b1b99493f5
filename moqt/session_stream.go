package moqt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/metrics"
	"github.com/zsiec/moqt/internal/syncutil"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// Info is the control state one side of a session advertises.
type Info struct {
	Bitrate uint64
}

// sessionStream carries SESSION_UPDATE messages in both directions after
// setup.
type sessionStream struct {
	stream quic.Stream
	r      *wire.Reader
	w      *wire.Writer

	ctx    context.Context
	cancel context.CancelCauseFunc

	log     *slog.Logger
	metrics *metrics.Session

	writeMu syncutil.Mutex

	mu      sync.Mutex
	local   Info
	remote  Info
	updated syncutil.Cond
}

func newSessionStream(ctx context.Context, cancel context.CancelCauseFunc, stream quic.Stream, r *wire.Reader, w *wire.Writer, log *slog.Logger, m *metrics.Session) *sessionStream {
	return &sessionStream{
		stream:  stream,
		r:       r,
		w:       w,
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		metrics: m,
	}
}

// UpdateBitrate sends a SESSION_UPDATE and records it as the local info.
func (ss *sessionStream) UpdateBitrate(bitrate uint64) error {
	unlock, err := ss.writeMu.Lock(ss.ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if ss.ctx.Err() != nil {
		return context.Cause(ss.ctx)
	}

	msg := message.SessionUpdateMessage{Bitrate: bitrate}
	if err := msg.Encode(ss.w); err != nil {
		return sessionErrorFrom(err)
	}
	ss.metrics.BitrateUpdates.WithLabelValues("sent").Inc()

	ss.mu.Lock()
	ss.local = Info{Bitrate: bitrate}
	ss.mu.Unlock()
	return nil
}

func (ss *sessionStream) LocalInfo() Info {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.local
}

func (ss *sessionStream) RemoteInfo() Info {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.remote
}

// remoteUpdated returns a channel closed by the next SESSION_UPDATE from
// the peer.
func (ss *sessionStream) remoteUpdated() <-chan struct{} {
	return ss.updated.Wait()
}

// receive decodes SESSION_UPDATE messages until the stream ends. A clean
// end from the peer closes the session without error.
func (ss *sessionStream) receive(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		ss.stream.CancelRead(quic.StreamErrorCode(InternalSessionErrorCode))
	})
	defer stop()
	defer ss.r.Close()

	for {
		var msg message.SessionUpdateMessage
		if err := msg.Decode(ss.r); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if errors.Is(err, io.EOF) {
				return &SessionError{Code: NoError, remote: true}
			}
			return sessionStreamErrorFrom(err)
		}

		ss.log.Debug("session update received", "bitrate", msg.Bitrate)
		ss.metrics.BitrateUpdates.WithLabelValues("received").Inc()

		ss.mu.Lock()
		ss.remote = Info{Bitrate: msg.Bitrate}
		ss.mu.Unlock()
		ss.updated.Broadcast()
	}
}

// closeWithError cancels the session context with a *SessionError cause and
// aborts the stream in both directions. A NoError close finishes the send
// side cleanly instead.
func (ss *sessionStream) closeWithError(code SessionErrorCode, msg string) error {
	ss.cancel(&SessionError{Code: code, Message: msg})

	if code == NoError {
		ss.stream.CancelRead(quic.StreamErrorCode(code))
		unlock, err := ss.writeMu.Lock(context.Background())
		if err != nil {
			return err
		}
		defer unlock()
		return ss.w.Close()
	}

	ss.stream.CancelRead(quic.StreamErrorCode(code))
	ss.stream.CancelWrite(quic.StreamErrorCode(code))
	unlock, err := ss.writeMu.Lock(context.Background())
	if err != nil {
		return err
	}
	defer unlock()
	ss.w.Cancel(quic.StreamErrorCode(code))
	return nil
}
