package moqt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// TrackWriter publishes groups to one subscriber of a track. It is handed
// to a TrackHandler and stays valid until the handler returns or its
// context is done.
type TrackWriter struct {
	session *Session
	id      uint64
	path    string
	name    string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	stream quic.Stream
	w      *wire.Writer

	mu     sync.Mutex
	config SubscribeConfig

	closeOnce sync.Once
	closeErr  error
}

func newTrackWriter(s *Session, st quic.Stream, w *wire.Writer, msg *message.SubscribeMessage) *TrackWriter {
	ctx, cancel := context.WithCancelCause(s.ctx)
	return &TrackWriter{
		session: s,
		id:      msg.SubscribeID,
		path:    msg.BroadcastPath,
		name:    msg.TrackName,
		log:     s.log.With("subscribe_id", msg.SubscribeID, "path", msg.BroadcastPath, "track", msg.TrackName),
		ctx:     ctx,
		cancel:  cancel,
		stream:  st,
		w:       w,
		config: SubscribeConfig{
			TrackPriority:    msg.TrackPriority,
			MinGroupSequence: msg.MinGroupSequence,
			MaxGroupSequence: msg.MaxGroupSequence,
		},
	}
}

// receiveUpdates applies SUBSCRIBE_UPDATE messages until the subscriber
// closes the stream, which ends the track.
func (t *TrackWriter) receiveUpdates(r *wire.Reader) {
	defer r.Close()
	for {
		var msg message.SubscribeUpdateMessage
		if err := msg.Decode(r); err != nil {
			if errors.Is(err, io.EOF) {
				t.cancel(ErrClosedTrack)
			} else {
				t.cancel(subscribeErrorFrom(err))
			}
			return
		}
		cfg := SubscribeConfig{
			TrackPriority:    msg.TrackPriority,
			MinGroupSequence: msg.MinGroupSequence,
			MaxGroupSequence: msg.MaxGroupSequence,
		}
		if !cfg.valid() {
			t.CloseWithError(InvalidRangeErrorCode)
			return
		}
		t.mu.Lock()
		t.config = cfg
		t.mu.Unlock()
		t.log.Debug("subscription updated", "min_group", cfg.MinGroupSequence, "max_group", cfg.MaxGroupSequence)
	}
}

// OpenGroup opens the unidirectional stream for group seq. The group is
// aborted with SubscribeCanceledErrorCode if the track ends first.
func (t *TrackWriter) OpenGroup(seq uint64) (*GroupWriter, error) {
	if t.ctx.Err() != nil {
		return nil, context.Cause(t.ctx)
	}
	st, err := t.session.conn.OpenUniStream(t.ctx)
	if err != nil {
		if t.ctx.Err() != nil {
			return nil, context.Cause(t.ctx)
		}
		return nil, sessionErrorFrom(err)
	}

	w := wire.NewWriter(st, t.session.pool)
	w.WriteUint8(byte(groupStreamType))
	msg := message.GroupMessage{SubscribeID: t.id, Sequence: seq}
	if err := msg.Encode(w); err != nil {
		w.Cancel(quic.StreamErrorCode(InternalGroupErrorCode))
		return nil, groupErrorFrom(err)
	}

	g := &GroupWriter{
		seq:     seq,
		stream:  st,
		w:       w,
		metrics: t.session.metrics,
	}
	g.stop = context.AfterFunc(t.ctx, func() { g.CancelWrite(SubscribeCanceledErrorCode) })
	return g, nil
}

// Context is done when the subscriber goes away, the session ends or the
// writer is closed.
func (t *TrackWriter) Context() context.Context { return t.ctx }

func (t *TrackWriter) SubscribeID() uint64   { return t.id }
func (t *TrackWriter) BroadcastPath() string { return t.path }
func (t *TrackWriter) TrackName() string     { return t.name }

// Config returns the range most recently requested by the subscriber.
func (t *TrackWriter) Config() SubscribeConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// Close ends the track cleanly. Open groups are aborted.
func (t *TrackWriter) Close() error {
	t.cancel(ErrClosedTrack)
	t.closeOnce.Do(func() {
		t.stream.CancelRead(quic.StreamErrorCode(InternalSubscribeErrorCode))
		if err := t.w.Close(); err != nil && t.session.ctx.Err() == nil {
			t.closeErr = subscribeErrorFrom(err)
		}
		t.session.removePublication(t)
	})
	return t.closeErr
}

// CloseWithError aborts the track with code.
func (t *TrackWriter) CloseWithError(code SubscribeErrorCode) {
	t.cancel(&SubscribeError{Code: code})
	t.closeOnce.Do(func() {
		t.stream.CancelRead(quic.StreamErrorCode(code))
		t.w.Cancel(quic.StreamErrorCode(code))
		t.session.removePublication(t)
	})
}
