package moqt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/syncutil"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// Subscribe requests the track name under path from the peer. It returns
// once the peer accepts; a rejection is returned as a *SubscribeError. ctx
// bounds the request only. A nil cfg subscribes from group 0 with no upper
// bound.
func (s *Session) Subscribe(ctx context.Context, path, name string, cfg *SubscribeConfig) (*TrackReader, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	var c SubscribeConfig
	if cfg != nil {
		c = *cfg
	}
	if !c.valid() {
		return nil, &SubscribeError{Code: InvalidRangeErrorCode}
	}
	if s.ctx.Err() != nil {
		return nil, context.Cause(s.ctx)
	}

	s.mu.Lock()
	id := s.nextSubscribeID
	s.nextSubscribeID++
	tr := newTrackReader(s, id, path, name, c)
	s.subscriptions[id] = tr
	s.mu.Unlock()

	st, r, w, err := s.openBidi(ctx, subscribeStreamType)
	if err != nil {
		err = subscribeErrorFrom(err)
		tr.abort(err)
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { abortStream(st, quic.StreamErrorCode(SubscribeTimeoutErrorCode)) })
	msg := message.SubscribeMessage{
		SubscribeID:      id,
		BroadcastPath:    path,
		TrackName:        name,
		TrackPriority:    c.TrackPriority,
		MinGroupSequence: c.MinGroupSequence,
		MaxGroupSequence: c.MaxGroupSequence,
	}
	err = msg.Encode(w)
	if err == nil {
		var ok message.SubscribeOkMessage
		err = ok.Decode(r)
	}
	if !stop() {
		err = context.Cause(ctx)
	}
	if err != nil {
		r.Close()
		w.Cancel(quic.StreamErrorCode(InternalSubscribeErrorCode))
		st.CancelRead(quic.StreamErrorCode(InternalSubscribeErrorCode))
		if errors.Is(err, io.EOF) {
			err = &SubscribeError{Code: InternalSubscribeErrorCode, remote: true}
		}
		err = subscribeErrorFrom(err)
		tr.abort(err)
		tr.log.Debug("subscribe failed", "error", err)
		return nil, err
	}

	tr.start(st, r, w)
	tr.log.Debug("subscribed", "min_group", c.MinGroupSequence, "max_group", c.MaxGroupSequence)
	return tr, nil
}

// TrackReader receives the groups of one subscribed track.
//
// Groups are handed out in arrival order. A group whose sequence is below
// the playhead is abandoned with ExpiredGroupErrorCode instead of being
// delivered, and every delivered group moves the playhead to its sequence.
type TrackReader struct {
	session *Session
	id      uint64
	path    string
	name    string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	stream  quic.Stream
	w       *wire.Writer
	writeMu syncutil.Mutex

	mu       sync.Mutex
	config   SubscribeConfig
	playhead uint64
	queue    []*GroupReader
	ended    bool
	arrived  syncutil.Cond

	closeOnce sync.Once
	closeErr  error
}

func newTrackReader(s *Session, id uint64, path, name string, cfg SubscribeConfig) *TrackReader {
	ctx, cancel := context.WithCancelCause(s.ctx)
	return &TrackReader{
		session:  s,
		id:       id,
		path:     path,
		name:     name,
		log:      s.log.With("subscribe_id", id, "path", path, "track", name),
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		playhead: cfg.MinGroupSequence,
	}
}

func (t *TrackReader) start(st quic.Stream, r *wire.Reader, w *wire.Writer) {
	t.stream = st
	t.w = w
	context.AfterFunc(t.ctx, func() { t.closeOnce.Do(t.shutdown) })
	go t.watch(r)
}

// watch waits for the publisher to finish or abort the track. Nothing is
// expected on the stream after SUBSCRIBE_OK.
func (t *TrackReader) watch(r *wire.Reader) {
	defer r.Close()
	_, err := r.ReadByte()
	switch {
	case err == nil:
		t.log.Warn("unexpected data on subscribe stream")
		t.cancel(&SubscribeError{Code: InternalSubscribeErrorCode})
	case errors.Is(err, io.EOF):
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
		t.arrived.Broadcast()
	default:
		t.cancel(subscribeErrorFrom(err))
	}
}

// enqueue takes ownership of an incoming group.
func (t *TrackReader) enqueue(g *GroupReader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.ctx.Err() != nil:
		g.CancelRead(SubscribeCanceledErrorCode)
	case g.seq < t.playhead:
		t.drop(g, ExpiredGroupErrorCode, "expired")
	case !t.config.inRange(g.seq):
		t.drop(g, OutOfRangeErrorCode, "out_of_range")
	default:
		t.queue = append(t.queue, g)
		t.arrived.Broadcast()
	}
}

func (t *TrackReader) drop(g *GroupReader, code GroupErrorCode, reason string) {
	t.log.Debug("group dropped", "sequence", g.seq, "playhead", t.playhead, "reason", reason)
	t.session.metrics.GroupsDropped.WithLabelValues(reason).Inc()
	g.CancelRead(code)
}

// AcceptGroup returns the next group at or after the playhead. When the
// track ends it returns the cause of the track context.
func (t *TrackReader) AcceptGroup(ctx context.Context) (*GroupReader, error) {
	for {
		t.mu.Lock()
		for len(t.queue) > 0 {
			g := t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			if g.seq < t.playhead {
				t.drop(g, ExpiredGroupErrorCode, "expired")
				continue
			}
			t.playhead = g.seq
			t.mu.Unlock()
			t.session.metrics.GroupsDelivered.Inc()
			return g, nil
		}
		if t.ended {
			t.mu.Unlock()
			t.cancel(ErrClosedTrack)
			return nil, context.Cause(t.ctx)
		}
		if t.ctx.Err() != nil {
			t.mu.Unlock()
			return nil, context.Cause(t.ctx)
		}
		wait := t.arrived.Wait()
		t.mu.Unlock()

		select {
		case <-wait:
		case <-t.ctx.Done():
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

// Update changes the delivery range and priority of the subscription. A
// higher MinGroupSequence moves the playhead forward.
func (t *TrackReader) Update(cfg *SubscribeConfig) error {
	if cfg == nil || !cfg.valid() {
		return &SubscribeError{Code: InvalidRangeErrorCode}
	}
	unlock, err := t.writeMu.Lock(t.ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if t.ctx.Err() != nil {
		return context.Cause(t.ctx)
	}

	msg := message.SubscribeUpdateMessage{
		TrackPriority:    cfg.TrackPriority,
		MinGroupSequence: cfg.MinGroupSequence,
		MaxGroupSequence: cfg.MaxGroupSequence,
	}
	if err := msg.Encode(t.w); err != nil {
		return subscribeErrorFrom(err)
	}

	t.mu.Lock()
	t.config = *cfg
	if cfg.MinGroupSequence > t.playhead {
		t.playhead = cfg.MinGroupSequence
	}
	t.mu.Unlock()
	return nil
}

// Close ends the subscription. Groups not yet accepted are abandoned with
// SubscribeCanceledErrorCode.
func (t *TrackReader) Close() error {
	t.cancel(ErrClosedTrack)
	t.closeOnce.Do(t.shutdown)
	return t.closeErr
}

func (t *TrackReader) shutdown() {
	t.session.removeSubscription(t.id, t)
	t.drain()

	t.stream.CancelRead(quic.StreamErrorCode(InternalSubscribeErrorCode))
	unlock, _ := t.writeMu.Lock(context.Background())
	defer unlock()
	if err := t.w.Close(); err != nil && t.session.ctx.Err() == nil {
		t.closeErr = subscribeErrorFrom(err)
	}
	t.log.Debug("subscription closed", "cause", context.Cause(t.ctx))
}

// abort ends a subscription that failed before SUBSCRIBE_OK. Groups that
// arrived in the meantime are abandoned.
func (t *TrackReader) abort(err error) {
	t.session.removeSubscription(t.id, t)
	t.cancel(err)
	t.drain()
}

// drain abandons every queued group. The track context must be done so
// that enqueue stops adding to the queue.
func (t *TrackReader) drain() {
	t.mu.Lock()
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()
	t.arrived.Broadcast()
	for _, g := range queued {
		g.CancelRead(SubscribeCanceledErrorCode)
	}
}

// Context is done when the track ends.
func (t *TrackReader) Context() context.Context { return t.ctx }

func (t *TrackReader) SubscribeID() uint64   { return t.id }
func (t *TrackReader) BroadcastPath() string { return t.path }
func (t *TrackReader) TrackName() string     { return t.name }

// Config returns the current subscription range.
func (t *TrackReader) Config() SubscribeConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config
}

// Playhead returns the lowest group sequence that can still be delivered.
func (t *TrackReader) Playhead() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playhead
}
