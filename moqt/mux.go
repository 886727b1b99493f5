package moqt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/syncutil"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// TrackHandler serves subscriptions to the tracks under one broadcast
// path. ServeTrack runs on its own goroutine per subscription; the
// subscription ends when it returns. Handlers usually publish until
// tw.Context() is done.
type TrackHandler interface {
	ServeTrack(tw *TrackWriter)
}

// TrackHandlerFunc adapts a function to TrackHandler.
type TrackHandlerFunc func(tw *TrackWriter)

func (f TrackHandlerFunc) ServeTrack(tw *TrackWriter) { f(tw) }

// TrackMux routes incoming subscriptions by exact broadcast path and
// answers announce requests with the registered paths.
type TrackMux struct {
	mu       sync.Mutex
	handlers map[string]*muxEntry
	watchers map[*announceWatcher]struct{}
}

type muxEntry struct {
	handler TrackHandler
}

// NewTrackMux returns an empty TrackMux.
func NewTrackMux() *TrackMux {
	return &TrackMux{
		handlers: make(map[string]*muxEntry),
		watchers: make(map[*announceWatcher]struct{}),
	}
}

// DefaultMux is used by sessions whose Config has no Mux.
var DefaultMux = NewTrackMux()

// Publish registers h on DefaultMux.
func Publish(ctx context.Context, path string, h TrackHandler) error {
	return DefaultMux.Publish(ctx, path, h)
}

// Publish registers h for path until ctx is done. Announce streams see the
// path become active now and end when ctx is done.
func (m *TrackMux) Publish(ctx context.Context, path string, h TrackHandler) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if h == nil {
		return errors.New("moqt: nil track handler")
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	m.mu.Lock()
	if _, ok := m.handlers[path]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatedPath, path)
	}
	e := &muxEntry{handler: h}
	m.handlers[path] = e
	m.notify(path, message.Active)
	m.mu.Unlock()

	context.AfterFunc(ctx, func() { m.remove(path, e) })
	return nil
}

// PublishFunc registers f for path until ctx is done.
func (m *TrackMux) PublishFunc(ctx context.Context, path string, f func(tw *TrackWriter)) error {
	return m.Publish(ctx, path, TrackHandlerFunc(f))
}

func (m *TrackMux) remove(path string, e *muxEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[path] != e {
		return
	}
	delete(m.handlers, path)
	m.notify(path, message.Ended)
}

// Handler returns the handler registered for path, or nil.
func (m *TrackMux) Handler(path string) TrackHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.handlers[path]; ok {
		return e.handler
	}
	return nil
}

// Paths returns the registered broadcast paths under prefix, sorted.
func (m *TrackMux) Paths(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pathsLocked(prefix)
}

func (m *TrackMux) pathsLocked(prefix string) []string {
	var paths []string
	for p := range m.handlers {
		if _, ok := hasPrefix(p, prefix); ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// watch registers a watcher for prefix and returns the suffixes active at
// the moment of registration.
func (m *TrackMux) watch(prefix string) (*announceWatcher, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	aw := &announceWatcher{prefix: prefix}
	m.watchers[aw] = struct{}{}
	paths := m.pathsLocked(prefix)
	suffixes := make([]string, len(paths))
	for i, p := range paths {
		suffixes[i] = p[len(prefix):]
	}
	return aw, suffixes
}

func (m *TrackMux) unwatch(aw *announceWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers, aw)
}

func (m *TrackMux) notify(path string, status message.AnnounceStatus) {
	for aw := range m.watchers {
		if suffix, ok := hasPrefix(path, aw.prefix); ok {
			aw.push(message.AnnounceMessage{Status: status, BroadcastPathSuffix: suffix})
		}
	}
}

// announceWatcher queues path changes for one announce stream.
type announceWatcher struct {
	prefix string

	mu      sync.Mutex
	pending []message.AnnounceMessage
	cond    syncutil.Cond
}

func (aw *announceWatcher) push(msg message.AnnounceMessage) {
	aw.mu.Lock()
	aw.pending = append(aw.pending, msg)
	aw.mu.Unlock()
	aw.cond.Broadcast()
}

// next waits for at least one queued change.
func (aw *announceWatcher) next(ctx context.Context) ([]message.AnnounceMessage, error) {
	for {
		aw.mu.Lock()
		if len(aw.pending) > 0 {
			batch := aw.pending
			aw.pending = nil
			aw.mu.Unlock()
			return batch, nil
		}
		wait := aw.cond.Wait()
		aw.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

// serveAnnouncements answers an ANNOUNCE_PLEASE with the paths under its
// prefix, then streams changes until either side ends the stream.
func (m *TrackMux) serveAnnouncements(s *Session, st quic.Stream, r *wire.Reader) {
	w := wire.NewWriter(st, s.pool)

	var req message.AnnouncePleaseMessage
	if err := req.Decode(r); err != nil {
		s.log.Debug("decode announce please", "error", err)
		r.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
		w.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
		return
	}
	log := s.log.With("prefix", req.TrackPrefix)
	if err := validatePath(req.TrackPrefix); err != nil {
		log.Warn("announce request rejected", "error", err)
		r.Cancel(quic.StreamErrorCode(InvalidPrefixErrorCode))
		w.Cancel(quic.StreamErrorCode(InvalidPrefixErrorCode))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stopSend := context.AfterFunc(st.Context(), cancel)
	defer stopSend()
	go func() {
		// The subscriber sends nothing more; any end of its side ends the
		// stream.
		defer r.Close()
		_, _ = r.ReadByte()
		cancel()
	}()

	aw, suffixes := m.watch(req.TrackPrefix)
	defer m.unwatch(aw)

	initMsg := message.AnnounceInitMessage{Suffixes: suffixes}
	if err := initMsg.Encode(w); err != nil {
		log.Debug("send announce init", "error", err)
		st.CancelRead(quic.StreamErrorCode(InternalAnnounceErrorCode))
		w.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
		return
	}
	log.Debug("serving announcements", "active", len(suffixes))

	for {
		batch, err := aw.next(ctx)
		if err != nil {
			break
		}
		for i := range batch {
			if err := batch[i].Encode(w); err != nil {
				log.Debug("send announce", "error", err)
				st.CancelRead(quic.StreamErrorCode(InternalAnnounceErrorCode))
				w.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
				return
			}
		}
	}

	st.CancelRead(quic.StreamErrorCode(InternalAnnounceErrorCode))
	if s.ctx.Err() != nil {
		w.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
		return
	}
	if err := w.Close(); err != nil {
		log.Debug("close announce stream", "error", err)
	}
}

// serveSubscribe answers a SUBSCRIBE with SUBSCRIBE_OK and runs the handler
// for its path, or rejects it by aborting the stream.
func (m *TrackMux) serveSubscribe(s *Session, st quic.Stream, r *wire.Reader) {
	w := wire.NewWriter(st, s.pool)

	var msg message.SubscribeMessage
	if err := msg.Decode(r); err != nil {
		s.log.Debug("decode subscribe", "error", err)
		s.metrics.SubscriptionsRejected.WithLabelValues("malformed").Inc()
		r.Cancel(quic.StreamErrorCode(InternalSubscribeErrorCode))
		w.Cancel(quic.StreamErrorCode(InternalSubscribeErrorCode))
		return
	}
	log := s.log.With("subscribe_id", msg.SubscribeID, "path", msg.BroadcastPath, "track", msg.TrackName)

	reject := func(code SubscribeErrorCode, reason string) {
		log.Warn("subscription rejected", "reason", code.String())
		s.metrics.SubscriptionsRejected.WithLabelValues(reason).Inc()
		r.Cancel(quic.StreamErrorCode(code))
		w.Cancel(quic.StreamErrorCode(code))
	}

	if err := validatePath(msg.BroadcastPath); err != nil {
		reject(TrackNotFoundErrorCode, "invalid_path")
		return
	}
	h := m.Handler(msg.BroadcastPath)
	if h == nil {
		reject(TrackNotFoundErrorCode, "not_found")
		return
	}
	tw := newTrackWriter(s, st, w, &msg)
	if !tw.config.valid() {
		tw.cancel(&SubscribeError{Code: InvalidRangeErrorCode})
		reject(InvalidRangeErrorCode, "invalid_range")
		return
	}
	if !s.addPublication(tw) {
		tw.cancel(&SubscribeError{Code: DuplicateSubscribeIDErrorCode})
		reject(DuplicateSubscribeIDErrorCode, "duplicate_id")
		return
	}

	var ok message.SubscribeOkMessage
	if err := ok.Encode(w); err != nil {
		log.Debug("send subscribe ok", "error", err)
		r.Close()
		tw.CloseWithError(InternalSubscribeErrorCode)
		return
	}
	s.metrics.SubscriptionsServed.Inc()
	log.Info("serving track")

	go tw.receiveUpdates(r)
	h.ServeTrack(tw)
	if err := tw.Close(); err != nil {
		log.Debug("close track", "error", err)
	}
}
