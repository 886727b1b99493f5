package moqt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/metrics"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

// Session is an established protocol session on one connection. It serves
// the peer's announce and subscribe requests from its TrackMux and routes
// incoming groups to the local TrackReaders.
type Session struct {
	id               string
	conn             quic.Connection
	version          Version
	remoteExtensions Extensions

	mux     *TrackMux
	pool    *bufpool.Pool
	log     *slog.Logger
	metrics *metrics.Session

	ctx    context.Context
	cancel context.CancelCauseFunc
	stream *sessionStream

	mu              sync.Mutex
	nextSubscribeID uint64
	subscriptions   map[uint64]*TrackReader
	publications    map[uint64]*TrackWriter

	terminateOnce sync.Once
	closeErr      error
	done          chan struct{}
}

// NewClient opens the session stream on conn and negotiates a version with
// the server. ctx bounds the setup exchange only.
func NewClient(ctx context.Context, conn quic.Connection, cfg *Config) (*Session, error) {
	ctx, cancel := setupContext(ctx, cfg)
	defer cancel()

	st, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session stream: %w", sessionErrorFrom(err))
	}
	stop := context.AfterFunc(ctx, func() { abortStream(st, quic.StreamErrorCode(SetupFailedErrorCode)) })
	defer stop()

	pool := cfg.pool()
	w := wire.NewWriter(st, pool)
	r := wire.NewReader(st, pool)

	versions := cfg.versions()
	w.WriteUint8(byte(sessionStreamType))
	cm := message.SessionClientMessage{
		SupportedVersions: versionsToWire(versions),
		Extensions:        message.Extensions(cfg.extensions()),
	}
	if err := cm.Encode(w); err != nil {
		return nil, failSetup(ctx, conn, r, w, "send SESSION_CLIENT", err)
	}

	var sm message.SessionServerMessage
	if err := sm.Decode(r); err != nil {
		return nil, failSetup(ctx, conn, r, w, "read SESSION_SERVER", err)
	}
	v := Version(sm.SelectedVersion)
	if !slices.Contains(versions, v) {
		serr := &SessionError{Code: UnsupportedVersionErrorCode, Message: fmt.Sprintf("server selected %#x", uint64(v))}
		r.Close()
		w.Cancel(quic.StreamErrorCode(serr.Code))
		_ = conn.CloseWithError(quic.ConnErrorCode(serr.Code), serr.Message)
		return nil, serr
	}

	return newSession(conn, st, r, w, v, Extensions(sm.Extensions), cfg), nil
}

// Accept waits for the peer's session stream on conn and selects the first
// offered version that cfg supports.
func Accept(ctx context.Context, conn quic.Connection, cfg *Config) (*Session, error) {
	ctx, cancel := setupContext(ctx, cfg)
	defer cancel()

	st, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept session stream: %w", sessionErrorFrom(err))
	}
	stop := context.AfterFunc(ctx, func() { abortStream(st, quic.StreamErrorCode(SetupFailedErrorCode)) })
	defer stop()

	pool := cfg.pool()
	w := wire.NewWriter(st, pool)
	r := wire.NewReader(st, pool)

	typ, err := r.ReadUint8()
	if err != nil {
		return nil, failSetup(ctx, conn, r, w, "read stream type", err)
	}
	if streamType(typ) != sessionStreamType {
		return nil, failSetup(ctx, conn, r, w, "read stream type",
			fmt.Errorf("%w: %s", ErrInvalidStream, streamType(typ).bidiString()))
	}

	var cm message.SessionClientMessage
	if err := cm.Decode(r); err != nil {
		return nil, failSetup(ctx, conn, r, w, "read SESSION_CLIENT", err)
	}

	var (
		selected Version
		found    bool
	)
	for _, v := range cm.SupportedVersions {
		if cfg.supports(Version(v)) {
			selected, found = Version(v), true
			break
		}
	}
	if !found {
		serr := &SessionError{Code: UnsupportedVersionErrorCode, Message: "no common version"}
		r.Close()
		w.Cancel(quic.StreamErrorCode(serr.Code))
		_ = conn.CloseWithError(quic.ConnErrorCode(serr.Code), serr.Message)
		return nil, serr
	}

	sm := message.SessionServerMessage{
		SelectedVersion: uint64(selected),
		Extensions:      message.Extensions(cfg.extensions()),
	}
	if err := sm.Encode(w); err != nil {
		return nil, failSetup(ctx, conn, r, w, "send SESSION_SERVER", err)
	}

	return newSession(conn, st, r, w, selected, Extensions(cm.Extensions), cfg), nil
}

func setupContext(ctx context.Context, cfg *Config) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.setupTimeout())
}

// failSetup releases the setup stream and closes the connection. Decode
// failures are reported to the peer as protocol violations.
func failSetup(ctx context.Context, conn quic.Connection, r *wire.Reader, w *wire.Writer, op string, err error) error {
	r.Close()
	w.Cancel(quic.StreamErrorCode(SetupFailedErrorCode))
	if ctx.Err() != nil {
		err = context.Cause(ctx)
	}

	err = sessionStreamErrorFrom(err)
	var serr *SessionError
	if errors.As(err, &serr) {
		if !serr.remote {
			_ = conn.CloseWithError(quic.ConnErrorCode(serr.Code), op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	code := SetupFailedErrorCode
	var pe *message.ParseError
	if errors.As(err, &pe) || errors.Is(err, ErrInvalidStream) {
		code = ProtocolViolationErrorCode
	}
	_ = conn.CloseWithError(quic.ConnErrorCode(code), op)
	return fmt.Errorf("%s: %w", op, err)
}

func abortStream(st quic.Stream, code quic.StreamErrorCode) {
	st.CancelRead(code)
	st.CancelWrite(code)
}

func versionsToWire(vs []Version) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func newSession(conn quic.Connection, st quic.Stream, r *wire.Reader, w *wire.Writer, v Version, ext Extensions, cfg *Config) *Session {
	ctx, cancel := context.WithCancelCause(context.Background())
	id := uuid.NewString()
	s := &Session{
		id:               id,
		conn:             conn,
		version:          v,
		remoteExtensions: ext,
		mux:              cfg.mux(),
		pool:             cfg.pool(),
		log:              cfg.logger().With("session", id),
		metrics:          cfg.metrics(),
		ctx:              ctx,
		cancel:           cancel,
		subscriptions:    make(map[uint64]*TrackReader),
		publications:     make(map[uint64]*TrackWriter),
		done:             make(chan struct{}),
	}
	s.stream = newSessionStream(ctx, cancel, st, r, w, s.log, s.metrics)

	connCtx := conn.Context()
	context.AfterFunc(connCtx, func() { s.terminate(context.Cause(connCtx)) })

	s.metrics.Active.Inc()
	s.log.Info("session established", "version", fmt.Sprintf("%#x", uint64(v)))
	go s.run()
	return s
}

func (s *Session) run() {
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.stream.receive(ctx) })
	g.Go(func() error { return s.acceptBidi(ctx) })
	g.Go(func() error { return s.acceptUni(ctx) })
	err := g.Wait()
	s.terminate(err)
	close(s.done)
}

// terminate ends the session once. The first error becomes the cause of
// the session context and is reported to the peer.
func (s *Session) terminate(err error) {
	s.terminateOnce.Do(func() {
		err = sessionErrorFrom(err)
		var serr *SessionError
		if !errors.As(err, &serr) {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			serr = &SessionError{Code: InternalSessionErrorCode, Message: msg}
		}
		s.cancel(serr)

		streamErr := s.stream.closeWithError(serr.Code, serr.Message)
		connErr := s.conn.CloseWithError(quic.ConnErrorCode(serr.Code), serr.Message)
		if !serr.remote {
			s.closeErr = multierr.Combine(streamErr, connErr)
		}

		s.metrics.Active.Dec()
		if serr.Code == NoError {
			s.log.Info("session closed", "remote", serr.remote)
		} else {
			s.log.Warn("session terminated", "error", serr, "remote", serr.remote)
		}
	})
}

func (s *Session) acceptBidi(ctx context.Context) error {
	for {
		st, err := s.conn.AcceptStream(ctx)
		if err != nil {
			return sessionErrorFrom(err)
		}
		go s.handleBidi(st)
	}
}

func (s *Session) acceptUni(ctx context.Context) error {
	for {
		st, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			return sessionErrorFrom(err)
		}
		go s.handleGroup(st)
	}
}

func (s *Session) handleBidi(st quic.Stream) {
	r := wire.NewReader(st, s.pool)
	typ, err := r.ReadUint8()
	if err != nil {
		s.log.Debug("read stream type", "error", err)
		r.Close()
		abortStream(st, quic.StreamErrorCode(ProtocolViolationErrorCode))
		return
	}

	switch streamType(typ) {
	case announceStreamType:
		s.mux.serveAnnouncements(s, st, r)
	case subscribeStreamType:
		s.mux.serveSubscribe(s, st, r)
	case sessionStreamType:
		r.Close()
		abortStream(st, quic.StreamErrorCode(ProtocolViolationErrorCode))
		s.terminate(&SessionError{Code: ProtocolViolationErrorCode, Message: "duplicate session stream"})
	default:
		s.log.Warn("rejected stream", "type", streamType(typ).bidiString())
		r.Close()
		abortStream(st, quic.StreamErrorCode(ProtocolViolationErrorCode))
	}
}

func (s *Session) handleGroup(st quic.ReceiveStream) {
	r := wire.NewReader(st, s.pool)
	typ, err := r.ReadUint8()
	if err != nil {
		s.log.Debug("read stream type", "error", err)
		r.Cancel(quic.StreamErrorCode(ProtocolViolationErrorCode))
		return
	}
	if streamType(typ) != groupStreamType {
		s.log.Warn("rejected unidirectional stream", "type", typ)
		r.Cancel(quic.StreamErrorCode(ProtocolViolationErrorCode))
		return
	}

	var gm message.GroupMessage
	if err := gm.Decode(r); err != nil {
		s.log.Debug("decode group header", "error", err)
		r.Cancel(quic.StreamErrorCode(InternalGroupErrorCode))
		return
	}

	s.mu.Lock()
	tr := s.subscriptions[gm.SubscribeID]
	s.mu.Unlock()
	if tr == nil {
		s.log.Debug("group for unknown subscription", "subscribe_id", gm.SubscribeID, "sequence", gm.Sequence)
		s.metrics.GroupsDropped.WithLabelValues("unknown_subscription").Inc()
		r.Cancel(quic.StreamErrorCode(InvalidSubscribeIDErrorCode))
		return
	}
	tr.enqueue(newGroupReader(gm.Sequence, st, r))
}

// openBidi opens a bidirectional stream and buffers its type byte. The
// byte is sent with the first message.
func (s *Session) openBidi(ctx context.Context, t streamType) (quic.Stream, *wire.Reader, *wire.Writer, error) {
	mustBidi(t)
	st, err := s.conn.OpenStream(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	w := wire.NewWriter(st, s.pool)
	w.WriteUint8(byte(t))
	return st, wire.NewReader(st, s.pool), w, nil
}

func (s *Session) removeSubscription(id uint64, tr *TrackReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions[id] == tr {
		delete(s.subscriptions, id)
	}
}

// addPublication registers an inbound subscription. It reports false if
// the peer reused a live subscribe ID.
func (s *Session) addPublication(tw *TrackWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.publications[tw.id]; ok {
		return false
	}
	s.publications[tw.id] = tw
	return true
}

func (s *Session) removePublication(tw *TrackWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publications[tw.id] == tw {
		delete(s.publications, tw.id)
	}
}

// ID returns the locally generated session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Version returns the negotiated protocol version.
func (s *Session) Version() Version { return s.version }

// RemoteExtensions returns the setup extensions sent by the peer.
func (s *Session) RemoteExtensions() Extensions { return s.remoteExtensions }

// Context is done when the session ends. Its cause is a *SessionError.
func (s *Session) Context() context.Context { return s.ctx }

// UpdateBitrate advertises the local bitrate to the peer.
func (s *Session) UpdateBitrate(bitrate uint64) error {
	return s.stream.UpdateBitrate(bitrate)
}

// LocalInfo returns the last info sent with UpdateBitrate.
func (s *Session) LocalInfo() Info { return s.stream.LocalInfo() }

// RemoteInfo returns the last info received from the peer.
func (s *Session) RemoteInfo() Info { return s.stream.RemoteInfo() }

// RemoteUpdated returns a channel that is closed when the next
// SESSION_UPDATE arrives from the peer.
func (s *Session) RemoteUpdated() <-chan struct{} { return s.stream.remoteUpdated() }

// Close ends the session without error.
func (s *Session) Close() error {
	return s.CloseWithError(NoError, "")
}

// CloseWithError ends the session with code, cancelling every track and
// announcement that belongs to it, and waits for its goroutines to exit.
func (s *Session) CloseWithError(code SessionErrorCode, msg string) error {
	s.terminate(&SessionError{Code: code, Message: msg})
	<-s.done
	return s.closeErr
}
