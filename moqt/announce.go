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

// Announcement reports that a broadcast path became active or ended.
type Announcement struct {
	BroadcastPath string
	Active        bool
}

// OpenAnnounceStream asks the peer for the broadcast paths under prefix.
// The reader yields every path active when the peer answers, then each
// later change.
func (s *Session) OpenAnnounceStream(ctx context.Context, prefix string) (*AnnouncementReader, error) {
	if err := validatePath(prefix); err != nil {
		return nil, err
	}
	if s.ctx.Err() != nil {
		return nil, context.Cause(s.ctx)
	}
	st, r, w, err := s.openBidi(ctx, announceStreamType)
	if err != nil {
		return nil, announceErrorFrom(err)
	}
	req := message.AnnouncePleaseMessage{TrackPrefix: prefix}
	if err := req.Encode(w); err != nil {
		r.Close()
		w.Cancel(quic.StreamErrorCode(InternalAnnounceErrorCode))
		return nil, announceErrorFrom(err)
	}

	actx, cancel := context.WithCancelCause(s.ctx)
	ar := &AnnouncementReader{
		prefix: prefix,
		log:    s.log.With("prefix", prefix),
		ctx:    actx,
		cancel: cancel,
		stream: st,
		w:      w,
		active: make(map[string]struct{}),
	}
	context.AfterFunc(actx, func() { ar.closeOnce.Do(ar.shutdown) })
	go ar.receive(r)
	return ar, nil
}

// AnnouncementReader receives the announcements of one prefix.
type AnnouncementReader struct {
	prefix string
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	stream quic.Stream
	w      *wire.Writer

	mu      sync.Mutex
	queue   []Announcement
	active  map[string]struct{}
	err     error
	arrived syncutil.Cond

	closeOnce sync.Once
}

// Prefix returns the requested prefix.
func (ar *AnnouncementReader) Prefix() string { return ar.prefix }

// Context is done when the reader is closed or the session ends.
func (ar *AnnouncementReader) Context() context.Context { return ar.ctx }

func (ar *AnnouncementReader) receive(r *wire.Reader) {
	defer r.Close()

	var initMsg message.AnnounceInitMessage
	if err := initMsg.Decode(r); err != nil {
		ar.fail(err)
		return
	}
	for _, suffix := range initMsg.Suffixes {
		if err := ar.apply(message.Active, suffix); err != nil {
			ar.fail(err)
			return
		}
	}
	ar.log.Debug("announce init received", "active", len(initMsg.Suffixes))

	for {
		var msg message.AnnounceMessage
		if err := msg.Decode(r); err != nil {
			ar.fail(err)
			return
		}
		if err := ar.apply(msg.Status, msg.BroadcastPathSuffix); err != nil {
			ar.fail(err)
			return
		}
	}
}

// apply queues one change. Active and ended must alternate per path.
func (ar *AnnouncementReader) apply(status message.AnnounceStatus, suffix string) error {
	path := ar.prefix + suffix

	ar.mu.Lock()
	defer ar.mu.Unlock()
	_, isActive := ar.active[path]
	switch status {
	case message.Active:
		if isActive {
			return &AnnounceError{Code: DuplicatedAnnounceErrorCode}
		}
		ar.active[path] = struct{}{}
	case message.Ended:
		if !isActive {
			return &AnnounceError{Code: InvalidAnnounceStatusErrorCode}
		}
		delete(ar.active, path)
	}
	ar.queue = append(ar.queue, Announcement{BroadcastPath: path, Active: status == message.Active})
	ar.arrived.Broadcast()
	return nil
}

// fail records how the stream ended. Protocol errors abort the stream.
func (ar *AnnouncementReader) fail(err error) {
	switch {
	case errors.Is(err, io.EOF):
		err = io.EOF
	case errors.Is(err, message.ErrInvalidStatus):
		err = &AnnounceError{Code: InvalidAnnounceStatusErrorCode}
	default:
		err = announceErrorFrom(err)
	}

	var ae *AnnounceError
	if errors.As(err, &ae) && !ae.remote {
		ar.log.Warn("announce stream aborted", "error", err)
		ar.cancel(err)
	}

	ar.mu.Lock()
	if ar.err == nil {
		ar.err = err
	}
	ar.mu.Unlock()
	ar.arrived.Broadcast()
}

// ReceiveAnnouncement returns the next announcement. After the peer ends
// the stream and every queued announcement has been returned it returns
// io.EOF.
func (ar *AnnouncementReader) ReceiveAnnouncement(ctx context.Context) (Announcement, error) {
	for {
		ar.mu.Lock()
		if len(ar.queue) > 0 {
			a := ar.queue[0]
			ar.queue = ar.queue[1:]
			ar.mu.Unlock()
			return a, nil
		}
		if ar.ctx.Err() != nil {
			ar.mu.Unlock()
			return Announcement{}, context.Cause(ar.ctx)
		}
		if ar.err != nil {
			err := ar.err
			ar.mu.Unlock()
			return Announcement{}, err
		}
		wait := ar.arrived.Wait()
		ar.mu.Unlock()

		select {
		case <-wait:
		case <-ar.ctx.Done():
		case <-ctx.Done():
			return Announcement{}, context.Cause(ctx)
		}
	}
}

// Close stops receiving announcements.
func (ar *AnnouncementReader) Close() error {
	ar.cancel(ErrClosedAnnouncements)
	ar.closeOnce.Do(ar.shutdown)
	return nil
}

func (ar *AnnouncementReader) shutdown() {
	cause := context.Cause(ar.ctx)
	var ae *AnnounceError
	if errors.As(cause, &ae) {
		ar.stream.CancelRead(quic.StreamErrorCode(ae.Code))
		ar.w.Cancel(quic.StreamErrorCode(ae.Code))
		return
	}
	ar.stream.CancelRead(quic.StreamErrorCode(UninterestedErrorCode))
	if err := ar.w.Close(); err != nil {
		ar.log.Debug("close announce stream", "error", err)
	}
	ar.arrived.Broadcast()
}
