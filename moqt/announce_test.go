package moqt

import (
	"context"
	"errors"
	"testing"

	"github.com/zsiec/moqt/internal/message"
	"github.com/zsiec/moqt/internal/quictest"
	"github.com/zsiec/moqt/internal/wire"
	"github.com/zsiec/moqt/quic"
)

func nop(tw *TrackWriter) { <-tw.Context().Done() }

func receive(t *testing.T, ar *AnnouncementReader) Announcement {
	t.Helper()
	a, err := ar.ReceiveAnnouncement(testContext(t))
	if err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}
	return a
}

func TestAnnouncements(t *testing.T) {
	t.Parallel()
	mux := NewTrackMux()
	ctx := testContext(t)

	roomA, endA := context.WithCancel(ctx)
	defer endA()
	if err := mux.PublishFunc(roomA, "/live/a", nop); err != nil {
		t.Fatal(err)
	}
	if err := mux.PublishFunc(ctx, "/other/x", nop); err != nil {
		t.Fatal(err)
	}
	client, _ := sessionPair(t, nil, &Config{Mux: mux})

	ar, err := client.OpenAnnounceStream(ctx, "/live/")
	if err != nil {
		t.Fatalf("OpenAnnounceStream: %v", err)
	}
	defer ar.Close()

	if a := receive(t, ar); a != (Announcement{BroadcastPath: "/live/a", Active: true}) {
		t.Fatalf("first announcement = %+v", a)
	}

	if err := mux.PublishFunc(ctx, "/live/b", nop); err != nil {
		t.Fatal(err)
	}
	if err := mux.PublishFunc(ctx, "/other/y", nop); err != nil {
		t.Fatal(err)
	}
	if a := receive(t, ar); a != (Announcement{BroadcastPath: "/live/b", Active: true}) {
		t.Fatalf("second announcement = %+v", a)
	}

	endA()
	if a := receive(t, ar); a != (Announcement{BroadcastPath: "/live/a", Active: false}) {
		t.Fatalf("third announcement = %+v", a)
	}
}

func TestAnnouncementReaderClose(t *testing.T) {
	t.Parallel()
	client, _ := sessionPair(t, nil, nil)
	ctx := testContext(t)

	ar, err := client.OpenAnnounceStream(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if err := ar.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ar.ReceiveAnnouncement(ctx); !errors.Is(err, ErrClosedAnnouncements) {
		t.Fatalf("err = %v, want ErrClosedAnnouncements", err)
	}
}

func TestAnnouncementsEndWithSession(t *testing.T) {
	t.Parallel()
	client, server := sessionPair(t, nil, nil)
	ctx := testContext(t)

	ar, err := client.OpenAnnounceStream(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	server.Close()

	if _, err := ar.ReceiveAnnouncement(ctx); err == nil {
		t.Fatal("ReceiveAnnouncement succeeded after the peer closed")
	}
	waitDone(t, "announce context", ar.Context().Done())
}

func TestOpenAnnounceStreamInvalidPrefix(t *testing.T) {
	t.Parallel()
	client, _ := sessionPair(t, nil, nil)
	if _, err := client.OpenAnnounceStream(testContext(t), "live"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestAnnouncementOrdering(t *testing.T) {
	t.Parallel()
	ar := &AnnouncementReader{
		prefix: "/p/",
		log:    discardLogger,
		active: make(map[string]struct{}),
	}
	ar.ctx, ar.cancel = context.WithCancelCause(context.Background())
	defer ar.cancel(nil)

	if err := ar.apply(0, "x"); err == nil {
		t.Fatal("ended before active accepted")
	}
	if err := ar.apply(1, "x"); err != nil {
		t.Fatal(err)
	}
	err := ar.apply(1, "x")
	var ae *AnnounceError
	if !errors.As(err, &ae) || ae.Code != DuplicatedAnnounceErrorCode {
		t.Fatalf("err = %v, want duplicated announce", err)
	}
	if err := ar.apply(0, "x"); err != nil {
		t.Fatal(err)
	}
	if len(ar.queue) != 2 || ar.queue[0].BroadcastPath != "/p/x" || ar.queue[1].Active {
		t.Fatalf("queue = %+v", ar.queue)
	}
}

func TestAnnounceInitFailureStopsReading(t *testing.T) {
	t.Parallel()
	_, server := sessionPair(t, nil, nil)
	ctx := testContext(t)

	cc, sc := quictest.Pipe()
	cst, err := cc.OpenStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	req := message.AnnouncePleaseMessage{TrackPrefix: "/"}
	if err := req.Encode(wire.NewWriter(cst, nil)); err != nil {
		t.Fatal(err)
	}
	// Refuse the answer so that sending ANNOUNCE_INIT fails.
	cst.CancelRead(quic.StreamErrorCode(InternalAnnounceErrorCode))

	sst, err := sc.AcceptStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	NewTrackMux().serveAnnouncements(server, sst, wire.NewReader(sst, nil))

	waitDone(t, "requester send side", cst.Context().Done())
}
