package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/config"
	"github.com/zsiec/moqt/internal/metrics"
	"github.com/zsiec/moqt/internal/quictest"
	"github.com/zsiec/moqt/moqt"
)

func testApp() *app {
	return &app{
		cfg:     config.Default(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pool:    bufpool.New(bufpool.Config{}),
		metrics: metrics.NewSession(nil),
	}
}

// connect runs a publisher session serving mux against a subscriber
// session over an in-memory connection.
func connect(t *testing.T, ctx context.Context, a *app, mux *moqt.TrackMux) *moqt.Session {
	t.Helper()
	cc, sc := quictest.Pipe()

	accepted := make(chan error, 1)
	go func() {
		sess, err := moqt.Accept(ctx, sc, a.sessionConfig(mux))
		if err == nil {
			t.Cleanup(func() { sess.Close() })
		}
		accepted <- err
	}()

	client, err := moqt.NewClient(ctx, cc, a.sessionConfig(moqt.NewTrackMux()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := <-accepted; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return client
}

func tickUntilDone(ctx context.Context, clk *clock.Mock, d time.Duration) {
	for ctx.Err() == nil {
		clk.Add(d)
		time.Sleep(time.Millisecond)
	}
}

func TestPublishServesRange(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := testApp()
	clk := clock.NewMock()
	src := newGroupSourceClock(clk, 10*time.Millisecond)
	go src.run(ctx)

	opts := publishOptions{tracks: []string{"video"}, interval: 10 * time.Millisecond, frames: 3, frameSize: 64}
	mux := moqt.NewTrackMux()
	if err := mux.Publish(ctx, "/demo", a.trackHandler(src, opts)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	client := connect(t, ctx, a, mux)

	tr, err := client.Subscribe(ctx, "/demo", "video", &moqt.SubscribeConfig{MaxGroupSequence: 2})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer tr.Close()

	// Ticking starts once group 1 is read, so the track cannot end first.
	var last uint64
	for {
		g, err := tr.AcceptGroup(ctx)
		if errors.Is(err, moqt.ErrClosedTrack) {
			break
		}
		if err != nil {
			t.Fatalf("AcceptGroup: %v", err)
		}
		if g.GroupSequence() <= last || g.GroupSequence() > 2 {
			t.Fatalf("GroupSequence() = %d after %d, want increasing and <= 2", g.GroupSequence(), last)
		}
		if last == 0 && g.GroupSequence() != 1 {
			t.Fatalf("first group = %d, want 1", g.GroupSequence())
		}
		if last == 0 {
			go tickUntilDone(ctx, clk, 10*time.Millisecond)
		}
		last = g.GroupSequence()

		st, err := readGroup(g)
		if err != nil {
			t.Fatalf("readGroup: %v", err)
		}
		if st.frames != 3 || st.bytes != 3*64 {
			t.Fatalf("group %d = %d frames, %d bytes, want 3 frames, 192 bytes", last, st.frames, st.bytes)
		}
	}
	if last == 0 {
		t.Fatal("no groups delivered")
	}
}

func TestPublishRejectsUnknownTrack(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := testApp()
	src := newGroupSourceClock(clock.NewMock(), time.Second)
	opts := publishOptions{tracks: []string{"video"}, interval: time.Second, frames: 1, frameSize: frameHeaderLen}
	mux := moqt.NewTrackMux()
	if err := mux.Publish(ctx, "/demo", a.trackHandler(src, opts)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	client := connect(t, ctx, a, mux)

	tr, err := client.Subscribe(ctx, "/demo", "subtitles", nil)
	if err == nil {
		defer tr.Close()
		_, err = tr.AcceptGroup(ctx)
	}
	var se *moqt.SubscribeError
	if !errors.As(err, &se) || se.Code != moqt.TrackNotFoundErrorCode {
		t.Fatalf("err = %v, want %v", err, moqt.TrackNotFoundErrorCode)
	}
}

func TestPublishOptionsValidated(t *testing.T) {
	t.Parallel()

	a := testApp()
	tests := []publishOptions{
		{frames: 1, interval: time.Second, frameSize: frameHeaderLen - 1},
		{frames: 0, interval: time.Second, frameSize: frameHeaderLen},
		{frames: 1, interval: 0, frameSize: frameHeaderLen},
	}
	for _, opts := range tests {
		if err := a.publish(context.Background(), opts); err == nil {
			t.Fatalf("publish(%+v) succeeded", opts)
		}
	}
}
