package moqt

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zsiec/moqt/internal/quictest"
)

const testTimeout = 5 * time.Second

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// sessionPair connects a client and a server session in memory. The server
// serves subscriptions from serverCfg.Mux.
func sessionPair(t *testing.T, clientCfg, serverCfg *Config) (client, server *Session) {
	t.Helper()
	if clientCfg == nil {
		clientCfg = &Config{}
	}
	if serverCfg == nil {
		serverCfg = &Config{}
	}
	if clientCfg.Mux == nil {
		clientCfg.Mux = NewTrackMux()
	}
	if serverCfg.Mux == nil {
		serverCfg.Mux = NewTrackMux()
	}
	clientCfg.Logger = discardLogger
	serverCfg.Logger = discardLogger

	cc, sc := quictest.Pipe()
	ctx := testContext(t)

	type result struct {
		s   *Session
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		s, err := Accept(ctx, sc, serverCfg)
		accepted <- result{s, err}
	}()

	client, err := NewClient(ctx, cc, clientCfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res := <-accepted
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	server = res.s

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// waitFor polls cond until it holds or the test timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}
