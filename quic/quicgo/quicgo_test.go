package quicgo

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/zsiec/moqt/internal/certs"
	"github.com/zsiec/moqt/quic"
)

const testALPN = "quicgo-test"

func loopback(t *testing.T) (client, server quic.Connection) {
	t.Helper()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := Listen("127.0.0.1:0", cert.ServerConfig(testALPN), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan quic.Connection, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	tlsConf, err := certs.PinnedClientConfig(cert.FingerprintBase64(), testALPN)
	if err != nil {
		t.Fatal(err)
	}
	client, err = Dial(ctx, ln.Addr().String(), tlsConf, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("Accept failed")
	}
	t.Cleanup(func() {
		client.CloseWithError(0, "")
		server.CloseWithError(0, "")
	})
	return client, server
}

func TestBidiStream(t *testing.T) {
	t.Parallel()
	client, server := loopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := client.OpenStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := server.AcceptStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("read %q, want %q", got, "ping")
	}
}

func TestStreamResetCode(t *testing.T) {
	t.Parallel()
	client, server := loopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := client.OpenUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}
	s.CancelWrite(7)

	r, err := server.AcceptUniStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(r)
	var streamErr *quic.StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("err = %v, want *quic.StreamError", err)
	}
	if streamErr.Code != 7 || !streamErr.Remote {
		t.Fatalf("stream error = %+v, want remote code 7", streamErr)
	}
}

func TestCloseWithErrorCode(t *testing.T) {
	t.Parallel()
	client, server := loopback(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.CloseWithError(3, "bye"); err != nil {
		t.Fatal(err)
	}
	_, err := server.AcceptStream(ctx)
	var connErr *quic.ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *quic.ConnError", err)
	}
	if connErr.Code != 3 || connErr.Message != "bye" || !connErr.Remote {
		t.Fatalf("conn error = %+v", connErr)
	}

	select {
	case <-server.Context().Done():
	case <-ctx.Done():
		t.Fatal("connection context not done")
	}
	if !errors.As(context.Cause(server.Context()), &connErr) || connErr.Code != 3 {
		t.Fatalf("cause = %v, want *quic.ConnError code 3", context.Cause(server.Context()))
	}
}

func TestConvertErrPassthrough(t *testing.T) {
	t.Parallel()
	if convertErr(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if err := convertErr(io.EOF); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

