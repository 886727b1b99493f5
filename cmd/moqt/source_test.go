package main

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestGroupSourceAdvances(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	src := newGroupSourceClock(clk, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.run(ctx) }()

	if got := src.current(); got != 1 {
		t.Fatalf("current() = %d, want 1", got)
	}
	if err := src.wait(ctx, 1); err != nil {
		t.Fatalf("wait(1) = %v, want nil", err)
	}

	waited := make(chan error, 1)
	go func() { waited <- src.wait(ctx, 3) }()

	deadline := time.Now().Add(5 * time.Second)
	for src.current() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("current() = %d, want 3", src.current())
		}
		clk.Add(time.Second)
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-waited:
		if err != nil {
			t.Fatalf("wait(3) = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait(3) did not return")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run() = %v, want nil", err)
	}
}

func TestGroupSourceWaitCanceled(t *testing.T) {
	t.Parallel()

	src := newGroupSourceClock(clock.NewMock(), time.Second)
	ctx, cancel := context.WithCancelCause(context.Background())
	want := context.DeadlineExceeded
	cancel(want)

	if err := src.wait(ctx, 2); err != want {
		t.Fatalf("wait() = %v, want %v", err, want)
	}
}
