package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// groupSource is the shared group clock of a generated broadcast. Every
// subscriber writes the same sequence number during the same interval.
type groupSource struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	seq  uint64
	tick chan struct{}
}

func newGroupSource(interval time.Duration) *groupSource {
	return newGroupSourceClock(clock.New(), interval)
}

func newGroupSourceClock(clk clock.Clock, interval time.Duration) *groupSource {
	return &groupSource{
		clock:    clk,
		interval: interval,
		seq:      1,
		tick:     make(chan struct{}),
	}
}

// run advances the sequence once per interval until ctx is done.
func (s *groupSource) run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			s.seq++
			close(s.tick)
			s.tick = make(chan struct{})
			s.mu.Unlock()
		}
	}
}

func (s *groupSource) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// wait blocks until the source has reached seq.
func (s *groupSource) wait(ctx context.Context, seq uint64) error {
	for {
		s.mu.Lock()
		if s.seq >= seq {
			s.mu.Unlock()
			return nil
		}
		tick := s.tick
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-tick:
		}
	}
}
