package syncutil

import (
	"context"
	"sync"
)

// Mutex is a lock that is granted strictly in the order Lock was called.
// The zero value is unlocked.
type Mutex struct {
	mu    sync.Mutex
	held  bool
	queue []chan struct{}
}

// Lock blocks until the lock is held or ctx is done. On success it returns
// the function that releases the lock; it must be called exactly once, and
// only by the holder.
func (m *Mutex) Lock(ctx context.Context) (unlock func(), err error) {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return m.unlockOnce(), nil
	}
	ch := make(chan struct{})
	m.queue = append(m.queue, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.unlockOnce(), nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for i, c := range m.queue {
		if c == ch {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.mu.Unlock()
			return nil, context.Cause(ctx)
		}
	}
	m.mu.Unlock()
	// Granted while giving up: pass the lock on.
	m.unlock()
	return nil, context.Cause(ctx)
}

func (m *Mutex) unlockOnce() func() {
	var once sync.Once
	return func() { once.Do(m.unlock) }
}

func (m *Mutex) unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		panic("syncutil: unlock of unlocked Mutex")
	}
	if len(m.queue) == 0 {
		m.held = false
		return
	}
	next := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	close(next)
}

// Waiters reports how many callers are queued behind the holder.
func (m *Mutex) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
