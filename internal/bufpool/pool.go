// Package bufpool is a size-class buffer pool shared by the stream readers
// and writers. Buffers are sorted into three buckets by capacity (up to Min,
// up to Middle, up to Max); larger buffers are never pooled. Idle buffers
// are evicted after a TTL, either by an explicit Cleanup or by the Run
// janitor.
package bufpool

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zsiec/moqt/internal/metrics"
)

// Default pool parameters.
const (
	DefaultMin           = 256
	DefaultMiddle        = 4 << 10
	DefaultMax           = 64 << 10
	DefaultMaxPerBucket  = 64
	DefaultMaxTotalBytes = 4 << 20
	DefaultTTL           = 30 * time.Second
)

// Default is the process-wide pool used when a component is not given one.
var Default = New(Config{})

// Config controls bucket boundaries and retention limits. Zero fields take
// the package defaults. A negative MaxPerBucket or MaxTotalBytes disables
// that limit.
type Config struct {
	Min, Middle, Max int
	MaxPerBucket     int
	MaxTotalBytes    int
	TTL              time.Duration
	Clock            clock.Clock
	Metrics          *metrics.Pool
}

type entry struct {
	buf      []byte
	released time.Time
}

// Pool hands out byte slices by size class. It is safe for concurrent use;
// no method blocks while holding the lock.
type Pool struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Pool

	mu      sync.Mutex
	buckets [3][]entry
	total   int
}

// New creates a pool. It panics if the thresholds are not ordered.
func New(cfg Config) *Pool {
	if cfg.Min == 0 {
		cfg.Min = DefaultMin
	}
	if cfg.Middle == 0 {
		cfg.Middle = DefaultMiddle
	}
	if cfg.Max == 0 {
		cfg.Max = DefaultMax
	}
	if cfg.MaxPerBucket == 0 {
		cfg.MaxPerBucket = DefaultMaxPerBucket
	}
	if cfg.MaxTotalBytes == 0 {
		cfg.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Min <= 0 || cfg.Min > cfg.Middle || cfg.Middle > cfg.Max {
		panic("bufpool: thresholds must satisfy 0 < Min <= Middle <= Max")
	}
	p := &Pool{
		cfg:     cfg,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewPool(nil)
	}
	return p
}

// bucketFor returns the bucket index for a size, or -1 if the size is not
// pooled.
func (p *Pool) bucketFor(size int) int {
	switch {
	case size <= 0:
		return -1
	case size <= p.cfg.Min:
		return 0
	case size <= p.cfg.Middle:
		return 1
	case size <= p.cfg.Max:
		return 2
	}
	return -1
}

// Acquire returns a slice of length size. A previously released buffer with
// enough capacity is reused when one exists in the matching bucket;
// otherwise a new buffer of exactly size bytes is allocated.
func (p *Pool) Acquire(size int) []byte {
	idx := p.bucketFor(size)
	if idx < 0 {
		if size < 0 {
			size = 0
		}
		return make([]byte, size)
	}

	p.mu.Lock()
	b := p.buckets[idx]
	for i := len(b) - 1; i >= 0; i-- {
		if cap(b[i].buf) < size {
			continue
		}
		buf := b[i].buf
		copy(b[i:], b[i+1:])
		b[len(b)-1] = entry{}
		p.buckets[idx] = b[:len(b)-1]
		p.total -= cap(buf)
		p.mu.Unlock()

		p.metrics.Hits.Inc()
		p.metrics.PooledBytes.Sub(float64(cap(buf)))
		return buf[:size]
	}
	p.mu.Unlock()

	p.metrics.Misses.Inc()
	return make([]byte, size)
}

// Release hands buf back to the pool. Buffers outside the tracked size
// range, or that would exceed the per-bucket or total limits, are dropped.
// The caller must not use buf afterwards.
func (p *Pool) Release(buf []byte) {
	c := cap(buf)
	idx := p.bucketFor(c)
	if idx < 0 {
		p.metrics.Drops.Inc()
		return
	}

	p.mu.Lock()
	if p.cfg.MaxPerBucket > 0 && len(p.buckets[idx]) >= p.cfg.MaxPerBucket {
		p.mu.Unlock()
		p.metrics.Drops.Inc()
		return
	}
	if p.cfg.MaxTotalBytes > 0 && p.total+c > p.cfg.MaxTotalBytes {
		p.mu.Unlock()
		p.metrics.Drops.Inc()
		return
	}
	p.buckets[idx] = append(p.buckets[idx], entry{buf: buf[:c], released: p.clock.Now()})
	p.total += c
	p.mu.Unlock()

	p.metrics.PooledBytes.Add(float64(c))
}

// Cleanup evicts every buffer that has been idle for longer than the TTL and
// reports how many were evicted.
func (p *Pool) Cleanup() int {
	now := p.clock.Now()
	evicted, freed := 0, 0

	p.mu.Lock()
	for i := range p.buckets {
		kept := p.buckets[i][:0]
		for _, e := range p.buckets[i] {
			if now.Sub(e.released) > p.cfg.TTL {
				evicted++
				freed += cap(e.buf)
				continue
			}
			kept = append(kept, e)
		}
		clear(p.buckets[i][len(kept):])
		p.buckets[i] = kept
	}
	p.total -= freed
	p.mu.Unlock()

	if evicted > 0 {
		p.metrics.Evictions.Add(float64(evicted))
		p.metrics.PooledBytes.Sub(float64(freed))
	}
	return evicted
}

// Run calls Cleanup once per TTL until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.cfg.TTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Cleanup()
		}
	}
}

// Stats is a point-in-time view of the pool contents.
type Stats struct {
	Buckets     [3]int
	PooledBytes int
}

// Stats returns the number of idle buffers per bucket and their total size.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	for i := range p.buckets {
		s.Buckets[i] = len(p.buckets[i])
	}
	s.PooledBytes = p.total
	return s
}

// Or returns p, or Default when p is nil.
func Or(p *Pool) *Pool {
	if p == nil {
		return Default
	}
	return p
}
