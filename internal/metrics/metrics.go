// Package metrics holds the Prometheus instruments shared by the buffer
// pool and the moqt session layer.
//
// Constructors take a prometheus.Registerer; a nil registerer produces
// working but unregistered instruments, which is what library defaults and
// tests use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moqt"

// Pool instruments a bufpool.Pool.
type Pool struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Drops       prometheus.Counter
	Evictions   prometheus.Counter
	PooledBytes prometheus.Gauge
}

// NewPool creates the buffer pool instruments.
func NewPool(reg prometheus.Registerer) *Pool {
	f := promauto.With(reg)
	return &Pool{
		Hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bufpool",
			Name:      "hits_total",
			Help:      "Acquires served from a released buffer",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bufpool",
			Name:      "misses_total",
			Help:      "Acquires that allocated a new buffer",
		}),
		Drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bufpool",
			Name:      "drops_total",
			Help:      "Releases discarded because of size or pool limits",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bufpool",
			Name:      "evictions_total",
			Help:      "Idle buffers evicted after their TTL",
		}),
		PooledBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bufpool",
			Name:      "pooled_bytes",
			Help:      "Bytes currently retained by the pool",
		}),
	}
}

// Session instruments the session, subscribe and group state machines.
type Session struct {
	Active                prometheus.Gauge
	BitrateUpdates        *prometheus.CounterVec
	SubscriptionsServed   prometheus.Counter
	SubscriptionsRejected *prometheus.CounterVec
	GroupsDelivered       prometheus.Counter
	GroupsDropped         *prometheus.CounterVec
	FramesWritten         prometheus.Counter
}

// NewSession creates the session instruments.
func NewSession(reg prometheus.Registerer) *Session {
	f := promauto.With(reg)
	return &Session{
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open",
		}),
		BitrateUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_updates_total",
			Help:      "SESSION_UPDATE messages by direction",
		}, []string{"direction"}),
		SubscriptionsServed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_served_total",
			Help:      "Inbound subscriptions dispatched to a track handler",
		}),
		SubscriptionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_rejected_total",
			Help:      "Inbound subscriptions rejected, by reason",
		}, []string{"reason"}),
		GroupsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_delivered_total",
			Help:      "Groups handed to track consumers",
		}),
		GroupsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_dropped_total",
			Help:      "Groups cancelled before delivery, by reason",
		}, []string{"reason"}),
		FramesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames written by local track publishers",
		}),
	}
}
