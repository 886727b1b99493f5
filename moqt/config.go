package moqt

import (
	"log/slog"
	"slices"
	"time"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/metrics"
)

// Version identifies a protocol revision.
type Version uint64

// Develop is the version spoken by this implementation.
const Develop Version = 0xffffff00

// NextProto is the ALPN protocol identifier for connections carrying
// sessions.
const NextProto = "moq-00"

const defaultSetupTimeout = 10 * time.Second

var defaultMetrics = metrics.NewSession(nil)

// Extensions are opaque setup parameters exchanged when the session opens.
type Extensions map[uint64][]byte

// Config configures a Session. The zero value is usable.
type Config struct {
	// Versions are offered by a client in preference order, or accepted by
	// a server. Empty selects Develop.
	Versions []Version

	// Extensions are sent to the peer during setup.
	Extensions Extensions

	// Mux serves subscriptions and announce requests from the peer. Nil
	// selects DefaultMux.
	Mux *TrackMux

	// SetupTimeout bounds the version exchange when the caller's context
	// has no deadline.
	SetupTimeout time.Duration

	Pool    *bufpool.Pool
	Logger  *slog.Logger
	Metrics *metrics.Session
}

func (c *Config) versions() []Version {
	if c == nil || len(c.Versions) == 0 {
		return []Version{Develop}
	}
	return c.Versions
}

func (c *Config) supports(v Version) bool {
	return slices.Contains(c.versions(), v)
}

func (c *Config) extensions() Extensions {
	if c == nil {
		return nil
	}
	return c.Extensions
}

func (c *Config) mux() *TrackMux {
	if c == nil || c.Mux == nil {
		return DefaultMux
	}
	return c.Mux
}

func (c *Config) setupTimeout() time.Duration {
	if c == nil || c.SetupTimeout <= 0 {
		return defaultSetupTimeout
	}
	return c.SetupTimeout
}

func (c *Config) pool() *bufpool.Pool {
	if c == nil {
		return bufpool.Default
	}
	return bufpool.Or(c.Pool)
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Config) metrics() *metrics.Session {
	if c == nil || c.Metrics == nil {
		return defaultMetrics
	}
	return c.Metrics
}

// SubscribeConfig selects the part of a track a subscriber wants.
type SubscribeConfig struct {
	TrackPriority uint8

	// MinGroupSequence is the first group to deliver. Older groups are
	// abandoned as expired.
	MinGroupSequence uint64

	// MaxGroupSequence is the last group to deliver. Zero means no bound.
	MaxGroupSequence uint64
}

func (c *SubscribeConfig) valid() bool {
	return c.MaxGroupSequence == 0 || c.MinGroupSequence <= c.MaxGroupSequence
}

func (c *SubscribeConfig) inRange(seq uint64) bool {
	return c.MaxGroupSequence == 0 || seq <= c.MaxGroupSequence
}
