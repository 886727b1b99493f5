// Package config loads the moqt command configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/moqt/internal/bufpool"
)

// Config is the complete command configuration.
type Config struct {
	Addr        string        `yaml:"addr"`
	Insecure    bool          `yaml:"insecure"`
	Fingerprint string        `yaml:"fingerprint"`
	Session     SessionConfig `yaml:"session"`
	Pool        PoolConfig    `yaml:"pool"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// SessionConfig tunes session setup and control messages.
type SessionConfig struct {
	SetupTimeout time.Duration `yaml:"setup_timeout"`
	Bitrate      uint64        `yaml:"bitrate"`
}

// PoolConfig mirrors bufpool.Config.
type PoolConfig struct {
	Min           int           `yaml:"min"`
	Middle        int           `yaml:"middle"`
	Max           int           `yaml:"max"`
	MaxPerBucket  int           `yaml:"max_per_bucket"`
	MaxTotalBytes int           `yaml:"max_total_bytes"`
	TTL           time.Duration `yaml:"ttl"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr: "localhost:4443",
		Session: SessionConfig{
			SetupTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			Min:           256,
			Middle:        4 << 10,
			Max:           64 << 10,
			MaxPerBucket:  64,
			MaxTotalBytes: 4 << 20,
			TTL:           30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = envOr("MOQT_ADDR", c.Addr)
	c.Fingerprint = envOr("MOQT_FINGERPRINT", c.Fingerprint)
	c.Metrics.Addr = envOr("MOQT_METRICS_ADDR", c.Metrics.Addr)
	if v := os.Getenv("MOQT_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MOQT_INSECURE: %w", err)
		}
		c.Insecure = b
	}
	if os.Getenv("DEBUG") != "" {
		c.Logging.Level = "debug"
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if c.Insecure && c.Fingerprint != "" {
		return errors.New("insecure and fingerprint are mutually exclusive")
	}
	if c.Session.SetupTimeout <= 0 {
		return fmt.Errorf("session.setup_timeout must be positive, got %v", c.Session.SetupTimeout)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks that the bucket thresholds are ordered.
func (p *PoolConfig) Validate() error {
	if p.Min <= 0 || p.Middle <= p.Min || p.Max <= p.Middle {
		return fmt.Errorf("thresholds must satisfy 0 < min < middle < max, got %d/%d/%d", p.Min, p.Middle, p.Max)
	}
	if p.MaxPerBucket < 1 {
		return fmt.Errorf("max_per_bucket must be at least 1, got %d", p.MaxPerBucket)
	}
	if p.MaxTotalBytes < p.Max {
		return fmt.Errorf("max_total_bytes must be at least max (%d), got %d", p.Max, p.MaxTotalBytes)
	}
	if p.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", p.TTL)
	}
	return nil
}

// Bufpool converts the section for bufpool.New.
func (p *PoolConfig) Bufpool() bufpool.Config {
	return bufpool.Config{
		Min:           p.Min,
		Middle:        p.Middle,
		Max:           p.Max,
		MaxPerBucket:  p.MaxPerBucket,
		MaxTotalBytes: p.MaxTotalBytes,
		TTL:           p.TTL,
	}
}

// Validate checks the level and format names.
func (l *LoggingConfig) Validate() error {
	if _, err := l.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("invalid log format %q", l.Format)
}

// SlogLevel parses Level.
func (l *LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds the configured handler on stderr.
func (l *LoggingConfig) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
