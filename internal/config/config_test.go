package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moqt.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "localhost:4443" {
		t.Fatalf("Addr = %q, want localhost:4443", cfg.Addr)
	}
	if cfg.Session.SetupTimeout != 10*time.Second {
		t.Fatalf("SetupTimeout = %v, want 10s", cfg.Session.SetupTimeout)
	}
	if cfg.Metrics.Addr != "" {
		t.Fatalf("Metrics.Addr = %q, want empty", cfg.Metrics.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
addr: relay.example.com:443
fingerprint: abc
session:
  setup_timeout: 3s
  bitrate: 2500000
pool:
  min: 128
  middle: 1024
  max: 8192
  max_per_bucket: 8
  max_total_bytes: 65536
  ttl: 1m
metrics:
  addr: :9090
logging:
  level: warn
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "relay.example.com:443" {
		t.Fatalf("Addr = %q, want relay.example.com:443", cfg.Addr)
	}
	if cfg.Fingerprint != "abc" {
		t.Fatalf("Fingerprint = %q, want abc", cfg.Fingerprint)
	}
	if cfg.Session.SetupTimeout != 3*time.Second {
		t.Fatalf("SetupTimeout = %v, want 3s", cfg.Session.SetupTimeout)
	}
	if cfg.Session.Bitrate != 2500000 {
		t.Fatalf("Bitrate = %d, want 2500000", cfg.Session.Bitrate)
	}
	bp := cfg.Pool.Bufpool()
	if bp.Min != 128 || bp.Middle != 1024 || bp.Max != 8192 || bp.MaxPerBucket != 8 || bp.MaxTotalBytes != 65536 || bp.TTL != time.Minute {
		t.Fatalf("Bufpool() = %+v", bp)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Fatalf("Metrics.Addr = %q, want :9090", cfg.Metrics.Addr)
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("SlogLevel() = %v, %v, want WARN", level, err)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "addr: example.net:4443\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.Max != Default().Pool.Max {
		t.Fatalf("Pool.Max = %d, want %d", cfg.Pool.Max, Default().Pool.Max)
	}
	if cfg.Logging.Format != "text" {
		t.Fatalf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MOQT_ADDR", "10.0.0.1:4443")
	t.Setenv("MOQT_INSECURE", "true")
	t.Setenv("MOQT_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("DEBUG", "1")

	path := writeConfig(t, "addr: file.example:4443\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "10.0.0.1:4443" {
		t.Fatalf("Addr = %q, want env value", cfg.Addr)
	}
	if !cfg.Insecure {
		t.Fatal("Insecure = false, want true")
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Fatalf("Metrics.Addr = %q, want env value", cfg.Metrics.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadBadInsecureEnv(t *testing.T) {
	t.Setenv("MOQT_INSECURE", "sometimes")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "MOQT_INSECURE") {
		t.Fatalf("Load err = %v, want MOQT_INSECURE error", err)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load(missing) succeeded")
	}
	if _, err := Load(writeConfig(t, "addr: [unterminated\n")); err == nil {
		t.Fatal("Load(malformed) succeeded")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty addr", func(c *Config) { c.Addr = "" }, "addr"},
		{"insecure with pin", func(c *Config) { c.Insecure = true; c.Fingerprint = "x" }, "mutually exclusive"},
		{"zero setup timeout", func(c *Config) { c.Session.SetupTimeout = 0 }, "setup_timeout"},
		{"unordered pool", func(c *Config) { c.Pool.Middle = c.Pool.Max }, "thresholds"},
		{"empty bucket", func(c *Config) { c.Pool.MaxPerBucket = 0 }, "max_per_bucket"},
		{"small total", func(c *Config) { c.Pool.MaxTotalBytes = 1 }, "max_total_bytes"},
		{"zero ttl", func(c *Config) { c.Pool.TTL = 0 }, "ttl"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	l := LoggingConfig{Level: "error", Format: "json"}
	log := l.NewLogger()
	if log.Enabled(t.Context(), slog.LevelWarn) {
		t.Fatal("warn enabled at error level")
	}
	if !log.Enabled(t.Context(), slog.LevelError) {
		t.Fatal("error disabled at error level")
	}
}
