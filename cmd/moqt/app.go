package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/certs"
	"github.com/zsiec/moqt/internal/config"
	"github.com/zsiec/moqt/internal/metrics"
	"github.com/zsiec/moqt/moqt"
	"github.com/zsiec/moqt/quic/quicgo"
)

// app holds what every subcommand shares: configuration, logging, the
// buffer pool and the metrics registry.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	pool     *bufpool.Pool
	metrics  *metrics.Session
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.Logging.NewLogger()
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	poolCfg := cfg.Pool.Bufpool()
	poolCfg.Metrics = metrics.NewPool(reg)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		pool:     bufpool.New(poolCfg),
		metrics:  metrics.NewSession(reg),
	}, nil
}

func (a *app) sessionConfig(mux *moqt.TrackMux) *moqt.Config {
	return &moqt.Config{
		Mux:          mux,
		SetupTimeout: a.cfg.Session.SetupTimeout,
		Pool:         a.pool,
		Logger:       a.log,
		Metrics:      a.metrics,
	}
}

// run executes body alongside the pool janitor and the metrics endpoint,
// and cancels everything on SIGINT/SIGTERM or when body returns.
func (a *app) run(ctx context.Context, body func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			a.log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pool.Run(ctx)
	})

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("metrics server listening", "addr", a.cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return body(ctx)
	})

	return g.Wait()
}

func (a *app) clientTLS() (*tls.Config, error) {
	if a.cfg.Fingerprint != "" {
		return certs.PinnedClientConfig(a.cfg.Fingerprint, moqt.NextProto)
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{moqt.NextProto},
		InsecureSkipVerify: a.cfg.Insecure,
	}, nil
}

// dial connects to the configured address and opens a client session.
func (a *app) dial(ctx context.Context, mux *moqt.TrackMux) (*moqt.Session, error) {
	tlsConf, err := a.clientTLS()
	if err != nil {
		return nil, err
	}
	conn, err := quicgo.Dial(ctx, a.cfg.Addr, tlsConf, quicgo.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.cfg.Addr, err)
	}
	sess, err := moqt.NewClient(ctx, conn, a.sessionConfig(mux))
	if err != nil {
		return nil, fmt.Errorf("session setup: %w", err)
	}
	a.log.Info("session established",
		"session", sess.ID(),
		"addr", a.cfg.Addr,
		"version", fmt.Sprintf("%#x", uint64(sess.Version())),
	)
	if a.cfg.Session.Bitrate > 0 {
		if err := sess.UpdateBitrate(a.cfg.Session.Bitrate); err != nil {
			sess.Close()
			return nil, fmt.Errorf("send bitrate: %w", err)
		}
	}
	return sess, nil
}
