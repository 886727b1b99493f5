package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqt/internal/bufpool"
	"github.com/zsiec/moqt/internal/certs"
	"github.com/zsiec/moqt/moqt"
	"github.com/zsiec/moqt/quic/quicgo"
)

type publishOptions struct {
	path      string
	tracks    []string
	interval  time.Duration
	frames    int
	frameSize int
}

func publishCmd(configPath *string) *cobra.Command {
	opts := publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Serve a generated broadcast to subscribers",
		Long: `Listen for sessions on the configured address and serve a generated
broadcast. Every interval a new group is produced on each track; a group
carries a fixed number of frames stamped with the group sequence, frame
index and wall-clock time.

A self-signed certificate is generated at startup. Pass its fingerprint to
subscribers through MOQT_FINGERPRINT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.publish(ctx, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.path, "path", "/demo", "broadcast path")
	cmd.Flags().StringSliceVar(&opts.tracks, "track", []string{"video", "audio"}, "track names served under the path")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "time between groups")
	cmd.Flags().IntVar(&opts.frames, "frames", 30, "frames per group")
	cmd.Flags().IntVar(&opts.frameSize, "frame-size", 1200, "bytes per frame")

	return cmd
}

func (a *app) publish(ctx context.Context, opts publishOptions) error {
	if opts.frameSize < frameHeaderLen {
		return fmt.Errorf("frame-size must be at least %d", frameHeaderLen)
	}
	if opts.frames < 1 || opts.interval <= 0 {
		return errors.New("frames and interval must be positive")
	}

	cert, err := certs.Generate(0)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	a.log.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	src := newGroupSource(opts.interval)
	mux := moqt.NewTrackMux()
	if err := mux.Publish(ctx, opts.path, a.trackHandler(src, opts)); err != nil {
		return err
	}

	ln, err := quicgo.Listen(a.cfg.Addr, cert.ServerConfig(moqt.NextProto), quicgo.DefaultConfig())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	a.log.Info("publisher listening",
		"version", version,
		"addr", ln.Addr().String(),
		"path", opts.path,
		"tracks", opts.tracks,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		cfg := a.sessionConfig(mux)
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			go func() {
				sess, err := moqt.Accept(ctx, conn, cfg)
				if err != nil {
					a.log.Warn("session setup failed", "error", err)
					return
				}
				a.log.Info("session accepted", "session", sess.ID())
				<-sess.Context().Done()
				a.log.Info("session ended", "session", sess.ID(), "cause", context.Cause(sess.Context()))
			}()
		}
	})
	return g.Wait()
}

// trackHandler serves the tracks named in opts and rejects the rest.
func (a *app) trackHandler(src *groupSource, opts publishOptions) moqt.TrackHandler {
	names := make(map[string]bool, len(opts.tracks))
	for _, name := range opts.tracks {
		names[name] = true
	}
	return moqt.TrackHandlerFunc(func(tw *moqt.TrackWriter) {
		if !names[tw.TrackName()] {
			tw.CloseWithError(moqt.TrackNotFoundErrorCode)
			return
		}
		a.serveTrack(tw, src, opts)
	})
}

// serveTrack writes one group per tick of src until the subscriber leaves
// or its requested range is exhausted.
func (a *app) serveTrack(tw *moqt.TrackWriter, src *groupSource, opts publishOptions) {
	log := a.log.With("track", tw.TrackName(), "subscribe_id", tw.SubscribeID())
	log.Info("subscriber attached", "config", tw.Config())
	defer log.Info("subscriber detached", "cause", context.Cause(tw.Context()))

	ctx := tw.Context()
	seq := src.current()
	for {
		cfg := tw.Config()
		if seq < cfg.MinGroupSequence {
			seq = cfg.MinGroupSequence
		}
		if cfg.MaxGroupSequence != 0 && seq > cfg.MaxGroupSequence {
			tw.Close()
			return
		}
		if err := src.wait(ctx, seq); err != nil {
			return
		}
		if err := writeGroup(tw, a.pool, seq, opts); err != nil {
			log.Debug("group write failed", "group", seq, "error", err)
			if ctx.Err() != nil {
				return
			}
		}
		seq++
	}
}

const frameHeaderLen = 20

func writeGroup(tw *moqt.TrackWriter, pool *bufpool.Pool, seq uint64, opts publishOptions) error {
	gw, err := tw.OpenGroup(seq)
	if err != nil {
		return err
	}
	for i := range opts.frames {
		frame := pool.Acquire(opts.frameSize)
		binary.BigEndian.PutUint64(frame[0:], seq)
		binary.BigEndian.PutUint32(frame[8:], uint32(i))
		binary.BigEndian.PutUint64(frame[12:], uint64(time.Now().UnixMicro()))
		clear(frame[frameHeaderLen:])
		err := gw.WriteFrame(frame)
		pool.Release(frame)
		if err != nil {
			gw.CancelWrite(moqt.PublishAbortedErrorCode)
			return err
		}
	}
	return gw.Close()
}
