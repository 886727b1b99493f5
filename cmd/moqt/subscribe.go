package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/moqt/moqt"
)

func subscribeCmd(configPath *string) *cobra.Command {
	var cfg moqt.SubscribeConfig
	var priority uint8

	cmd := &cobra.Command{
		Use:   "subscribe <path> <track>",
		Short: "Receive a track and print one line per group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			cfg.TrackPriority = priority
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.subscribe(ctx, cmd.OutOrStdout(), args[0], args[1], cfg)
			})
		},
	}

	cmd.Flags().Uint8Var(&priority, "priority", 0, "track priority")
	cmd.Flags().Uint64Var(&cfg.MinGroupSequence, "min", 0, "first group sequence wanted")
	cmd.Flags().Uint64Var(&cfg.MaxGroupSequence, "max", 0, "last group sequence wanted (0 = unbounded)")

	return cmd
}

func (a *app) subscribe(ctx context.Context, out io.Writer, path, name string, cfg moqt.SubscribeConfig) error {
	sess, err := a.dial(ctx, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	go a.logRemoteInfo(ctx, sess)

	tr, err := sess.Subscribe(ctx, path, name, &cfg)
	if err != nil {
		return fmt.Errorf("subscribe %s %s: %w", path, name, err)
	}
	defer tr.Close()
	a.log.Info("subscribed", "path", path, "track", name, "subscribe_id", tr.SubscribeID())

	for {
		g, err := tr.AcceptGroup(ctx)
		if err != nil {
			if errors.Is(err, moqt.ErrClosedTrack) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept group: %w", err)
		}
		stats, err := readGroup(g)
		if err != nil {
			a.log.Debug("group ended early", "group", g.GroupSequence(), "error", err)
		}
		fmt.Fprintf(out, "group %d: %d frames, %d bytes, latency %v\n",
			g.GroupSequence(), stats.frames, stats.bytes, stats.latency.Round(time.Microsecond))
	}
}

type groupStats struct {
	frames  int
	bytes   int
	latency time.Duration
}

// readGroup drains g. Latency is measured on the first frame carrying a
// publisher timestamp.
func readGroup(g *moqt.GroupReader) (groupStats, error) {
	var st groupStats
	for {
		frame, err := g.ReadFrame()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		if st.frames == 0 && len(frame) >= frameHeaderLen {
			sent := time.UnixMicro(int64(binary.BigEndian.Uint64(frame[12:])))
			st.latency = time.Since(sent)
		}
		st.frames++
		st.bytes += len(frame)
	}
}

func (a *app) logRemoteInfo(ctx context.Context, sess *moqt.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Context().Done():
			return
		case <-sess.RemoteUpdated():
			a.log.Info("peer bitrate updated", "session", sess.ID(), "bitrate", sess.RemoteInfo().Bitrate)
		}
	}
}
