package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func announceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "announce [prefix]",
		Short: "Print the broadcast paths under a prefix as they start and end",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := "/"
			if len(args) == 1 {
				prefix = args[0]
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.announce(ctx, cmd.OutOrStdout(), prefix)
			})
		},
	}
}

func (a *app) announce(ctx context.Context, out io.Writer, prefix string) error {
	sess, err := a.dial(ctx, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	ar, err := sess.OpenAnnounceStream(ctx, prefix)
	if err != nil {
		return fmt.Errorf("announce %s: %w", prefix, err)
	}
	defer ar.Close()

	for {
		ann, err := ar.ReceiveAnnouncement(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive announcement: %w", err)
		}
		mark := "-"
		if ann.Active {
			mark = "+"
		}
		fmt.Fprintf(out, "%s %s\n", mark, ann.BroadcastPath)
	}
}
