package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "moqt",
		Short: "Publish, subscribe to and watch MOQT broadcasts",
		Long: `moqt speaks the MOQT session protocol over QUIC.

  publish    serve a generated track to subscribers
  subscribe  receive groups of a track from a publisher
  announce   list and follow the broadcast paths of a publisher

Settings come from the --config YAML file, then MOQT_ADDR,
MOQT_INSECURE, MOQT_FINGERPRINT, MOQT_METRICS_ADDR and DEBUG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(
		publishCmd(&configPath),
		subscribeCmd(&configPath),
		announceCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moqt %s (%s)\n", version, commit)
		},
	}
}
