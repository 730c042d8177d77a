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
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "saintlive",
		Short: "Realtime feed server for the Saint Community platform",
		Long: `saintlive is the realtime backbone of the Saint Community
reporting platform.

It serves the WebSocket feed that keeps member and leader dashboards
live: daily report submissions, field-level draft monitoring, events,
birthdays, and membership changes, with periodic reconciliation so no
client stays stale.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
