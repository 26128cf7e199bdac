package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate routes tool invocations to registered executors",
	Long: `toolgate is a gateway for tool invocations. It exposes a JSON-RPC 2.0
surface over HTTP and a WebSocket surface for live events, guarded by
API keys with sliding-window rate limits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI; called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
