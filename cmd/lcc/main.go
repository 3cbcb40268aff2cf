// Package main implements the Launch Control Container entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the container version reported by serve and /health.
const Version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:   "lcc",
		Short: "Launch Control Container",
		Long: `lcc drives a staged vehicle through a scripted launch sequence:
it polls telemetry, evaluates abort conditions, issues phase commands, and
records a durable, replayable mission event log.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newReplayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
