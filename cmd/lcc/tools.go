package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/plan"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Validate a launch plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lp, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("plan %q: %d phases, ok\n", lp.Name, len(lp.Phases))
			for i, ph := range lp.Phases {
				cmdKind := "-"
				if ph.Command != nil {
					cmdKind = string(ph.Command.Kind)
				}
				fmt.Printf("  %d. %s (entry=%d exit=%d abort=%d command=%s)\n",
					i+1, ph.Name, len(ph.Entry), len(ph.Exit), len(ph.Abort), cmdKind)
			}
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "replay <mission-id>",
		Short: "Print a mission's durable event log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := eventlog.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.Replay(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for i := range events {
				if err := enc.Encode(&events[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "lcc.db", "event store path")
	return cmd
}
