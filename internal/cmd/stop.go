package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/state"
)

var stopCmd = &cobra.Command{
	Use:   "stop <plan.md>",
	Short: "Request a graceful stop of a running loop",
	Long: `Request a graceful stop of the loop running over a plan.

The request is recorded in the persisted state. The running loop checks
it between oracle calls and during manual waits, winds down cleanly,
and leaves the run resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	planPath, err := plan.Resolve(args[0])
	if err != nil {
		return err
	}

	store := state.NewStore(state.NewLayout(planPath), nil)
	if err := store.RequestStop(); err != nil {
		return err
	}

	fmt.Println("Stop requested. The loop will halt at its next checkpoint.")
	return nil
}
