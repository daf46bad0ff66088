package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <plan.md>",
	Short: "Live dashboard over a plan's loop state",
	Long: `Open a live dashboard that follows the persisted loop state for a
plan: status, round progress, the last verdict, and recent fixes. The
view refreshes twice a second and picks up runs started after it
opened.

Press q to quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return tui.Watch(args[0])
}
