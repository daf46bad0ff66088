package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/loop"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <plan.md>",
	Short: "Resume an interrupted loop run",
	Long: `Resume the run recorded for a plan after a stop, crash, or abort.

The run picks up at its recorded round with its original mode, round
ceiling, and lane. Passed and exhausted runs are complete and cannot
be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResumeRun,
}

var resumeModel string

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeModel, "model", "", "model passed to the oracle backend (default: oracle.model from config)")
}

func runResumeRun(cmd *cobra.Command, args []string) error {
	return executeLoop(args[0], loop.RunOptions{
		Model:  resumeModel,
		Resume: true,
	})
}
