package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/config"
	"github.com/Iron-Ham/planloop/internal/loop"
)

var runCmd = &cobra.Command{
	Use:   "run <plan.md>",
	Short: "Run the judge/rewrite loop over a plan",
	Long: `Run the judge/rewrite loop over a plan until it reaches a terminal
status.

Each round re-reads the newest plan text, asks the judge for a verdict,
and on a failing verdict asks the rewrite step for a revised plan. The
loop ends when a verdict reports zero problems (passed), when the round
ceiling is reached (exhausted), or on a stop request, interrupt, or
fatal error (aborted).

Exit codes: 0 passed, 2 exhausted, 3 aborted, 130 aborted by an
interrupt or stop request, 1 usage and configuration errors.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runMode      string
	runMaxRounds int
	runNoCap     bool
	runModel     string
	runResume    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "invocation mode: auto, hybrid, or manual (default: loop.mode from config)")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "round ceiling before the loop gives up (default: loop.max_rounds from config)")
	runCmd.Flags().BoolVar(&runNoCap, "no-cap", false, "ignore the round ceiling and loop until a terminal verdict")
	runCmd.Flags().StringVar(&runModel, "model", "", "model passed to the oracle backend (default: oracle.model from config)")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume the interrupted run recorded for this plan")
}

func runRun(cmd *cobra.Command, args []string) error {
	return executeLoop(args[0], loop.RunOptions{
		Mode:      runMode,
		MaxRounds: runMaxRounds,
		NoCap:     runNoCap,
		Model:     runModel,
		Resume:    runResume,
	})
}

// executeLoop loads the configuration, arms signal cancellation, and
// drives the loop to a terminal status. Outcomes land in the process
// exit code; errors returned here happened before the loop started.
func executeLoop(planPath string, opts loop.RunOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	opts.PlanPath = planPath
	opts.Config = cfg
	opts.Progress = os.Stdout

	outcome, err := loop.Run(ctx, opts)
	if err != nil {
		return err
	}

	exitCode = outcome.ExitCode()
	return nil
}
