package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/report"
	"github.com/Iron-Ham/planloop/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <plan.md>",
	Short: "Show the persisted loop state for a plan",
	Long:  `Display the recorded run, round progress, last verdict, and recent fixes for a plan's loop.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	planPath, err := plan.Resolve(args[0])
	if err != nil {
		return err
	}
	layout := state.NewLayout(planPath)

	st, err := state.NewStore(layout, nil).Load()
	if errors.Is(err, errors.ErrStateNotFound) {
		fmt.Println("No loop state for this plan")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Plan: %s\n", st.PlanPath)
	fmt.Printf("Run: %s\n", st.RunID)
	fmt.Printf("Status: %s\n", st.Status)
	fmt.Printf("Mode: %s (%s lane)\n", st.Mode, st.CurrentLane)
	if st.NoCap {
		fmt.Printf("Round: %d (uncapped)\n", st.Round)
	} else {
		fmt.Printf("Round: %d / %d\n", st.Round, st.MaxRounds)
	}
	fmt.Printf("Started: %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated: %s\n", st.LastUpdatedAt.Format("2006-01-02 15:04:05"))

	if lock, held := state.IsLocked(layout); held {
		fmt.Printf("Process: running (pid %d)\n", lock.PID)
	}
	if st.StopRequested && st.Status == state.StatusRunning {
		fmt.Println("Stop: requested")
	}
	if st.Error != "" {
		fmt.Printf("Error: %s\n", st.Error)
	}

	if v := st.LastResult; v != nil {
		if v.Pass {
			fmt.Println("\nLast verdict: pass")
		} else {
			fmt.Printf("\nLast verdict: fail, %d problem(s)", len(v.Problems))
			if v.Blocking {
				fmt.Print(", blocking")
			}
			fmt.Println()
		}
		if v.Summary != "" {
			fmt.Printf("  %s\n", v.Summary)
		}
	}

	if len(st.FixHistory) > 0 {
		fmt.Printf("\nApplied fixes: %d\n", len(st.FixHistory))
		fixes := st.FixHistory
		if len(fixes) > 5 {
			fixes = fixes[len(fixes)-5:]
		}
		for _, fix := range fixes {
			fmt.Printf("  - %s\n", fix)
		}
	}

	if st.ApprovedPlanPath != "" {
		fmt.Printf("\nApproved plan: %s\n", st.ApprovedPlanPath)
	}
	if path := report.LatestReportPath(layout); path != "" {
		fmt.Printf("Report: %s\n", path)
	}

	return nil
}
