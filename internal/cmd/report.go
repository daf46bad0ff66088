package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/report"
	"github.com/Iron-Ham/planloop/internal/state"
)

var reportCmd = &cobra.Command{
	Use:   "report <plan.md>",
	Short: "Show the latest audit report for a plan",
	Long: `Show the latest audit report for a plan.

A passed run publishes its report next to the approved plan; exhausted
and aborted runs leave report.md in their run directory. The newest of
these is rendered as formatted markdown when stdout is a terminal and
passed through raw otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	planPath, err := plan.Resolve(args[0])
	if err != nil {
		return err
	}

	path := report.LatestReportPath(state.NewLayout(planPath))
	if path == "" {
		fmt.Println("No report yet. The loop writes one when a run ends.")
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	fmt.Print(renderMarkdown(string(content)))
	return nil
}

// renderMarkdown formats markdown for terminal display. Piped output and
// renderer failures fall back to the raw text.
func renderMarkdown(content string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
