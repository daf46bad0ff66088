// Package report builds the per-round summaries and the final markdown
// audit report for a loop run.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/state"
)

// Round statuses recorded in round_summary.json.
const (
	// RoundPassed marks the round whose judge verdict was a strict pass.
	RoundPassed = "passed"
	// RoundContinued marks a failed round that produced a rewrite.
	RoundContinued = "continued"
	// RoundExhausted marks a failed round that hit the ceiling, so no
	// rewrite was attempted.
	RoundExhausted = "exhausted"
)

// SummaryFileName is the per-round summary file within a round directory.
const SummaryFileName = "round_summary.json"

// RoundSummary is the audit record of a single judge round.
type RoundSummary struct {
	Round          int         `json:"round"`
	Lane           oracle.Lane `json:"lane"`
	JudgePass      bool        `json:"judge_pass"`
	StrictPass     bool        `json:"strict_pass"`
	ProblemCount   int         `json:"problem_count"`
	Blocking       bool        `json:"blocking"`
	JudgeSummary   string      `json:"judge_summary"`
	JudgeParseMode string      `json:"judge_parse_mode"`

	// Rewrite fields are present only for continued rounds.
	RewriteParseMode string `json:"rewrite_parse_mode,omitempty"`
	RewriteSummary   string `json:"rewrite_summary,omitempty"`

	Status string `json:"status"`
}

// WriteRoundSummary persists a round summary into its round directory.
func WriteRoundSummary(roundDir string, summary *RoundSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.NewStateError("failed to encode round summary", err)
	}
	path := filepath.Join(roundDir, SummaryFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.NewStateError("failed to write round summary", err).WithDetail(path)
	}
	return nil
}

// CollectRoundSummaries reads every round summary under a run directory in
// round order. Rounds with a missing or unreadable summary are skipped so
// one damaged artifact cannot block the report.
func CollectRoundSummaries(runDir string) ([]RoundSummary, error) {
	roundDirs, err := filepath.Glob(filepath.Join(runDir, "round_*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan run directory: %w", err)
	}

	summaries := make([]RoundSummary, 0, len(roundDirs))
	for _, dir := range roundDirs {
		data, err := os.ReadFile(filepath.Join(dir, SummaryFileName))
		if err != nil {
			continue
		}
		var s RoundSummary
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Build renders the final report markdown for a run.
func Build(st *state.LoopState, runDir string, summaries []RoundSummary, approvedPlanPath string) string {
	var lines []string
	lines = append(lines, "# Plan Loop Final Report")
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("- status: `%s`", st.Status))
	lines = append(lines, fmt.Sprintf("- run_id: `%s`", st.RunID))
	lines = append(lines, fmt.Sprintf("- rounds_completed: `%d`", st.Round))
	lines = append(lines, fmt.Sprintf("- mode: `%s`", st.Mode))
	lines = append(lines, fmt.Sprintf("- current_lane: `%s`", st.CurrentLane))
	lines = append(lines, fmt.Sprintf("- started_at: `%s`", formatStamp(st.StartedAt)))
	lines = append(lines, fmt.Sprintf("- ended_at: `%s`", formatStamp(st.LastUpdatedAt)))
	lines = append(lines, "")

	if len(summaries) > 0 {
		lines = append(lines, "| Round | Lane | Judge Pass | Problems | Blocking | Summary |")
		lines = append(lines, "| --- | --- | --- | --- | --- | --- |")
		for _, item := range summaries {
			lines = append(lines, fmt.Sprintf("| %d | %s | %s | %d | %s | %s |",
				item.Round,
				item.Lane,
				strconv.FormatBool(item.JudgePass),
				item.ProblemCount,
				strconv.FormatBool(item.Blocking),
				strings.ReplaceAll(item.JudgeSummary, "|", "/"),
			))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "## Artifacts")
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("- latest_plan: `%s`", st.CurrentPlanPath))
	lines = append(lines, fmt.Sprintf("- run_dir: `%s`", runDir))
	lines = append(lines, fmt.Sprintf("- approved_plan: `%s`", approvedPlanPath))
	lines = append(lines, "")

	lines = append(lines, resultLine(st))
	lines = append(lines, "")
	lines = append(lines, "Manual review is required before implementation.")
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

// resultLine summarizes how the run ended.
func resultLine(st *state.LoopState) string {
	switch {
	case st.Status == state.StatusPassed:
		return "Result: strict pass achieved (`pass=true` and `problems=[]`)."
	case st.Status == state.StatusExhausted:
		return "Result: max rounds reached without strict pass."
	case st.Status == state.StatusAborted && st.Error == "":
		return "Result: stopped manually."
	default:
		return "Result: run ended without strict pass."
	}
}

// formatStamp renders a timestamp for the report, tolerating the zero
// value on half-initialized state.
func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteFinal builds the report for a finished run and writes it where its
// terminal status dictates: passed runs publish to final/final_report.md,
// everything else keeps the report inside the run directory so the audit
// trail survives without marking approval. Returns the path written.
func WriteFinal(layout *state.Layout, st *state.LoopState) (string, error) {
	summaries, err := CollectRoundSummaries(st.RunDir)
	if err != nil {
		return "", err
	}

	text := Build(st, st.RunDir, summaries, layout.ApprovedPlanPath())

	dest := filepath.Join(st.RunDir, "report.md")
	if st.Status == state.StatusPassed {
		dest = layout.FinalReportPath()
	}
	if err := os.WriteFile(dest, []byte(text), 0644); err != nil {
		return "", errors.NewStateError("failed to write final report", err).WithDetail(dest)
	}
	return dest, nil
}

// LatestReportPath returns the most relevant report for a plan: the
// published final report when one exists, otherwise the newest run's
// report.md, otherwise empty.
func LatestReportPath(layout *state.Layout) string {
	if _, err := os.Stat(layout.FinalReportPath()); err == nil {
		return layout.FinalReportPath()
	}

	runDirs, err := filepath.Glob(filepath.Join(layout.IterationsDir(), "run_*"))
	if err != nil || len(runDirs) == 0 {
		return ""
	}
	for i := len(runDirs) - 1; i >= 0; i-- {
		candidate := filepath.Join(runDirs[i], "report.md")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
