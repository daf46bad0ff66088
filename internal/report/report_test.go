package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/state"
)

func testState(status state.Status) *state.LoopState {
	return &state.LoopState{
		RunID:           "run_20260301_041530",
		PlanPath:        "/work/plan.md",
		RunDir:          "/work/.plan_loop/iterations/run_20260301_041530",
		Round:           2,
		Mode:            "hybrid",
		CurrentLane:     oracle.LaneAuto,
		MaxRounds:       999,
		Status:          status,
		CurrentPlanPath: "/work/.plan_loop/iterations/run_20260301_041530/round_0002/revised_plan.md",
		StartedAt:       time.Date(2026, 3, 1, 4, 15, 30, 0, time.UTC),
		LastUpdatedAt:   time.Date(2026, 3, 1, 4, 22, 10, 0, time.UTC),
	}
}

func writeSummary(t *testing.T, runDir string, s *RoundSummary) {
	t.Helper()

	roundDir := filepath.Join(runDir, fmt.Sprintf("round_%04d", s.Round))
	if err := os.MkdirAll(roundDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := WriteRoundSummary(roundDir, s); err != nil {
		t.Fatalf("WriteRoundSummary() error = %v", err)
	}
}

func TestWriteRoundSummary_AndCollect(t *testing.T) {
	runDir := t.TempDir()

	writeSummary(t, runDir, &RoundSummary{
		Round:          1,
		Lane:           oracle.LaneAuto,
		JudgePass:      false,
		ProblemCount:   2,
		Blocking:       true,
		JudgeSummary:   "missing rollback",
		JudgeParseMode: "auto-strict",
		Status:         RoundContinued,
	})
	writeSummary(t, runDir, &RoundSummary{
		Round:          2,
		Lane:           oracle.LaneAuto,
		JudgePass:      true,
		StrictPass:     true,
		JudgeSummary:   "clean",
		JudgeParseMode: "auto-strict",
		Status:         RoundPassed,
	})

	summaries, err := CollectRoundSummaries(runDir)
	if err != nil {
		t.Fatalf("CollectRoundSummaries() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if summaries[0].Round != 1 || summaries[1].Round != 2 {
		t.Errorf("rounds out of order: %d, %d", summaries[0].Round, summaries[1].Round)
	}
	if summaries[0].Status != RoundContinued || summaries[1].Status != RoundPassed {
		t.Errorf("statuses = %q, %q", summaries[0].Status, summaries[1].Status)
	}
}

func TestCollectRoundSummaries_SkipsDamaged(t *testing.T) {
	runDir := t.TempDir()

	writeSummary(t, runDir, &RoundSummary{Round: 1, Status: RoundContinued})

	// Round two has a corrupt summary, round three none at all.
	badDir := filepath.Join(runDir, "round_0002")
	if err := os.MkdirAll(badDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, SummaryFileName), []byte("{oops"), 0644); err != nil {
		t.Fatalf("writing corrupt summary: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(runDir, "round_0003"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	writeSummary(t, runDir, &RoundSummary{Round: 4, Status: RoundPassed})

	summaries, err := CollectRoundSummaries(runDir)
	if err != nil {
		t.Fatalf("CollectRoundSummaries() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if summaries[0].Round != 1 || summaries[1].Round != 4 {
		t.Errorf("rounds = %d, %d; want 1, 4", summaries[0].Round, summaries[1].Round)
	}
}

func TestBuild_Passed(t *testing.T) {
	st := testState(state.StatusPassed)
	summaries := []RoundSummary{
		{
			Round: 1, Lane: oracle.LaneAuto, JudgePass: false, ProblemCount: 2,
			Blocking: true, JudgeSummary: "missing rollback", Status: RoundContinued,
		},
		{
			Round: 2, Lane: oracle.LaneAuto, JudgePass: true, StrictPass: true,
			JudgeSummary: "clean", Status: RoundPassed,
		},
	}

	text := Build(st, st.RunDir, summaries, "/work/.plan_loop/final/approved_plan.md")

	for _, want := range []string{
		"# Plan Loop Final Report",
		"- status: `passed`",
		"- run_id: `run_20260301_041530`",
		"- rounds_completed: `2`",
		"- mode: `hybrid`",
		"- current_lane: `auto`",
		"- started_at: `2026-03-01T04:15:30Z`",
		"- ended_at: `2026-03-01T04:22:10Z`",
		"| Round | Lane | Judge Pass | Problems | Blocking | Summary |",
		"| 1 | auto | false | 2 | true | missing rollback |",
		"| 2 | auto | true | 0 | false | clean |",
		"## Artifacts",
		"- latest_plan: `/work/.plan_loop/iterations/run_20260301_041530/round_0002/revised_plan.md`",
		"- approved_plan: `/work/.plan_loop/final/approved_plan.md`",
		"Result: strict pass achieved (`pass=true` and `problems=[]`).",
		"Manual review is required before implementation.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q\nreport:\n%s", want, text)
		}
	}

	if !strings.HasSuffix(text, "Manual review is required before implementation.\n") {
		t.Errorf("report does not end with the review line and newline")
	}
}

func TestBuild_ResultLines(t *testing.T) {
	aborted := testState(state.StatusAborted)
	abortedWithError := testState(state.StatusAborted)
	abortedWithError.Error = "oracle call timed out"
	running := testState(state.StatusRunning)

	tests := []struct {
		name string
		st   *state.LoopState
		want string
	}{
		{"exhausted", testState(state.StatusExhausted), "Result: max rounds reached without strict pass."},
		{"aborted by stop", aborted, "Result: stopped manually."},
		{"aborted by error", abortedWithError, "Result: run ended without strict pass."},
		{"still running", running, "Result: run ended without strict pass."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := Build(tt.st, tt.st.RunDir, nil, "")
			if !strings.Contains(text, tt.want) {
				t.Errorf("report missing %q", tt.want)
			}
		})
	}
}

func TestBuild_NoRoundsOmitsTable(t *testing.T) {
	st := testState(state.StatusAborted)
	text := Build(st, st.RunDir, nil, "")

	if strings.Contains(text, "| Round |") {
		t.Error("report has a round table with no summaries")
	}
	if !strings.Contains(text, "## Artifacts") {
		t.Error("report missing artifacts section")
	}
}

func TestBuild_EscapesPipesInSummary(t *testing.T) {
	st := testState(state.StatusExhausted)
	summaries := []RoundSummary{
		{Round: 1, Lane: oracle.LaneManual, JudgeSummary: "either | or", Status: RoundContinued},
	}

	text := Build(st, st.RunDir, summaries, "")
	if !strings.Contains(text, "| either / or |") {
		t.Errorf("pipe in judge summary not escaped:\n%s", text)
	}
}

func TestWriteFinal_Destinations(t *testing.T) {
	tests := []struct {
		name      string
		status    state.Status
		wantFinal bool
	}{
		{"passed goes to final dir", state.StatusPassed, true},
		{"exhausted stays in run dir", state.StatusExhausted, false},
		{"aborted stays in run dir", state.StatusAborted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			layout := state.NewLayout(filepath.Join(dir, "plan.md"))
			if err := layout.Ensure(); err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}

			st := testState(tt.status)
			st.RunDir = layout.RunDir(st.RunID)
			if err := os.MkdirAll(st.RunDir, 0755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}

			dest, err := WriteFinal(layout, st)
			if err != nil {
				t.Fatalf("WriteFinal() error = %v", err)
			}

			want := filepath.Join(st.RunDir, "report.md")
			if tt.wantFinal {
				want = layout.FinalReportPath()
			}
			if dest != want {
				t.Errorf("dest = %q, want %q", dest, want)
			}

			data, err := os.ReadFile(dest)
			if err != nil {
				t.Fatalf("reading report: %v", err)
			}
			if !strings.Contains(string(data), "# Plan Loop Final Report") {
				t.Error("written report missing title")
			}
		})
	}
}

func TestLatestReportPath(t *testing.T) {
	dir := t.TempDir()
	layout := state.NewLayout(filepath.Join(dir, "plan.md"))
	if err := layout.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if got := LatestReportPath(layout); got != "" {
		t.Errorf("LatestReportPath() = %q with no reports", got)
	}

	// An exhausted run leaves its report in the run directory.
	oldRun := layout.RunDir("run_20260301_041530")
	newRun := layout.RunDir("run_20260302_090000")
	for _, d := range []string{oldRun, newRun} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(oldRun, "report.md"), []byte("old"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, want := LatestReportPath(layout), filepath.Join(oldRun, "report.md"); got != want {
		t.Errorf("LatestReportPath() = %q, want %q", got, want)
	}

	// A newer run's report shadows the older one.
	if err := os.WriteFile(filepath.Join(newRun, "report.md"), []byte("new"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, want := LatestReportPath(layout), filepath.Join(newRun, "report.md"); got != want {
		t.Errorf("LatestReportPath() = %q, want %q", got, want)
	}

	// The published final report wins over run-dir reports.
	if err := os.WriteFile(layout.FinalReportPath(), []byte("final"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := LatestReportPath(layout); got != layout.FinalReportPath() {
		t.Errorf("LatestReportPath() = %q, want final report", got)
	}
}
