package loop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/persona"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/report"
	"github.com/Iron-Ham/planloop/internal/state"
)

const loopPlanText = "# Ship Widget\n\nBuild and ship the widget.\n\n## Acceptance Criteria\n1. Widget ships.\n"

// scriptStep is one scripted oracle response. Exactly one of verdict,
// rewrite, or err should be set.
type scriptStep struct {
	verdict *oracle.JudgeVerdict
	rewrite *oracle.RewriteResult
	err     error
	lane    oracle.Lane
}

// scriptedInvoker plays back a fixed sequence of oracle responses and
// records every request it sees.
type scriptedInvoker struct {
	steps       []scriptStep
	calls       []oracle.Request
	afterInvoke func(req oracle.Request)
}

func (s *scriptedInvoker) Invoke(_ context.Context, req oracle.Request) (*oracle.Response, error) {
	s.calls = append(s.calls, req)
	if s.afterInvoke != nil {
		defer s.afterInvoke(req)
	}
	if len(s.calls) > len(s.steps) {
		return nil, fmt.Errorf("unexpected oracle call %d: phase=%s round=%d", len(s.calls), req.Phase, req.Round)
	}

	step := s.steps[len(s.calls)-1]
	if step.err != nil {
		return nil, step.err
	}

	var payload any
	switch req.Phase {
	case oracle.PhaseJudge:
		payload = step.verdict
	case oracle.PhaseRewrite:
		payload = step.rewrite
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	lane := step.lane
	if lane == "" {
		lane = oracle.LaneAuto
	}
	return &oracle.Response{Body: body, Raw: string(body), ParseMode: "direct", Lane: lane}, nil
}

func passVerdict(summary string) *oracle.JudgeVerdict {
	return &oracle.JudgeVerdict{Pass: true, Summary: summary, Problems: []oracle.Problem{}}
}

func failVerdict(problems int) *oracle.JudgeVerdict {
	v := &oracle.JudgeVerdict{
		Pass:                false,
		Blocking:            true,
		Summary:             "plan has gaps",
		RewriteInstructions: []string{"close the gaps"},
	}
	for i := 0; i < problems; i++ {
		v.Problems = append(v.Problems, oracle.Problem{
			Severity:    "high",
			Description: fmt.Sprintf("gap %d", i+1),
			Blocking:    true,
		})
	}
	return v
}

func rewriteResult(body string, fixes ...string) *oracle.RewriteResult {
	return &oracle.RewriteResult{
		RevisedPlanMarkdown: body,
		AppliedFixes:        fixes,
		Summary:             "tightened the plan",
	}
}

type loopFixture struct {
	layout  *state.Layout
	store   *state.Store
	st      *state.LoopState
	obj     *plan.ObjectiveSnapshot
	invoker *scriptedInvoker
	out     *bytes.Buffer
}

func newLoopFixture(t *testing.T, mode string, maxRounds int, noCap bool, steps []scriptStep) *loopFixture {
	t.Helper()

	planPath := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(planPath, []byte(loopPlanText), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	layout := state.NewLayout(planPath)
	if err := layout.Ensure(); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	store := state.NewStore(layout, nil)

	runID := "run_20260301_041530"
	runDir := layout.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		t.Fatalf("create run dir: %v", err)
	}

	st := state.NewRunState(state.RunParams{
		PlanPath:  planPath,
		Mode:      mode,
		MaxRounds: maxRounds,
		NoCap:     noCap,
	}, runID, runDir, time.Now())
	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	obj := plan.BuildObjectiveSnapshot(loopPlanText)
	if err := store.SaveObjective(obj); err != nil {
		t.Fatalf("SaveObjective() error: %v", err)
	}

	return &loopFixture{
		layout:  layout,
		store:   store,
		st:      st,
		obj:     obj,
		invoker: &scriptedInvoker{steps: steps},
		out:     &bytes.Buffer{},
	}
}

func (f *loopFixture) controller(t *testing.T) *Controller {
	t.Helper()

	personas, err := persona.Load("")
	if err != nil {
		t.Fatalf("persona.Load() error: %v", err)
	}
	return NewController(Options{
		Store:    f.store,
		Invoker:  f.invoker,
		Prompts:  persona.NewBuilder(personas, 8),
		Progress: f.out,
	})
}

func (f *loopFixture) run(t *testing.T) *Outcome {
	t.Helper()
	return f.controller(t).Run(context.Background(), f.st, f.obj)
}

func (f *loopFixture) reload(t *testing.T) *state.LoopState {
	t.Helper()
	st, err := f.store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return st
}

func (f *loopFixture) roundDir(round int) string {
	return f.layout.RoundDir(f.st.RunDir, round)
}

func requireFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected artifact %s: %v", path, err)
	}
	return string(data)
}

func readSummary(t *testing.T, roundDir string) report.RoundSummary {
	t.Helper()
	data := requireFile(t, filepath.Join(roundDir, report.SummaryFileName))
	var s report.RoundSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		t.Fatalf("parse round summary: %v", err)
	}
	return s
}

func TestController_PassFirstRound(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, []scriptStep{
		{verdict: passVerdict("plan is sound")},
	})
	origMarker := f.st.SessionID

	out := f.run(t)

	if out.Status != state.StatusPassed {
		t.Fatalf("status = %s, want %s", out.Status, state.StatusPassed)
	}
	if out.Round != 1 {
		t.Errorf("round = %d, want 1", out.Round)
	}
	if got := out.ExitCode(); got != ExitPassed {
		t.Errorf("ExitCode() = %d, want %d", got, ExitPassed)
	}
	if len(f.invoker.calls) != 1 {
		t.Fatalf("oracle calls = %d, want 1", len(f.invoker.calls))
	}
	if f.invoker.calls[0].Phase != oracle.PhaseJudge {
		t.Errorf("call phase = %s, want %s", f.invoker.calls[0].Phase, oracle.PhaseJudge)
	}
	if f.invoker.calls[0].Round != 1 {
		t.Errorf("call round = %d, want 1", f.invoker.calls[0].Round)
	}

	approved := requireFile(t, f.layout.ApprovedPlanPath())
	if approved != loopPlanText {
		t.Errorf("approved plan = %q, want original text", approved)
	}
	if out.ApprovedPlanPath != f.layout.ApprovedPlanPath() {
		t.Errorf("ApprovedPlanPath = %s, want %s", out.ApprovedPlanPath, f.layout.ApprovedPlanPath())
	}
	if out.ReportPath != f.layout.FinalReportPath() {
		t.Errorf("ReportPath = %s, want %s", out.ReportPath, f.layout.FinalReportPath())
	}
	reportText := requireFile(t, out.ReportPath)
	if !strings.Contains(reportText, "Result: strict pass achieved") {
		t.Errorf("final report missing pass result line:\n%s", reportText)
	}

	roundDir := f.roundDir(1)
	requireFile(t, filepath.Join(roundDir, "input_plan.md"))
	requireFile(t, filepath.Join(roundDir, "judge_prompt.md"))
	requireFile(t, filepath.Join(roundDir, "judge_result.json"))
	summary := readSummary(t, roundDir)
	if summary.Status != report.RoundPassed {
		t.Errorf("summary status = %s, want %s", summary.Status, report.RoundPassed)
	}
	if !summary.StrictPass {
		t.Error("summary strict_pass = false, want true")
	}

	st := f.reload(t)
	if st.Status != state.StatusPassed {
		t.Errorf("persisted status = %s, want passed", st.Status)
	}
	if st.Round != 1 {
		t.Errorf("persisted round = %d, want 1", st.Round)
	}
	if st.ApprovedPlanPath != f.layout.ApprovedPlanPath() {
		t.Errorf("persisted approved path = %s", st.ApprovedPlanPath)
	}
	if st.LastResult == nil || !st.LastResult.Pass {
		t.Error("persisted last_result should record the passing verdict")
	}
	if st.SessionID == "" || st.SessionID == origMarker {
		t.Error("exchange should mint a fresh session marker")
	}

	progress := f.out.String()
	for _, want := range []string{
		"[plan-loop] started",
		"mode=hybrid, no_cap=false, max_rounds=999",
		"[round 1] judging...",
		"[plan-loop] completed",
		"[plan-loop] status=passed",
		"CROSS-CHECK DONE: no remaining plan problems.",
		"Manual review required before implementation.",
	} {
		if !strings.Contains(progress, want) {
			t.Errorf("progress output missing %q:\n%s", want, progress)
		}
	}
}

func TestController_ExhaustsAtMaxRounds(t *testing.T) {
	f := newLoopFixture(t, "auto", 3, false, []scriptStep{
		{verdict: failVerdict(2)},
		{rewrite: rewriteResult("# Ship Widget\n\nRevision one.", "fix 1")},
		{verdict: failVerdict(1)},
		{rewrite: rewriteResult("# Ship Widget\n\nRevision two.", "fix 2")},
		{verdict: failVerdict(1)},
	})

	out := f.run(t)

	if out.Status != state.StatusExhausted {
		t.Fatalf("status = %s, want %s", out.Status, state.StatusExhausted)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, want nil", out.Err)
	}
	if got := out.ExitCode(); got != ExitExhausted {
		t.Errorf("ExitCode() = %d, want %d", got, ExitExhausted)
	}

	wantCalls := []struct {
		phase oracle.Phase
		round int
	}{
		{oracle.PhaseJudge, 1},
		{oracle.PhaseRewrite, 1},
		{oracle.PhaseJudge, 2},
		{oracle.PhaseRewrite, 2},
		{oracle.PhaseJudge, 3},
	}
	if len(f.invoker.calls) != len(wantCalls) {
		t.Fatalf("oracle calls = %d, want %d", len(f.invoker.calls), len(wantCalls))
	}
	for i, want := range wantCalls {
		got := f.invoker.calls[i]
		if got.Phase != want.phase || got.Round != want.round {
			t.Errorf("call %d = %s round %d, want %s round %d", i, got.Phase, got.Round, want.phase, want.round)
		}
	}

	// The final budgeted round fails without a rewrite.
	lastRound := f.roundDir(3)
	if _, err := os.Stat(filepath.Join(lastRound, "rewrite_prompt.md")); !os.IsNotExist(err) {
		t.Error("round 3 should not run a rewrite")
	}
	summary := readSummary(t, lastRound)
	if summary.Status != report.RoundExhausted {
		t.Errorf("round 3 summary status = %s, want %s", summary.Status, report.RoundExhausted)
	}
	for round, wantStatus := range map[int]string{1: report.RoundContinued, 2: report.RoundContinued} {
		if got := readSummary(t, f.roundDir(round)).Status; got != wantStatus {
			t.Errorf("round %d summary status = %s, want %s", round, got, wantStatus)
		}
	}

	st := f.reload(t)
	if st.Status != state.StatusExhausted {
		t.Errorf("persisted status = %s, want exhausted", st.Status)
	}
	if st.Round != 3 {
		t.Errorf("persisted round = %d, want 3", st.Round)
	}
	wantPlan := filepath.Join(f.roundDir(2), "revised_plan.md")
	if st.CurrentPlanPath != wantPlan {
		t.Errorf("current plan = %s, want %s", st.CurrentPlanPath, wantPlan)
	}
	if revised := requireFile(t, wantPlan); revised != "# Ship Widget\n\nRevision two.\n" {
		t.Errorf("revised plan = %q", revised)
	}
	if len(st.FixHistory) != 2 || st.FixHistory[0] != "fix 1" || st.FixHistory[1] != "fix 2" {
		t.Errorf("fix history = %v", st.FixHistory)
	}

	if _, err := os.Stat(f.layout.ApprovedPlanPath()); !os.IsNotExist(err) {
		t.Error("exhausted run must not publish an approved plan")
	}
	if _, err := os.Stat(f.layout.FinalReportPath()); !os.IsNotExist(err) {
		t.Error("exhausted run must not write the final report location")
	}
	reportText := requireFile(t, filepath.Join(f.st.RunDir, "report.md"))
	if !strings.Contains(reportText, "Result: max rounds reached without strict pass.") {
		t.Errorf("report missing exhaustion result line:\n%s", reportText)
	}
	if !strings.Contains(f.out.String(), "Loop reached max rounds. Manual tie-breaker required.") {
		t.Error("progress output missing tie-breaker notice")
	}
}

func TestController_RewriteThenPass(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, []scriptStep{
		{verdict: failVerdict(1)},
		{rewrite: rewriteResult("# Ship Widget\n\nNow with rollback.", "added rollback")},
		{verdict: passVerdict("ready")},
	})

	out := f.run(t)

	if out.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed", out.Status)
	}
	if out.Round != 2 {
		t.Errorf("round = %d, want 2", out.Round)
	}

	// Round two judges the revision, so the approved plan is the revised
	// text with the trailing newline the revision file carries.
	approved := requireFile(t, f.layout.ApprovedPlanPath())
	if approved != "# Ship Widget\n\nNow with rollback.\n" {
		t.Errorf("approved plan = %q", approved)
	}

	inputTwo := requireFile(t, filepath.Join(f.roundDir(2), "input_plan.md"))
	if inputTwo != approved {
		t.Errorf("round 2 input = %q, want the revised text", inputTwo)
	}

	st := f.reload(t)
	if len(st.FixHistory) != 1 || st.FixHistory[0] != "added rollback" {
		t.Errorf("fix history = %v", st.FixHistory)
	}
}

func TestController_NoCapIgnoresCeiling(t *testing.T) {
	f := newLoopFixture(t, "auto", 1, true, []scriptStep{
		{verdict: failVerdict(1)},
		{rewrite: rewriteResult("rev one")},
		{verdict: failVerdict(1)},
		{rewrite: rewriteResult("rev two")},
		{verdict: passVerdict("done")},
	})

	out := f.run(t)

	if out.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed despite max_rounds=1", out.Status)
	}
	if out.Round != 3 {
		t.Errorf("round = %d, want 3", out.Round)
	}
}

func TestController_ResumedRunAtCeilingExhausts(t *testing.T) {
	f := newLoopFixture(t, "auto", 3, false, nil)
	f.st.Round = 3

	out := f.run(t)

	if out.Status != state.StatusExhausted {
		t.Fatalf("status = %s, want exhausted", out.Status)
	}
	if len(f.invoker.calls) != 0 {
		t.Errorf("oracle calls = %d, want 0", len(f.invoker.calls))
	}
	requireFile(t, filepath.Join(f.st.RunDir, "report.md"))
}

func TestController_ContradictoryVerdictAborts(t *testing.T) {
	contradictory := passVerdict("fine")
	contradictory.Problems = []oracle.Problem{{Severity: "low", Description: "leftover"}}

	f := newLoopFixture(t, "auto", 999, false, []scriptStep{{verdict: contradictory}})

	out := f.run(t)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if !errors.Is(out.Err, errors.ErrOracleMalformed) {
		t.Errorf("Err = %v, want ErrOracleMalformed", out.Err)
	}
	if got := out.ExitCode(); got != ExitAborted {
		t.Errorf("ExitCode() = %d, want %d", got, ExitAborted)
	}

	st := f.reload(t)
	if st.Error == "" {
		t.Error("persisted error should record the failure")
	}
	if !strings.Contains(f.out.String(), "[plan-loop] aborted:") {
		t.Error("progress output missing abort notice")
	}
}

func TestController_EmptyRewriteAborts(t *testing.T) {
	f := newLoopFixture(t, "auto", 999, false, []scriptStep{
		{verdict: failVerdict(1)},
		{rewrite: rewriteResult("   \n\t")},
	})

	out := f.run(t)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if !errors.Is(out.Err, errors.ErrEmptyRewrite) {
		t.Errorf("Err = %v, want ErrEmptyRewrite", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "round 1") {
		t.Errorf("Err = %v, want round number in message", out.Err)
	}
	if got := out.ExitCode(); got != ExitAborted {
		t.Errorf("ExitCode() = %d, want %d", got, ExitAborted)
	}
}

func TestController_OracleFailureAborts(t *testing.T) {
	f := newLoopFixture(t, "auto", 999, false, []scriptStep{
		{err: errors.NewOracleError("oracle binary missing", errors.ErrOracleUnavailable)},
	})

	out := f.run(t)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if !errors.Is(out.Err, errors.ErrOracleUnavailable) {
		t.Errorf("Err = %v, want ErrOracleUnavailable", out.Err)
	}
	st := f.reload(t)
	if st.Error == "" {
		t.Error("persisted error should record the failure")
	}
	reportText := requireFile(t, filepath.Join(f.st.RunDir, "report.md"))
	if !strings.Contains(reportText, "Result: run ended without strict pass.") {
		t.Errorf("report missing abort result line:\n%s", reportText)
	}
}

func TestController_StopRequestBeforeFirstRound(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, nil)
	if err := f.store.RequestStop(); err != nil {
		t.Fatalf("RequestStop() error: %v", err)
	}

	out := f.run(t)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if !errors.Is(out.Err, errors.ErrCancelled) {
		t.Errorf("Err = %v, want ErrCancelled", out.Err)
	}
	if got := out.ExitCode(); got != ExitInterrupted {
		t.Errorf("ExitCode() = %d, want %d", got, ExitInterrupted)
	}
	if len(f.invoker.calls) != 0 {
		t.Errorf("oracle calls = %d, want 0", len(f.invoker.calls))
	}

	st := f.reload(t)
	if st.Error != "" {
		t.Errorf("a stop is not a failure, got error %q", st.Error)
	}
	reportText := requireFile(t, filepath.Join(f.st.RunDir, "report.md"))
	if !strings.Contains(reportText, "Result: stopped manually.") {
		t.Errorf("report missing stop result line:\n%s", reportText)
	}
	if !strings.Contains(f.out.String(), "[plan-loop] stopped:") {
		t.Error("progress output missing stop notice")
	}
}

func TestController_CancelledContextAborts(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.controller(t).Run(ctx, f.st, f.obj)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if got := out.ExitCode(); got != ExitInterrupted {
		t.Errorf("ExitCode() = %d, want %d", got, ExitInterrupted)
	}
	if len(f.invoker.calls) != 0 {
		t.Errorf("oracle calls = %d, want 0", len(f.invoker.calls))
	}
}

func TestController_StopBetweenJudgeAndRewrite(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, []scriptStep{
		{verdict: failVerdict(1)},
	})
	f.invoker.afterInvoke = func(req oracle.Request) {
		if req.Phase == oracle.PhaseJudge {
			if err := f.store.RequestStop(); err != nil {
				t.Errorf("RequestStop() error: %v", err)
			}
		}
	}

	out := f.run(t)

	if out.Status != state.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
	if !errors.Is(out.Err, errors.ErrCancelled) {
		t.Errorf("Err = %v, want ErrCancelled", out.Err)
	}
	if len(f.invoker.calls) != 1 {
		t.Fatalf("oracle calls = %d, want judge only", len(f.invoker.calls))
	}

	// The stopped run resumes where it left off.
	st, _, err := f.store.Resume()
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if st.Status != state.StatusRunning {
		t.Errorf("resumed status = %s, want running", st.Status)
	}
	if st.Round != 1 {
		t.Errorf("resumed round = %d, want 1", st.Round)
	}
	if st.StopRequested {
		t.Error("resume should clear the stop flag")
	}
}

func TestController_LaneRecordedFromResponse(t *testing.T) {
	f := newLoopFixture(t, "hybrid", 999, false, []scriptStep{
		{verdict: failVerdict(1), lane: oracle.LaneManual},
		{rewrite: rewriteResult("rev"), lane: oracle.LaneManual},
		{verdict: passVerdict("ok"), lane: oracle.LaneManual},
	})

	out := f.run(t)
	if out.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed", out.Status)
	}

	for _, round := range []int{1, 2} {
		if got := readSummary(t, f.roundDir(round)).Lane; got != oracle.LaneManual {
			t.Errorf("round %d lane = %s, want manual", round, got)
		}
	}
}

func TestOutcome_ExitCode(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    int
	}{
		{"passed", Outcome{Status: state.StatusPassed}, ExitPassed},
		{"exhausted", Outcome{Status: state.StatusExhausted}, ExitExhausted},
		{"aborted fatal", Outcome{Status: state.StatusAborted, Err: errors.New("boom")}, ExitAborted},
		{"aborted stop", Outcome{Status: state.StatusAborted, Err: errors.Wrap(errors.ErrCancelled, "stop requested")}, ExitInterrupted},
		{"still running", Outcome{Status: state.StatusRunning}, ExitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
