// Package loop drives the judge/rewrite cycle for a plan run: each round
// judges the current revision, and either publishes it as approved, stops
// at the round ceiling, or rewrites it and goes again.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/persona"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/report"
	"github.com/Iron-Ham/planloop/internal/state"
)

// Options configures a Controller.
type Options struct {
	Store   *state.Store
	Invoker oracle.Invoker
	Prompts *persona.Builder

	// FixHistoryLimit caps the persisted fix history. Non-positive values
	// apply the state package default.
	FixHistoryLimit int

	Logger   *logging.Logger // defaults to a no-op logger
	Progress io.Writer       // defaults to io.Discard
}

// Controller runs the loop for one plan to a terminal status. It owns the
// round artifacts (prompts, results, summaries, plan revisions) and every
// state transition; oracle access goes through the injected invoker.
type Controller struct {
	store    *state.Store
	invoker  oracle.Invoker
	prompts  *persona.Builder
	fixLimit int
	logger   *logging.Logger
	progress io.Writer
}

// NewController creates a controller.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	return &Controller{
		store:    opts.Store,
		invoker:  opts.Invoker,
		prompts:  opts.Prompts,
		fixLimit: opts.FixHistoryLimit,
		logger:   logger,
		progress: progress,
	}
}

// Run drives the loop until the plan passes, the round budget runs out, or
// the run aborts. The final report is written for every terminal status.
func (c *Controller) Run(ctx context.Context, st *state.LoopState, obj *plan.ObjectiveSnapshot) *Outcome {
	fmt.Fprintf(c.progress, "[plan-loop] started\n")
	fmt.Fprintf(c.progress, "[plan-loop] run_dir=%s\n", st.RunDir)
	fmt.Fprintf(c.progress, "[plan-loop] mode=%s, no_cap=%v, max_rounds=%d\n", st.Mode, st.NoCap, st.MaxRounds)

	outcome := c.runRounds(ctx, st, obj)

	fmt.Fprintf(c.progress, "[plan-loop] completed\n")
	fmt.Fprintf(c.progress, "[plan-loop] status=%s\n", st.Status)

	if path, err := report.WriteFinal(c.store.Layout(), st); err != nil {
		c.logger.Error("failed to write final report", "run_id", st.RunID, "error", err.Error())
	} else {
		outcome.ReportPath = path
		fmt.Fprintf(c.progress, "[plan-loop] final_report=%s\n", path)
	}

	switch st.Status {
	case state.StatusPassed:
		fmt.Fprintf(c.progress, "[plan-loop] approved_plan=%s\n", st.ApprovedPlanPath)
		fmt.Fprintf(c.progress, "CROSS-CHECK DONE: no remaining plan problems.\n")
		fmt.Fprintf(c.progress, "Manual review required before implementation.\n")
	case state.StatusExhausted:
		fmt.Fprintf(c.progress, "Loop reached max rounds. Manual tie-breaker required.\n")
	}

	return outcome
}

// runRounds is the round loop proper. It leaves st persisted with a
// terminal status before returning.
func (c *Controller) runRounds(ctx context.Context, st *state.LoopState, obj *plan.ObjectiveSnapshot) *Outcome {
	for {
		if err := c.checkStop(ctx); err != nil {
			return c.abort(st, err)
		}

		// A resumed run may already sit at the ceiling.
		if !st.NoCap && st.Round >= st.MaxRounds {
			return c.exhaust(st)
		}

		planText, err := os.ReadFile(st.CurrentPlanPath)
		if err != nil {
			return c.abort(st, errors.NewStateError("failed to read current plan", err).
				WithDetail(st.CurrentPlanPath))
		}
		text := string(planText)

		roundNum := st.Round + 1
		roundDir := c.store.Layout().RoundDir(st.RunDir, roundNum)
		if err := os.MkdirAll(roundDir, 0755); err != nil {
			return c.abort(st, errors.NewStateError("failed to create round directory", err).
				WithDetail(roundDir))
		}
		if err := writeArtifact(roundDir, "input_plan.md", []byte(text)); err != nil {
			return c.abort(st, err)
		}

		fmt.Fprintf(c.progress, "[round %d] judging...\n", roundNum)
		if err := c.markExchange(st); err != nil {
			return c.abort(st, err)
		}
		verdict, judgeResp, err := c.judge(ctx, roundDir, roundNum, text, obj, st.FixHistory)
		if err != nil {
			return c.abort(st, err)
		}

		strict := verdict.StrictPass()
		summary := &report.RoundSummary{
			Round:          roundNum,
			Lane:           judgeResp.Lane,
			JudgePass:      verdict.Pass,
			StrictPass:     strict,
			ProblemCount:   len(verdict.Problems),
			Blocking:       verdict.Blocking,
			JudgeSummary:   verdict.Summary,
			JudgeParseMode: judgeResp.ParseMode,
		}

		st.Round = roundNum
		st.LastResult = verdict

		if strict {
			summary.Status = report.RoundPassed
			if err := report.WriteRoundSummary(roundDir, summary); err != nil {
				return c.abort(st, err)
			}
			return c.finalizePass(st, text)
		}

		// A failed judge on the final budgeted round ends the run without
		// a rewrite: there would be no later round to judge the revision.
		if !st.NoCap && roundNum >= st.MaxRounds {
			summary.Status = report.RoundExhausted
			if err := report.WriteRoundSummary(roundDir, summary); err != nil {
				return c.abort(st, err)
			}
			return c.exhaust(st)
		}

		if err := c.checkStop(ctx); err != nil {
			return c.abort(st, err)
		}

		fmt.Fprintf(c.progress, "[round %d] rewriting...\n", roundNum)
		if err := c.markExchange(st); err != nil {
			return c.abort(st, err)
		}
		rewrite, rewriteResp, err := c.rewrite(ctx, roundDir, roundNum, text, obj, verdict, st.FixHistory)
		if err != nil {
			return c.abort(st, err)
		}

		revisedPath := filepath.Join(roundDir, "revised_plan.md")
		if err := writeArtifact(roundDir, "revised_plan.md", []byte(rewrite.RevisedPlanMarkdown+"\n")); err != nil {
			return c.abort(st, err)
		}

		summary.RewriteParseMode = rewriteResp.ParseMode
		summary.RewriteSummary = rewrite.Summary
		summary.Status = report.RoundContinued
		if err := report.WriteRoundSummary(roundDir, summary); err != nil {
			return c.abort(st, err)
		}

		st.AppendFixes(rewrite.AppliedFixes, c.fixLimit)
		st.CurrentPlanPath = revisedPath
		if err := c.store.Save(st); err != nil {
			return c.abort(st, err)
		}

		c.logger.Info("round continued",
			"run_id", st.RunID,
			"round", roundNum,
			"problems", len(verdict.Problems),
			"lane", string(judgeResp.Lane),
		)
	}
}

// judge runs one judge step: prompt out, verdict in, artifacts written.
func (c *Controller) judge(ctx context.Context, roundDir string, round int, planText string, obj *plan.ObjectiveSnapshot, fixes []string) (*oracle.JudgeVerdict, *oracle.Response, error) {
	prompt, err := c.prompts.JudgePrompt(planText, obj, fixes)
	if err != nil {
		return nil, nil, err
	}
	if err := writeArtifact(roundDir, "judge_prompt.md", []byte(prompt)); err != nil {
		return nil, nil, err
	}

	resp, err := c.invoker.Invoke(ctx, oracle.Request{
		Phase:    oracle.PhaseJudge,
		Prompt:   prompt,
		Round:    round,
		RoundDir: roundDir,
	})
	if err != nil {
		return nil, nil, err
	}

	var verdict oracle.JudgeVerdict
	if err := json.Unmarshal(resp.Body, &verdict); err != nil {
		return nil, nil, errors.NewOracleError("judge response does not decode", errors.ErrOracleMalformed).
			WithPhase(string(oracle.PhaseJudge)).
			WithRound(round).
			WithLane(string(resp.Lane))
	}
	if verdict.Pass && len(verdict.Problems) > 0 {
		return nil, nil, errors.NewOracleError("judge verdict is contradictory: pass with non-empty problems", errors.ErrOracleMalformed).
			WithPhase(string(oracle.PhaseJudge)).
			WithRound(round).
			WithLane(string(resp.Lane))
	}

	if err := writeArtifact(roundDir, "judge_result.json", resp.PrettyBody()); err != nil {
		return nil, nil, err
	}
	return &verdict, resp, nil
}

// rewrite runs one rewrite step and rejects empty revisions.
func (c *Controller) rewrite(ctx context.Context, roundDir string, round int, planText string, obj *plan.ObjectiveSnapshot, verdict *oracle.JudgeVerdict, fixes []string) (*oracle.RewriteResult, *oracle.Response, error) {
	prompt, err := c.prompts.RewritePrompt(planText, obj, verdict, fixes)
	if err != nil {
		return nil, nil, err
	}
	if err := writeArtifact(roundDir, "rewrite_prompt.md", []byte(prompt)); err != nil {
		return nil, nil, err
	}

	resp, err := c.invoker.Invoke(ctx, oracle.Request{
		Phase:    oracle.PhaseRewrite,
		Prompt:   prompt,
		Round:    round,
		RoundDir: roundDir,
	})
	if err != nil {
		return nil, nil, err
	}

	var result oracle.RewriteResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, nil, errors.NewOracleError("rewrite response does not decode", errors.ErrOracleMalformed).
			WithPhase(string(oracle.PhaseRewrite)).
			WithRound(round).
			WithLane(string(resp.Lane))
	}
	result.RevisedPlanMarkdown = strings.TrimSpace(result.RevisedPlanMarkdown)
	if result.RevisedPlanMarkdown == "" {
		return nil, nil, fmt.Errorf("round %d: %w", round, errors.ErrEmptyRewrite)
	}

	if err := writeArtifact(roundDir, "rewrite_result.json", resp.PrettyBody()); err != nil {
		return nil, nil, err
	}
	return &result, resp, nil
}

// finalizePass publishes the approved plan and marks the run passed.
func (c *Controller) finalizePass(st *state.LoopState, planText string) *Outcome {
	approved := c.store.Layout().ApprovedPlanPath()
	if err := os.WriteFile(approved, []byte(planText), 0644); err != nil {
		return c.abort(st, errors.NewStateError("failed to write approved plan", err).
			WithDetail(approved))
	}

	st.Status = state.StatusPassed
	st.ApprovedPlanPath = approved
	if err := c.store.Save(st); err != nil {
		return c.abort(st, err)
	}

	c.logger.Info("run passed", "run_id", st.RunID, "round", st.Round)
	return &Outcome{
		Status:           state.StatusPassed,
		Round:            st.Round,
		ApprovedPlanPath: approved,
	}
}

// exhaust ends the run at its round ceiling.
func (c *Controller) exhaust(st *state.LoopState) *Outcome {
	st.Status = state.StatusExhausted
	if err := c.store.Save(st); err != nil {
		return c.abort(st, err)
	}

	c.logger.Warn("round budget exhausted",
		"run_id", st.RunID,
		"round", st.Round,
		"max_rounds", st.MaxRounds,
	)
	return &Outcome{Status: state.StatusExhausted, Round: st.Round}
}

// abort ends the run on a stop request, cancellation, or fatal error. A
// stop or interrupt is not recorded as a failure.
func (c *Controller) abort(st *state.LoopState, cause error) *Outcome {
	st.Status = state.StatusAborted
	if errors.Is(cause, errors.ErrCancelled) {
		st.Error = ""
		c.logger.Info("run stopped", "run_id", st.RunID, "round", st.Round)
		fmt.Fprintf(c.progress, "[plan-loop] stopped: %v\n", cause)
	} else {
		st.Error = cause.Error()
		c.logger.Error("run aborted", "run_id", st.RunID, "round", st.Round, "error", cause.Error())
		fmt.Fprintf(c.progress, "[plan-loop] aborted: %v\n", cause)
	}

	if err := c.store.Save(st); err != nil {
		c.logger.Error("failed to persist aborted state", "run_id", st.RunID, "error", err.Error())
	}

	return &Outcome{Status: state.StatusAborted, Round: st.Round, Err: cause}
}

// markExchange mints a fresh session marker and persists it before an
// oracle exchange, so a resume after an interruption can tell which
// exchange was in flight.
func (c *Controller) markExchange(st *state.LoopState) error {
	st.SessionID = uuid.NewString()
	return c.store.Save(st)
}

// checkStop surfaces a pending cancellation or stop request as
// ErrCancelled.
func (c *Controller) checkStop(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCancelled, "run interrupted")
	}
	if c.store.StopRequested() {
		return errors.Wrap(errors.ErrCancelled, "stop requested")
	}
	return nil
}

// writeArtifact writes one round artifact.
func writeArtifact(roundDir, name string, content []byte) error {
	path := filepath.Join(roundDir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return errors.NewStateError("failed to write round artifact", err).WithDetail(path)
	}
	return nil
}
