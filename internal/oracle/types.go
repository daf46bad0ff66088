// Package oracle invokes the judge and rewrite oracles and parses their
// structured responses. Three invokers cover the loop's lanes: AutoInvoker
// shells out to an oracle CLI, ManualInvoker hands the prompt to a human
// through files in the round directory, and HybridInvoker starts on auto
// and falls back to manual for the rest of the run when the CLI is
// unavailable.
package oracle

import (
	"context"
	"encoding/json"
)

// Phase identifies which oracle role a request addresses.
type Phase string

const (
	PhaseJudge   Phase = "judge"
	PhaseRewrite Phase = "rewrite"
)

// Lane identifies how a request was (or will be) serviced.
type Lane string

const (
	LaneAuto   Lane = "auto"
	LaneManual Lane = "manual"
)

// Problem is a single defect the judge found in a plan revision.
type Problem struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Blocking    bool   `json:"blocking,omitempty"`
}

// JudgeVerdict is the judge oracle's structured response.
type JudgeVerdict struct {
	Pass                bool      `json:"pass"`
	Blocking            bool      `json:"blocking,omitempty"`
	Summary             string    `json:"summary"`
	Problems            []Problem `json:"problems"`
	RewriteInstructions []string  `json:"rewrite_instructions,omitempty"`
}

// StrictPass reports whether the verdict is an unqualified pass: the pass
// flag is set and the problems list is empty. Only a strict pass ends the
// loop in an approved state.
func (v *JudgeVerdict) StrictPass() bool {
	return v.Pass && len(v.Problems) == 0
}

// RewriteResult is the rewrite oracle's structured response. The revised
// markdown replaces the prior plan revision wholesale.
type RewriteResult struct {
	RevisedPlanMarkdown string   `json:"revised_plan_markdown"`
	AppliedFixes        []string `json:"applied_fixes,omitempty"`
	RemainingRisks      []string `json:"remaining_risks,omitempty"`
	Summary             string   `json:"summary,omitempty"`
}

// Request is one oracle exchange: a prompt expecting a JSON response
// matching the phase's schema. RoundDir is where the exchange's artifacts
// (raw output, manual handoff files) are written.
type Request struct {
	Phase    Phase
	Prompt   string
	Round    int
	RoundDir string
}

// Response carries the JSON object extracted from an oracle reply.
type Response struct {
	// Body is the canonical JSON object extracted from the raw output,
	// already validated against the phase schema.
	Body []byte

	// Raw is the oracle's complete output, preserved for the audit trail.
	Raw string

	// ParseMode records which rung of the parse ladder produced Body,
	// prefixed with the lane that serviced the request, for example
	// "auto-strict" or "manual-fenced".
	ParseMode string

	// Lane is the lane that actually serviced the request.
	Lane Lane
}

// Invoker submits a request to an oracle and returns its parsed response.
// Implementations block until the oracle answers, the context is
// cancelled, or the request fails permanently.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// PrettyBody renders the response body with stable two-space indentation
// for result artifacts. Falls back to the body as-is if it cannot be
// re-marshalled.
func (r *Response) PrettyBody() []byte {
	var value any
	if err := json.Unmarshal(r.Body, &value); err != nil {
		return r.Body
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return r.Body
	}
	return append(pretty, '\n')
}
