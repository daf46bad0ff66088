// Package state persists the loop's resumable control state: one JSON
// status file per plan guarded by a PID-liveness lock, plus the on-disk
// layout every run and round writes its artifacts into.
package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/planloop/internal/config"
	"github.com/Iron-Ham/planloop/internal/oracle"
)

// Status is the lifecycle phase of a run as persisted on disk.
type Status string

const (
	// StatusRunning marks a run in progress, or one that crashed mid-round
	// and is waiting to be resumed.
	StatusRunning Status = "running"
	// StatusPassed marks a run whose plan was judged clean.
	StatusPassed Status = "passed"
	// StatusExhausted marks a run that hit its round ceiling without passing.
	StatusExhausted Status = "exhausted"
	// StatusAborted marks a run ended by a stop request, a signal, or a
	// fatal error.
	StatusAborted Status = "aborted"
)

// Completed reports whether the run finished in a way that forbids resume.
// Aborted and running states can be picked back up; passed and exhausted
// runs are done.
func (s Status) Completed() bool {
	return s == StatusPassed || s == StatusExhausted
}

// Terminal reports whether the run has ended in any way.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusExhausted || s == StatusAborted
}

// DefaultFixHistoryLimit caps the persisted fix history when no explicit
// limit is configured.
const DefaultFixHistoryLimit = 80

// LoopState is the persisted control state of a loop run. It is the single
// source of truth for resume: everything the controller needs to pick an
// interrupted run back up lives here.
type LoopState struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`

	// PlanPath is the resolved path of the plan this state belongs to.
	// Loads verify it against the requesting layout and refuse to proceed
	// on a mismatch.
	PlanPath string `json:"plan_path"`

	RunDir string `json:"run_dir"`

	// Round counts completed judge rounds.
	Round int `json:"round"`

	Mode        string      `json:"mode"`
	CurrentLane oracle.Lane `json:"current_lane"`
	MaxRounds   int         `json:"max_rounds"`
	NoCap       bool        `json:"no_cap"`

	Status Status `json:"status"`

	// LastResult is the most recent judge verdict, nil before round one.
	LastResult *oracle.JudgeVerdict `json:"last_result"`

	// CurrentPlanPath points at the newest plan text: the original plan
	// before round one, then each round's revised_plan.md.
	CurrentPlanPath  string `json:"current_plan_path"`
	ApprovedPlanPath string `json:"approved_plan_path,omitempty"`

	FixHistory []string `json:"fix_history"`

	StartedAt     time.Time `json:"started_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// StopRequested is set by `planloop stop` and polled by the controller
	// between oracle calls.
	StopRequested bool `json:"stop_requested"`

	// Error records the failure that aborted the run, when there was one.
	Error string `json:"error,omitempty"`
}

// RunParams are the caller-supplied knobs for a fresh run.
type RunParams struct {
	PlanPath  string
	Mode      string
	MaxRounds int
	NoCap     bool
}

// NewRunState builds the initial state for a fresh run.
func NewRunState(params RunParams, runID, runDir string, now time.Time) *LoopState {
	now = now.UTC()
	return &LoopState{
		RunID:           runID,
		SessionID:       uuid.NewString(),
		PlanPath:        params.PlanPath,
		RunDir:          runDir,
		Round:           0,
		Mode:            params.Mode,
		CurrentLane:     InitialLane(params.Mode),
		MaxRounds:       params.MaxRounds,
		NoCap:           params.NoCap,
		Status:          StatusRunning,
		CurrentPlanPath: params.PlanPath,
		FixHistory:      []string{},
		StartedAt:       now,
		LastUpdatedAt:   now,
	}
}

// InitialLane returns the lane a run starts on for the given mode. Auto
// and hybrid runs start on the auto lane; manual runs never leave manual.
func InitialLane(mode string) oracle.Lane {
	if mode == config.ModeManual {
		return oracle.LaneManual
	}
	return oracle.LaneAuto
}

// AppendFixes extends the fix history and trims it to the newest limit
// entries. A non-positive limit applies DefaultFixHistoryLimit.
func (s *LoopState) AppendFixes(fixes []string, limit int) {
	if limit <= 0 {
		limit = DefaultFixHistoryLimit
	}
	s.FixHistory = append(s.FixHistory, fixes...)
	if excess := len(s.FixHistory) - limit; excess > 0 {
		s.FixHistory = append([]string{}, s.FixHistory[excess:]...)
	}
}
