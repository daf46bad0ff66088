package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Layout maps a plan file to its loop working tree. For a plan at /w/X.md
// everything lives under the sibling directory /w/.X_loop, so two plans
// that share a base name but live in different directories never collide.
type Layout struct {
	// PlanPath is the fully resolved plan location. It doubles as the
	// run's identity: persisted state records it and the store refuses to
	// load state recorded for any other path.
	PlanPath string
	// LoopDir is the hidden working directory beside the plan.
	LoopDir string
}

// NewLayout derives the working tree for a resolved plan path. Callers are
// expected to resolve the path first (plan.Resolve) so that symlinked or
// relative spellings of the same file share one layout.
func NewLayout(planPath string) *Layout {
	base := filepath.Base(planPath)
	stem := base[:len(base)-len(filepath.Ext(base))]
	return &Layout{
		PlanPath: planPath,
		LoopDir:  filepath.Join(filepath.Dir(planPath), "."+stem+"_loop"),
	}
}

// StateDir holds the cross-run control files: the persisted state, the
// lock, the objective snapshot, the debug log, and the response schemas.
func (l *Layout) StateDir() string { return filepath.Join(l.LoopDir, "state") }

// StatusPath is the persisted loop state file.
func (l *Layout) StatusPath() string { return filepath.Join(l.StateDir(), "loop_status.json") }

// ObjectivePath is the canonical objective snapshot location.
func (l *Layout) ObjectivePath() string {
	return filepath.Join(l.StateDir(), "objective_snapshot.json")
}

// LockPath is the loop lock file.
func (l *Layout) LockPath() string { return filepath.Join(l.StateDir(), LockFileName) }

// SchemasDir holds the judge and rewrite response schemas that auto-lane
// commands reference by path.
func (l *Layout) SchemasDir() string { return filepath.Join(l.StateDir(), "schemas") }

// IterationsDir holds one subdirectory per run.
func (l *Layout) IterationsDir() string { return filepath.Join(l.LoopDir, "iterations") }

// RunDir is the artifact directory for a single run.
func (l *Layout) RunDir(runID string) string { return filepath.Join(l.IterationsDir(), runID) }

// RoundDir is the artifact directory for one round within a run directory.
func (l *Layout) RoundDir(runDir string, round int) string {
	return filepath.Join(runDir, fmt.Sprintf("round_%04d", round))
}

// FinalDir holds the approved plan and final report once a run passes.
func (l *Layout) FinalDir() string { return filepath.Join(l.LoopDir, "final") }

// ApprovedPlanPath is where the judged-clean plan is published.
func (l *Layout) ApprovedPlanPath() string { return filepath.Join(l.FinalDir(), "approved_plan.md") }

// FinalReportPath is the audit report written beside an approved plan.
func (l *Layout) FinalReportPath() string { return filepath.Join(l.FinalDir(), "final_report.md") }

// Ensure creates any missing layout directories.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.StateDir(), l.SchemasDir(), l.IterationsDir(), l.FinalDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// NewRunID formats a run identifier from the wall clock expressed in UTC.
func NewRunID(now time.Time) string {
	return "run_" + now.UTC().Format("20060102_150405")
}
