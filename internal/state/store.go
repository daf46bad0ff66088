package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
	"github.com/Iron-Ham/planloop/internal/plan"
)

// Store reads and writes loop state for one plan's layout. Writes go
// through a temp file and rename, so a reader never observes a
// half-written status file even if the process dies mid-save.
type Store struct {
	layout *Layout
	logger *logging.Logger
}

// NewStore creates a store over the given layout. A nil logger is replaced
// with a no-op logger.
func NewStore(layout *Layout, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{layout: layout, logger: logger}
}

// Layout returns the layout the store operates on.
func (s *Store) Layout() *Layout { return s.layout }

// Save persists the state atomically, refreshing its last-updated stamp.
func (s *Store) Save(st *LoopState) error {
	st.LastUpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.NewStateError("failed to encode loop state", err).
			WithPlanPath(s.layout.PlanPath)
	}
	if err := atomicWriteFile(s.layout.StatusPath(), append(data, '\n'), 0644); err != nil {
		return errors.NewStateError("failed to write loop state", err).
			WithPlanPath(s.layout.PlanPath)
	}
	s.logger.Debug("loop state saved",
		"run_id", st.RunID,
		"round", st.Round,
		"status", string(st.Status),
	)
	return nil
}

// Load reads the persisted state and verifies it belongs to this layout's
// plan. A missing file maps to ErrStateNotFound; unreadable JSON or a plan
// path mismatch maps to ErrStateCorrupted.
func (s *Store) Load() (*LoopState, error) {
	data, err := os.ReadFile(s.layout.StatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrStateNotFound, s.layout.StatusPath())
		}
		return nil, errors.NewStateError("failed to read loop state", err).
			WithPlanPath(s.layout.PlanPath)
	}

	var st LoopState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.NewStateError("loop state is not valid JSON", errors.ErrStateCorrupted).
			WithPlanPath(s.layout.PlanPath).
			WithDetail(err.Error())
	}

	if st.PlanPath != s.layout.PlanPath {
		return nil, errors.NewStateError("loop state belongs to a different plan", errors.ErrStateCorrupted).
			WithPlanPath(s.layout.PlanPath).
			WithDetail(fmt.Sprintf("state records %s", st.PlanPath))
	}

	return &st, nil
}

// Resume validates a persisted run for continuation and flips it back to
// running. Completed runs cannot be resumed. The objective snapshot is
// loaded from the state directory, or rebuilt from the current plan text
// when the snapshot file is gone.
func (s *Store) Resume() (*LoopState, *plan.ObjectiveSnapshot, error) {
	st, err := s.Load()
	if err != nil {
		return nil, nil, err
	}

	if st.Status.Completed() {
		return nil, nil, fmt.Errorf("cannot resume a %s run: %w", st.Status, errors.ErrRunCompleted)
	}
	if _, err := os.Stat(st.RunDir); err != nil {
		return nil, nil, errors.NewStateError("run directory is missing", errors.ErrStateCorrupted).
			WithPlanPath(s.layout.PlanPath).
			WithDetail(st.RunDir)
	}
	if _, err := os.Stat(st.CurrentPlanPath); err != nil {
		return nil, nil, errors.NewStateError("current plan file is missing", errors.ErrStateCorrupted).
			WithPlanPath(s.layout.PlanPath).
			WithDetail(st.CurrentPlanPath)
	}

	obj, err := s.LoadObjective()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		text, readErr := os.ReadFile(st.CurrentPlanPath)
		if readErr != nil {
			return nil, nil, errors.NewStateError("failed to read current plan", readErr).
				WithPlanPath(s.layout.PlanPath)
		}
		obj = plan.BuildObjectiveSnapshot(string(text))
		if err := s.SaveObjective(obj); err != nil {
			return nil, nil, err
		}
	}

	st.Status = StatusRunning
	st.StopRequested = false
	st.Error = ""
	if err := s.Save(st); err != nil {
		return nil, nil, err
	}

	s.logger.Info("run resumed",
		"run_id", st.RunID,
		"round", st.Round,
		"lane", string(st.CurrentLane),
	)
	return st, obj, nil
}

// SaveObjective writes the objective snapshot to its canonical state
// location.
func (s *Store) SaveObjective(obj *plan.ObjectiveSnapshot) error {
	return WriteObjective(s.layout.ObjectivePath(), obj)
}

// LoadObjective reads the canonical objective snapshot. The returned error
// wraps os.ErrNotExist when no snapshot has been written yet.
func (s *Store) LoadObjective() (*plan.ObjectiveSnapshot, error) {
	data, err := os.ReadFile(s.layout.ObjectivePath())
	if err != nil {
		return nil, err
	}
	var obj plan.ObjectiveSnapshot
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.NewStateError("objective snapshot is not valid JSON", errors.ErrStateCorrupted).
			WithPlanPath(s.layout.PlanPath).
			WithDetail(err.Error())
	}
	return &obj, nil
}

// WriteObjective writes an objective snapshot as indented JSON. Runs write
// the same snapshot to both the state directory and the run directory so
// each run's artifact tree is self-contained.
func WriteObjective(path string, obj *plan.ObjectiveSnapshot) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return errors.NewStateError("failed to encode objective snapshot", err)
	}
	if err := atomicWriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.NewStateError("failed to write objective snapshot", err).WithDetail(path)
	}
	return nil
}

// StopRequested re-reads the status file and reports whether another
// process has asked this run to stop. Read failures report false so a
// transient filesystem hiccup cannot kill a run.
func (s *Store) StopRequested() bool {
	st, err := s.Load()
	if err != nil {
		return false
	}
	return st.StopRequested
}

// RequestStop flags the persisted state so the owning controller winds
// down at its next checkpoint.
func (s *Store) RequestStop() error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: run already ended with status %s", errors.ErrInvalidInput, st.Status)
	}
	st.StopRequested = true
	if err := s.Save(st); err != nil {
		return err
	}
	s.logger.Info("stop requested", "run_id", st.RunID, "round", st.Round)
	return nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory followed by a rename.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
