package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/planloop/internal/config"
	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
	"github.com/Iron-Ham/planloop/internal/oracle"
	"github.com/Iron-Ham/planloop/internal/persona"
	"github.com/Iron-Ham/planloop/internal/plan"
	"github.com/Iron-Ham/planloop/internal/state"
)

// RunOptions configures one full run from plan path to terminal status.
// Mode, MaxRounds, and NoCap apply to fresh runs only; a resumed run keeps
// the values recorded in its state file.
type RunOptions struct {
	PlanPath  string
	Mode      string
	MaxRounds int
	NoCap     bool
	Model     string
	Resume    bool

	Config   *config.Config
	Logger   *logging.Logger // optional; a rotating logger in the state dir is created when nil
	Progress io.Writer
}

// Run wires storage, locking, personas, and the oracle lanes for one plan,
// then drives the loop to a terminal status. Errors returned here happened
// before the loop started (bad flags, missing plan, lock held); once the
// loop runs, the result is always an Outcome.
func Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	planPath, err := plan.Resolve(opts.PlanPath)
	if err != nil {
		return nil, err
	}
	layout := state.NewLayout(planPath)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.NewRotatingLogger(layout.StateDir(), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, err
		}
		defer logger.Close()
	}

	lock, err := state.AcquireLock(layout, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release loop lock", "error", err.Error())
		}
	}()

	store := state.NewStore(layout, logger)

	schemaPaths, err := oracle.MaterializeSchemas(layout.SchemasDir())
	if err != nil {
		return nil, err
	}

	var st *state.LoopState
	var obj *plan.ObjectiveSnapshot
	if opts.Resume {
		st, obj, err = store.Resume()
	} else {
		st, obj, err = startRun(store, layout, planPath, opts, cfg)
	}
	if err != nil {
		return nil, err
	}

	personas, err := persona.Load(cfg.Personas.File)
	if err != nil {
		return nil, err
	}
	prompts := persona.NewBuilder(personas, cfg.Loop.FixHistoryInPrompt)

	model := opts.Model
	if model == "" {
		model = cfg.Oracle.Model
	}
	invoker, err := buildInvoker(st, store, schemaPaths, model, cfg, logger, progress)
	if err != nil {
		return nil, err
	}

	ctrl := NewController(Options{
		Store:           store,
		Invoker:         invoker,
		Prompts:         prompts,
		FixHistoryLimit: cfg.Loop.FixHistoryLimit,
		Logger:          logger,
		Progress:        progress,
	})
	return ctrl.Run(ctx, st, obj), nil
}

// startRun creates a fresh run: a new run directory, the objective
// snapshot in both the state dir and the run dir, and a zero-round state
// record. An existing state file for the plan is overwritten; the lock
// already rules out a concurrent run.
func startRun(store *state.Store, layout *state.Layout, planPath string, opts RunOptions, cfg *config.Config) (*state.LoopState, *plan.ObjectiveSnapshot, error) {
	doc, err := plan.LoadDocument(planPath)
	if err != nil {
		return nil, nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = cfg.Loop.Mode
	}
	if !config.IsValidMode(mode) {
		return nil, nil, fmt.Errorf("%w: invalid mode %q", errors.ErrInvalidInput, mode)
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = cfg.Loop.MaxRounds
	}

	runID := state.NewRunID(time.Now())
	runDir := layout.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, nil, errors.NewStateError("failed to create run directory", err).WithDetail(runDir)
	}

	obj := plan.BuildObjectiveSnapshot(doc.Markdown)
	if err := store.SaveObjective(obj); err != nil {
		return nil, nil, err
	}
	if err := state.WriteObjective(filepath.Join(runDir, "objective_snapshot.json"), obj); err != nil {
		return nil, nil, err
	}

	st := state.NewRunState(state.RunParams{
		PlanPath:  planPath,
		Mode:      mode,
		MaxRounds: maxRounds,
		NoCap:     opts.NoCap,
	}, runID, runDir, time.Now())
	if err := store.Save(st); err != nil {
		return nil, nil, err
	}
	return st, obj, nil
}

// buildInvoker assembles the lane stack for the run's mode. Hybrid runs
// start on whichever lane the state records, so a fallback that happened
// before a stop survives the resume.
func buildInvoker(st *state.LoopState, store *state.Store, schemaPaths map[oracle.Phase]string, model string, cfg *config.Config, logger *logging.Logger, progress io.Writer) (oracle.Invoker, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	backend, err := oracle.NewBackendFromConfig(cfg.Oracle)
	if err != nil {
		return nil, err
	}

	auto := oracle.NewAutoInvoker(oracle.AutoOptions{
		Backend:     backend,
		SchemaPaths: schemaPaths,
		Model:       model,
		Timeout:     cfg.Oracle.Timeout(),
		Retries:     cfg.Oracle.Retries,
		Backoff:     cfg.Oracle.RetryBackoff(),
		Logger:      logger,
		Progress:    progress,
	})
	manual := oracle.NewManualInvoker(oracle.ManualOptions{
		Backend:          backend,
		SchemaPaths:      schemaPaths,
		Model:            model,
		PollInterval:     time.Duration(cfg.Manual.PollSeconds) * time.Second,
		NoticeEveryTicks: cfg.Manual.NoticeEveryTicks,
		StopCheck:        store.StopRequested,
		Logger:           logger,
		Progress:         progress,
	})

	switch st.Mode {
	case config.ModeAuto:
		return auto, nil
	case config.ModeManual:
		return manual, nil
	case config.ModeHybrid:
		return oracle.NewHybridInvoker(oracle.HybridOptions{
			Auto:      auto,
			Manual:    manual,
			StartLane: st.CurrentLane,
			OnFallback: func(reason error) {
				st.CurrentLane = oracle.LaneManual
				if err := store.Save(st); err != nil {
					logger.Error("failed to persist lane fallback", "error", err.Error())
				}
			},
			Logger:   logger,
			Progress: progress,
		}), nil
	default:
		return nil, fmt.Errorf("%w: invalid mode %q", errors.ErrInvalidInput, st.Mode)
	}
}
