package loop

import (
	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/state"
)

// Outcome describes how a run ended.
type Outcome struct {
	Status           state.Status
	Round            int
	ReportPath       string
	ApprovedPlanPath string

	// Err is set only for aborted runs. A stop request or interrupt
	// carries ErrCancelled; anything else is a fatal failure.
	Err error
}

// Exit codes for terminal statuses. Interrupted follows the shell
// convention for SIGINT.
const (
	ExitPassed      = 0
	ExitExhausted   = 2
	ExitAborted     = 3
	ExitInterrupted = 130
)

// ExitCode maps the outcome to a process exit code.
func (o *Outcome) ExitCode() int {
	switch o.Status {
	case state.StatusPassed:
		return ExitPassed
	case state.StatusExhausted:
		return ExitExhausted
	case state.StatusAborted:
		if errors.Is(o.Err, errors.ErrCancelled) {
			return ExitInterrupted
		}
		return ExitAborted
	default:
		return ExitAborted
	}
}
