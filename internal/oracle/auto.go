package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
)

// Executor runs one oracle subprocess to completion, feeding the prompt on
// stdin and capturing stdout and stderr separately. This allows dependency
// injection in tests.
type Executor interface {
	Run(ctx context.Context, stdin, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, stdin, name string, args ...string) ([]byte, []byte, error)

// Run executes the function.
func (f ExecutorFunc) Run(ctx context.Context, stdin, name string, args ...string) ([]byte, []byte, error) {
	return f(ctx, stdin, name, args...)
}

// subprocessExecutor is the default Executor, backed by os/exec.
type subprocessExecutor struct{}

func (subprocessExecutor) Run(ctx context.Context, stdin, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// repairPromptLimit caps how much raw output is embedded in a repair
// request.
const repairPromptLimit = 24000

// AutoOptions configures an AutoInvoker.
type AutoOptions struct {
	Backend     Backend
	SchemaPaths map[Phase]string
	Model       string
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	Executor    Executor        // defaults to a subprocess executor
	Logger      *logging.Logger // defaults to a no-op logger
	Progress    io.Writer       // defaults to io.Discard
}

// AutoInvoker services requests by shelling out to an oracle CLI. Each
// call gets a fresh subprocess with a finite timeout; malformed responses
// go through one JSON repair pass before counting against the bounded
// retry budget. An unavailable oracle (missing binary, nonzero exit) is
// never retried: it either triggers hybrid fallback or fails the run.
type AutoInvoker struct {
	backend     Backend
	executor    Executor
	schemaPaths map[Phase]string
	model       string
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	logger      *logging.Logger
	progress    io.Writer
}

// NewAutoInvoker creates an auto-lane invoker.
func NewAutoInvoker(opts AutoOptions) *AutoInvoker {
	executor := opts.Executor
	if executor == nil {
		executor = subprocessExecutor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	return &AutoInvoker{
		backend:     opts.Backend,
		executor:    executor,
		schemaPaths: opts.SchemaPaths,
		model:       opts.Model,
		timeout:     opts.Timeout,
		retries:     opts.Retries,
		backoff:     opts.Backoff,
		logger:      logger,
		progress:    progress,
	}
}

// Invoke runs the request, retrying timeouts and malformed responses up to
// the configured budget. Errors that are not retryable surface
// immediately.
func (a *AutoInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	attempts := a.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := a.invokeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
		if attempt < attempts {
			a.logger.Warn("oracle call failed, retrying",
				"phase", string(req.Phase),
				"attempt", attempt,
				"error", err.Error())
			fmt.Fprintf(a.progress, "[auto] %s attempt %d/%d failed, retrying: %v\n",
				req.Phase, attempt, attempts, err)
			if waitErr := sleepOrCancel(ctx, a.backoff); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	return nil, lastErr
}

func (a *AutoInvoker) invokeOnce(ctx context.Context, req Request) (*Response, error) {
	argv, err := a.backend.BuildCommand(a.schemaPaths[req.Phase], a.model)
	if err != nil {
		return nil, errors.NewOracleError("failed to build oracle command", err).
			WithPhase(string(req.Phase)).
			WithRound(req.Round).
			WithLane(string(LaneAuto))
	}

	combined, runErr := a.runCommand(ctx, req.Prompt, argv)
	if writeErr := writeRoundArtifact(req.RoundDir, rawOutputName(req.Phase), combined); writeErr != nil {
		return nil, writeErr
	}
	if runErr != nil {
		return nil, a.classifyRunError(ctx, req, runErr)
	}

	parsed, body, mode, problems := ParseWithValidation(combined, Schema(req.Phase))
	if parsed != nil {
		return &Response{
			Body:      body,
			Raw:       combined,
			ParseMode: fmt.Sprintf("%s-%s", LaneAuto, mode),
			Lane:      LaneAuto,
		}, nil
	}

	// One repair pass before the failure counts against the retry budget.
	resp, repairErrs, repairErr := a.repair(ctx, req, combined)
	if repairErr != nil {
		return nil, repairErr
	}
	if resp != nil {
		return resp, nil
	}

	detail := strings.Join(append(problems, repairErrs...), "; ")
	return nil, errors.NewOracleError(
		fmt.Sprintf("response failed validation: %s", detail), errors.ErrOracleMalformed).
		WithPhase(string(req.Phase)).
		WithRound(req.Round).
		WithLane(string(LaneAuto))
}

// repair asks the oracle to reshape its own malformed output into schema
// conformance. It returns a Response on success, the accumulated parse
// problems on a soft failure, or a hard error (cancellation, artifact
// write failure).
func (a *AutoInvoker) repair(ctx context.Context, req Request, rawOutput string) (*Response, []string, error) {
	argv, err := a.backend.BuildCommand(a.schemaPaths[req.Phase], a.model)
	if err != nil {
		return nil, []string{fmt.Sprintf("repair command: %v", err)}, nil
	}

	prompt := buildRepairPrompt(SchemaJSON(req.Phase), rawOutput)
	combined, runErr := a.runCommand(ctx, prompt, argv)
	if writeErr := writeRoundArtifact(req.RoundDir, repairOutputName(req.Phase), combined); writeErr != nil {
		return nil, nil, writeErr
	}
	if runErr != nil {
		if cancelErr := cancellation(ctx); cancelErr != nil {
			return nil, nil, cancelErr
		}
		return nil, []string{fmt.Sprintf("repair call failed: %v", runErr)}, nil
	}

	parsed, body, mode, problems := ParseWithValidation(combined, Schema(req.Phase))
	if parsed == nil {
		return nil, problems, nil
	}

	return &Response{
		Body:      body,
		Raw:       combined,
		ParseMode: fmt.Sprintf("%s-repair-%s", LaneAuto, mode),
		Lane:      LaneAuto,
	}, nil, nil
}

// runCommand executes one oracle subprocess under the per-call timeout and
// returns its combined output.
func (a *AutoInvoker) runCommand(ctx context.Context, prompt string, argv []string) (string, error) {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	stdout, stderr, err := a.executor.Run(callCtx, prompt, argv[0], argv[1:]...)
	combined := string(stdout)
	if len(stderr) > 0 {
		combined += "\n" + string(stderr)
	}

	if err != nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	return combined, err
}

func (a *AutoInvoker) classifyRunError(ctx context.Context, req Request, runErr error) error {
	oracleErr := func(message string, cause error) error {
		return errors.NewOracleError(message, cause).
			WithPhase(string(req.Phase)).
			WithRound(req.Round).
			WithLane(string(LaneAuto))
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		return errors.Wrap(errors.ErrCancelled, "oracle call interrupted")
	case errors.Is(runErr, context.DeadlineExceeded):
		if cancelErr := cancellation(ctx); cancelErr != nil {
			return cancelErr
		}
		return oracleErr(fmt.Sprintf("no response within %s", a.timeout), errors.ErrOracleTimeout)
	case errors.Is(runErr, exec.ErrNotFound):
		return oracleErr(fmt.Sprintf("%s CLI not found", a.backend.DisplayName()), errors.ErrOracleUnavailable)
	default:
		return oracleErr(fmt.Sprintf("command failed: %v", runErr), errors.ErrOracleUnavailable)
	}
}

// writeRoundArtifact persists one oracle exchange file under the round
// directory. An empty directory disables artifact capture.
func writeRoundArtifact(roundDir, name, content string) error {
	if roundDir == "" {
		return nil
	}
	path := filepath.Join(roundDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.NewStateError("failed to write oracle artifact", err).
			WithDetail(path)
	}
	return nil
}

func buildRepairPrompt(schemaJSON, rawOutput string) string {
	return "You are a strict JSON repair tool.\n" +
		"Return only one JSON object that conforms exactly to the schema.\n" +
		"Do not add commentary.\n\n" +
		"Schema:\n" +
		schemaJSON + "\n\n" +
		"Raw output to repair:\n" +
		"```text\n" +
		truncateForPrompt(rawOutput, repairPromptLimit) + "\n" +
		"```"
}

func rawOutputName(phase Phase) string {
	return fmt.Sprintf("%s_raw_output.txt", phase)
}

func repairOutputName(phase Phase) string {
	return fmt.Sprintf("%s_repair_raw_output.txt", phase)
}

// cancellation maps a done context to the loop's cancellation error, or
// returns nil if the context is still live.
func cancellation(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return errors.Wrap(errors.ErrCancelled, "oracle call interrupted")
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCancelled, "retry wait interrupted")
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCancelled, "retry wait interrupted")
	case <-timer.C:
		return nil
	}
}

// truncateForPrompt returns at most limit runes of s.
func truncateForPrompt(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
