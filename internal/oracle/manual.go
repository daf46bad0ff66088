package oracle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
)

const (
	defaultManualPoll   = 3 * time.Second
	defaultNoticeTicks  = 10
	manualWriteDebounce = 200 * time.Millisecond
)

// ManualOptions configures a ManualInvoker.
type ManualOptions struct {
	Backend          Backend
	SchemaPaths      map[Phase]string
	Model            string
	PollInterval     time.Duration   // defaults to 3s
	NoticeEveryTicks int             // defaults to 10
	StopCheck        func() bool     // optional out-of-band stop signal
	Logger           *logging.Logger // defaults to a no-op logger
	Progress         io.Writer       // defaults to io.Discard
}

// ManualInvoker services requests by writing handoff files into the round
// directory and waiting for a human to drop the oracle's output next to
// them. The output file is re-read whenever it changes; invalid content
// is reported and the wait continues, so the operator can fix the file in
// place.
type ManualInvoker struct {
	backend     Backend
	schemaPaths map[Phase]string
	model       string
	poll        time.Duration
	noticeEvery int
	stopCheck   func() bool
	logger      *logging.Logger
	progress    io.Writer
}

// NewManualInvoker creates a manual-lane invoker.
func NewManualInvoker(opts ManualOptions) *ManualInvoker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultManualPoll
	}
	noticeEvery := opts.NoticeEveryTicks
	if noticeEvery <= 0 {
		noticeEvery = defaultNoticeTicks
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	return &ManualInvoker{
		backend:     opts.Backend,
		schemaPaths: opts.SchemaPaths,
		model:       opts.Model,
		poll:        poll,
		noticeEvery: noticeEvery,
		stopCheck:   opts.StopCheck,
		logger:      logger,
		progress:    progress,
	}
}

// Invoke writes the handoff files and blocks until a valid response
// appears, the context is cancelled, or a stop is requested.
func (m *ManualInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.RoundDir == "" {
		return nil, errors.NewOracleError("manual lane requires a round directory", nil).
			WithPhase(string(req.Phase)).
			WithRound(req.Round).
			WithLane(string(LaneManual))
	}

	outputPath := filepath.Join(req.RoundDir, manualOutputName(req.Phase))
	if err := m.writeHandoff(req, outputPath); err != nil {
		return nil, err
	}

	fmt.Fprintf(m.progress, "[manual] %s handoff ready\n", req.Phase)
	fmt.Fprintf(m.progress, "[manual] instructions: %s\n", filepath.Join(req.RoundDir, manualInstructionsName(req.Phase)))
	fmt.Fprintf(m.progress, "[manual] awaiting output: %s\n", outputPath)

	return m.await(ctx, req, outputPath)
}

// writeHandoff persists the prompt and the operator instructions.
func (m *ManualInvoker) writeHandoff(req Request, outputPath string) error {
	promptName := manualPromptName(req.Phase)
	if err := writeRoundArtifact(req.RoundDir, promptName, req.Prompt); err != nil {
		return err
	}

	instructions, err := m.renderInstructions(req, promptName, outputPath)
	if err != nil {
		return err
	}
	return writeRoundArtifact(req.RoundDir, manualInstructionsName(req.Phase), instructions)
}

func (m *ManualInvoker) renderInstructions(req Request, promptName, outputPath string) (string, error) {
	argv, err := m.backend.BuildCommand(m.schemaPaths[req.Phase], m.model)
	if err != nil {
		return "", errors.NewOracleError("failed to build oracle command", err).
			WithPhase(string(req.Phase)).
			WithRound(req.Round).
			WithLane(string(LaneManual))
	}

	promptPath := filepath.Join(req.RoundDir, promptName)
	command := fmt.Sprintf("%s < %s > %s",
		shellJoin(argv), shellQuote(promptPath), shellQuote(outputPath))

	var b strings.Builder
	fmt.Fprintf(&b, "Manual handoff for the %s phase.\n\n", req.Phase)
	b.WriteString("In another terminal, run the oracle with the prompt on stdin:\n\n")
	fmt.Fprintf(&b, "  %s\n\n", command)
	fmt.Fprintf(&b, "Save the oracle's complete output to:\n\n  %s\n\n", outputPath)
	b.WriteString("The loop re-reads that file whenever it changes and continues as\n")
	b.WriteString("soon as the content parses as a valid response. If the content is\n")
	b.WriteString("rejected, fix it and overwrite the same file.\n")
	return b.String(), nil
}

// await blocks until the output file holds a valid response. A directory
// watcher gives fast wakeups; the poll ticker is the fallback when the
// watcher cannot be established.
func (m *ManualInvoker) await(ctx context.Context, req Request, outputPath string) (*Response, error) {
	var events chan fsnotify.Event
	var watchErrs chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("file watcher unavailable, relying on polling", "error", err.Error())
	} else {
		defer watcher.Close()
		if addErr := watcher.Add(req.RoundDir); addErr != nil {
			m.logger.Warn("cannot watch round directory, relying on polling", "error", addErr.Error())
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	// Debounce timer for write bursts. Starts drained.
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	base := filepath.Base(outputPath)
	started := time.Now()
	var lastMtime time.Time
	ticks := 0

	for {
		if m.stopCheck != nil && m.stopCheck() {
			return nil, errors.Wrap(errors.ErrCancelled, "stop requested during manual wait")
		}

		resp, mtime, checkErr := m.checkOutput(req, outputPath, lastMtime)
		if checkErr != nil {
			return nil, checkErr
		}
		lastMtime = mtime
		if resp != nil {
			return resp, nil
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(errors.ErrCancelled, "manual wait interrupted")

			case event, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce.Reset(manualWriteDebounce)

			case <-debounce.C:
				break wait

			case werr, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
					continue
				}
				m.logger.Warn("file watcher error during manual wait", "error", werr.Error())

			case <-ticker.C:
				ticks++
				if ticks%m.noticeEvery == 0 {
					elapsed := time.Since(started).Round(time.Second)
					fmt.Fprintf(m.progress, "[manual] still waiting for %s output (%s elapsed)\n",
						req.Phase, elapsed)
				}
				break wait
			}
		}
	}
}

// checkOutput reads and validates the output file if it changed since the
// last look. It returns a nil Response while the wait should continue.
func (m *ManualInvoker) checkOutput(req Request, outputPath string, lastMtime time.Time) (*Response, time.Time, error) {
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return nil, lastMtime, nil
	}

	mtime := info.ModTime()
	if !lastMtime.IsZero() && mtime.Equal(lastMtime) {
		return nil, lastMtime, nil
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		// Transient read race with the writer. Retry on the next wakeup.
		return nil, lastMtime, nil
	}

	content := string(raw)
	parsed, body, mode, problems := ParseWithValidation(content, Schema(req.Phase))
	if parsed == nil {
		detail := strings.Join(problems, "; ")
		m.logger.Warn("manual output rejected",
			"phase", string(req.Phase),
			"path", outputPath,
			"problems", detail)
		fmt.Fprintf(m.progress, "[manual] %s output rejected: %s\n", req.Phase, detail)
		fmt.Fprintf(m.progress, "[manual] fix and overwrite the same file: %s\n", outputPath)
		return nil, mtime, nil
	}

	if err := writeRoundArtifact(req.RoundDir, rawOutputName(req.Phase), content); err != nil {
		return nil, mtime, err
	}

	return &Response{
		Body:      body,
		Raw:       content,
		ParseMode: fmt.Sprintf("%s-%s", LaneManual, mode),
		Lane:      LaneManual,
	}, mtime, nil
}

func manualPromptName(phase Phase) string {
	return fmt.Sprintf("manual_%s_prompt.md", phase)
}

func manualInstructionsName(phase Phase) string {
	return fmt.Sprintf("manual_%s_instructions.txt", phase)
}

func manualOutputName(phase Phase) string {
	return fmt.Sprintf("manual_%s_output.txt", phase)
}

// shellJoin renders an argv as a copy-pasteable command line.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(arg string) string {
	if arg == "" || strings.ContainsAny(arg, " \t\n\"'$&|<>;*?()") {
		return strconv.Quote(arg)
	}
	return arg
}
