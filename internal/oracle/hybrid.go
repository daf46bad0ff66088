package oracle

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/planloop/internal/errors"
	"github.com/Iron-Ham/planloop/internal/logging"
)

// HybridOptions configures a HybridInvoker.
type HybridOptions struct {
	Auto   Invoker
	Manual Invoker

	// StartLane is LaneAuto for a fresh run, or LaneManual when resuming
	// a run that already fell back.
	StartLane Lane

	// OnFallback is called exactly once, on the auto-to-manual switch, so
	// the caller can persist the lane change before the manual wait
	// begins.
	OnFallback func(reason error)

	Logger   *logging.Logger // defaults to a no-op logger
	Progress io.Writer       // defaults to io.Discard
}

// HybridInvoker starts on the auto lane and permanently falls back to
// manual when the auto oracle reports itself unavailable. The switch is
// one-way for the remainder of the run. Retryable failures (timeouts,
// malformed responses) are not fallback triggers; the auto invoker
// exhausts its retry budget and the error surfaces as fatal.
type HybridInvoker struct {
	auto   Invoker
	manual Invoker

	mu   sync.Mutex
	lane Lane

	onFallback func(reason error)
	logger     *logging.Logger
	progress   io.Writer
}

// NewHybridInvoker creates a hybrid invoker.
func NewHybridInvoker(opts HybridOptions) *HybridInvoker {
	lane := opts.StartLane
	if lane != LaneManual {
		lane = LaneAuto
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	return &HybridInvoker{
		auto:       opts.Auto,
		manual:     opts.Manual,
		lane:       lane,
		onFallback: opts.OnFallback,
		logger:     logger,
		progress:   progress,
	}
}

// CurrentLane reports which lane the next request will use.
func (h *HybridInvoker) CurrentLane() Lane {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lane
}

// Invoke tries the auto lane first and hands the request to the manual
// lane if the oracle is unavailable.
func (h *HybridInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if h.CurrentLane() == LaneAuto {
		resp, err := h.auto.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errors.ErrOracleUnavailable) {
			return nil, err
		}
		h.fallBack(err)
	}
	return h.manual.Invoke(ctx, req)
}

func (h *HybridInvoker) fallBack(reason error) {
	h.mu.Lock()
	already := h.lane == LaneManual
	h.lane = LaneManual
	h.mu.Unlock()
	if already {
		return
	}

	h.logger.Warn("auto oracle unavailable, switching to manual lane", "reason", reason.Error())
	fmt.Fprintf(h.progress, "[fallback] auto oracle unavailable: %v\n", reason)
	fmt.Fprintln(h.progress, "[fallback] switching to the manual lane for the remainder of this run")

	if h.onFallback != nil {
		h.onFallback(reason)
	}
}
