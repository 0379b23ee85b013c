package xcpd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrReportDropped is returned when the async queue is full.
	ErrReportDropped = errors.New("xcpd: report queue full, report dropped")
	// ErrReporterClosed is returned for reports sent after Close.
	ErrReporterClosed = errors.New("xcpd: reporter closed")
)

// DefaultReportQueueSize bounds the async report queue.
const DefaultReportQueueSize = 256

type queuedReport struct {
	ctx    context.Context
	report *Report
}

// AsyncReporter delivers reports to next from a single background worker,
// so Classify returns without waiting on the sink. The queue is bounded:
// when it is full the report is dropped and Report returns
// ErrReportDropped.
type AsyncReporter struct {
	next   Reporter
	logger zerolog.Logger
	queue  chan queuedReport
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncReporter starts the worker. A size of zero or less uses
// DefaultReportQueueSize.
func NewAsyncReporter(next Reporter, size int, logger zerolog.Logger) *AsyncReporter {
	if size <= 0 {
		size = DefaultReportQueueSize
	}
	a := &AsyncReporter{
		next:   next,
		logger: logger,
		queue:  make(chan queuedReport, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Report queues r. The request context's values (the active span) are kept
// but its cancellation is not, since delivery outlives the request.
func (a *AsyncReporter) Report(ctx context.Context, r *Report) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrReporterClosed
	}

	select {
	case a.queue <- queuedReport{ctx: context.WithoutCancel(ctx), report: r}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrReportDropped
	}
}

// Dropped returns the number of reports lost to a full queue.
func (a *AsyncReporter) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting reports and waits until the queued ones have been
// delivered or ctx is done.
func (a *AsyncReporter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncReporter) run() {
	defer close(a.done)
	for item := range a.queue {
		a.deliver(item)
	}
}

func (a *AsyncReporter) deliver(item queuedReport) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error().
				Interface("panic", rec).
				Str("request_id", item.report.OutboundRequest.ID).
				Msg("xcpd error reporter panicked")
		}
	}()
	if err := a.next.Report(item.ctx, item.report); err != nil {
		a.logger.Warn().
			Err(err).
			Str("request_id", item.report.OutboundRequest.ID).
			Msg("xcpd error reporter failed")
	}
}
