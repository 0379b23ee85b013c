package xcpd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// gatedReporter blocks each delivery until the gate is closed.
type gatedReporter struct {
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
	rec     recordingReporter
}

func newGatedReporter() *gatedReporter {
	return &gatedReporter{started: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedReporter) Report(ctx context.Context, r *Report) error {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	return g.rec.Report(ctx, r)
}

func TestAsyncReporter_Delivers(t *testing.T) {
	rep := &recordingReporter{}
	a := NewAsyncReporter(rep, 4, zerolog.Nop())

	if err := a.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rep.count() != 1 {
		t.Errorf("expected one delivered report, got %d", rep.count())
	}
}

func TestAsyncReporter_DetachesCancellation(t *testing.T) {
	var mu sync.Mutex
	var seen error
	rep := ReporterFunc(func(ctx context.Context, _ *Report) error {
		mu.Lock()
		defer mu.Unlock()
		seen = ctx.Err()
		return nil
	})
	a := NewAsyncReporter(rep, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Report(ctx, testReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != nil {
		t.Errorf("expected delivery context to outlive the request, got %v", seen)
	}
}

func TestAsyncReporter_FullQueueDrops(t *testing.T) {
	sink := newGatedReporter()
	a := NewAsyncReporter(sink, 1, zerolog.Nop())

	// First report occupies the worker, second fills the queue.
	if err := a.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("first report: %v", err)
	}
	<-sink.started
	if err := a.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("second report: %v", err)
	}

	err := a.Report(context.Background(), testReport())
	if !errors.Is(err, ErrReportDropped) {
		t.Errorf("expected ErrReportDropped, got %v", err)
	}
	if a.Dropped() != 1 {
		t.Errorf("expected one dropped report, got %d", a.Dropped())
	}

	close(sink.gate)
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.rec.count() != 2 {
		t.Errorf("expected two delivered reports, got %d", sink.rec.count())
	}
}

func TestAsyncReporter_CloseDrainsQueue(t *testing.T) {
	rep := &recordingReporter{}
	a := NewAsyncReporter(rep, 8, zerolog.Nop())
	for i := 0; i < 5; i++ {
		if err := a.Report(context.Background(), testReport()); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rep.count() != 5 {
		t.Errorf("expected 5 delivered reports, got %d", rep.count())
	}

	if err := a.Report(context.Background(), testReport()); !errors.Is(err, ErrReporterClosed) {
		t.Errorf("expected ErrReporterClosed after close, got %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("expected second close to succeed, got %v", err)
	}
}

func TestAsyncReporter_CloseHonorsContext(t *testing.T) {
	sink := newGatedReporter()
	a := NewAsyncReporter(sink, 1, zerolog.Nop())
	_ = a.Report(context.Background(), testReport())
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := a.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(sink.gate)
}

func TestAsyncReporter_SinkFailuresAreLogged(t *testing.T) {
	var buf syncBuffer
	logger := zerolog.New(&buf)

	calls := 0
	rep := ReporterFunc(func(context.Context, *Report) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return errors.New("sink unavailable")
	})
	a := NewAsyncReporter(rep, 4, logger)
	_ = a.Report(context.Background(), testReport())
	_ = a.Report(context.Background(), testReport())
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "xcpd error reporter panicked") {
		t.Errorf("expected panic to be logged, got %s", out)
	}
	if !strings.Contains(out, "sink unavailable") {
		t.Errorf("expected worker to keep delivering after a panic, got %s", out)
	}
}

func TestClassify_DoesNotWaitForAsyncSink(t *testing.T) {
	sink := newGatedReporter()
	a := NewAsyncReporter(sink, 4, zerolog.Nop())
	reply := testReply(true, responseEnvelope(applicationErrorBody))

	done := make(chan *Outcome, 1)
	go func() { done <- newTestClassifier(a).Classify(context.Background(), reply) }()

	select {
	case out := <-done:
		if out.Kind != KindApplicationError {
			t.Errorf("expected application error, got %v", out.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Classify to return while the sink is blocked")
	}

	close(sink.gate)
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.rec.count() != 1 {
		t.Errorf("expected report delivered after release, got %d", sink.rec.count())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
