package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"call-insights/internal/metrics"
	"call-insights/pkg/logger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_ScheduleDoesNotBlock(t *testing.T) {
	d := New(quietLogger())
	release := make(chan struct{})
	var ran atomic.Bool

	start := time.Now()
	if err := d.Schedule(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-release
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected Schedule to return immediately")
	}

	close(release)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("expected task to run before shutdown returned")
	}
}

func TestDispatcher_ErrorsAndPanicsAreContained(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := New(quietLogger(), WithMetrics(m))

	_ = d.Schedule(Task{Name: "pipeline", Run: func(context.Context) error { return errors.New("boom") }})
	_ = d.Schedule(Task{Name: "pipeline", Run: func(context.Context) error { panic("kaboom") }})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := testutil.ToFloat64(m.TaskErrors.WithLabelValues("pipeline")); got != 1 {
		t.Fatalf("expected 1 task error, got %v", got)
	}
	if got := testutil.ToFloat64(m.TaskPanics); got != 1 {
		t.Fatalf("expected 1 panic, got %v", got)
	}
}

func TestDispatcher_TaskContextCarriesLogger(t *testing.T) {
	d := New(quietLogger())

	var ctxErr error
	var hasLogger bool
	_ = d.Schedule(Task{Name: "t", CallID: "c1", Run: func(ctx context.Context) error {
		hasLogger = logger.From(ctx) != slog.Default()
		ctxErr = ctx.Err()
		return nil
	}})
	_ = d.Shutdown(context.Background())

	if ctxErr != nil {
		t.Fatalf("expected live task context, got %v", ctxErr)
	}
	if !hasLogger {
		t.Fatalf("expected task-scoped logger")
	}
}

func TestDispatcher_RejectsAfterShutdown(t *testing.T) {
	d := New(quietLogger())
	_ = d.Shutdown(context.Background())
	if err := d.Schedule(Task{Name: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestDispatcher_ShutdownDeadlineCancelsTasks(t *testing.T) {
	d := New(quietLogger())
	_ = d.Schedule(Task{Name: "stuck", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type countingLimiter struct {
	acquired, released atomic.Int32
	err                error
}

func (c *countingLimiter) Acquire(context.Context) (func(), error) {
	if c.err != nil {
		return nil, c.err
	}
	c.acquired.Add(1)
	return func() { c.released.Add(1) }, nil
}

func TestDispatcher_UsesLimiter(t *testing.T) {
	l := &countingLimiter{}
	d := New(quietLogger(), WithLimiter(l))
	for i := 0; i < 3; i++ {
		_ = d.Schedule(Task{Name: "t", Run: func(context.Context) error { return nil }})
	}
	_ = d.Shutdown(context.Background())
	if l.acquired.Load() != 3 || l.released.Load() != 3 {
		t.Fatalf("expected 3 acquire/release, got %d/%d", l.acquired.Load(), l.released.Load())
	}

	var ran, rejected atomic.Bool
	denied := New(quietLogger(), WithLimiter(&countingLimiter{err: errors.New("redis down")}))
	_ = denied.Schedule(Task{
		Name:     "t",
		Run:      func(context.Context) error { ran.Store(true); return nil },
		OnReject: func(context.Context, error) { rejected.Store(true) },
	})
	_ = denied.Shutdown(context.Background())
	if ran.Load() || !rejected.Load() {
		t.Fatalf("expected task skipped and rejection hook called, ran=%v rejected=%v", ran.Load(), rejected.Load())
	}
}
