// Package dispatch runs work in the background, detached from the request that scheduled it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"call-insights/internal/metrics"
	"call-insights/pkg/logger"
)

var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Task is one unit of background work.
type Task struct {
	Name   string
	CallID string
	Run    func(ctx context.Context) error
	// OnReject runs instead of Run when the limiter refuses the task.
	OnReject func(ctx context.Context, err error)
}

// Dispatcher is a fire-and-forget scheduler. Errors and panics are logged and
// counted; they never reach the scheduling caller.
// There is no queue: each task gets its own goroutine once the limiter admits it.
type Dispatcher struct {
	root    context.Context
	cancel  context.CancelFunc
	log     *slog.Logger
	limiter Limiter
	metrics *metrics.Metrics

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLimiter(l Limiter) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.limiter = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{root: root, cancel: cancel, log: log, limiter: NoLimit{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Schedule returns immediately. The task runs on the dispatcher's own context.
func (d *Dispatcher) Schedule(t Task) error {
	if t.Run == nil {
		return errors.New("task has no run function")
	}
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(t)
	return nil
}

func (d *Dispatcher) run(t Task) {
	defer d.wg.Done()

	log := d.log.With("task", t.Name)
	if t.CallID != "" {
		log = log.With("call_id", t.CallID)
	}
	ctx := logger.With(d.root, log)
	start := time.Now()

	release, err := d.limiter.Acquire(ctx)
	if err != nil {
		log.ErrorContext(ctx, "background task not admitted", "error", err)
		d.metrics.TaskFailed(t.Name)
		if t.OnReject != nil {
			t.OnReject(ctx, err)
		}
		return
	}
	defer release()

	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "background task panicked",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			d.metrics.TaskPanicked()
		}
	}()

	if err := t.Run(ctx); err != nil {
		log.ErrorContext(ctx, "background task failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		d.metrics.TaskFailed(t.Name)
		return
	}
	log.DebugContext(ctx, "background task completed", "duration_ms", time.Since(start).Milliseconds())
}

// Shutdown stops accepting tasks and waits for running ones. When ctx expires first,
// running tasks are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
