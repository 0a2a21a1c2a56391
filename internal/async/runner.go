package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	obsmetrics "github.com/smallbiznis/simstore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// Task is a unit of background work.
type Task func(ctx context.Context) error

// TaskError reports a failed background task.
type TaskError struct {
	Name string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Runner starts fire-and-forget goroutines. Callers never observe task
// results; failures flow to an error channel drained by the runner.
type Runner struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	errs    chan TaskError
	wg      sync.WaitGroup
	drained chan struct{}
	failed  atomic.Int64
	started atomic.Bool

	mu     sync.RWMutex
	closed bool
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle        `optional:"true"`
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

func NewRunner(p Params) *Runner {
	r := New(p.Log, p.Metrics)
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				r.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return r.Shutdown(ctx)
			},
		})
	}
	return r
}

// New returns a runner that is not yet draining errors; call Start.
func New(log *zap.Logger, metrics *obsmetrics.Metrics) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		log:     log.Named("async"),
		metrics: metrics,
		errs:    make(chan TaskError, 64),
		drained: make(chan struct{}),
	}
}

// Start launches the error drain. Safe to call more than once.
func (r *Runner) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.drain()
}

// Go runs fn in the background. The task keeps ctx values but not its
// cancellation, so a finished request does not abort it.
func (r *Runner) Go(ctx context.Context, name string, fn Task) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("runner closed, dropping task", zap.String("task", name))
		return
	}
	r.Start()

	taskCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.run(taskCtx, name, fn); err != nil {
			r.failed.Add(1)
			r.errs <- TaskError{Name: name, Err: err}
		}
	}()
}

func (r *Runner) run(ctx context.Context, name string, fn Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", name, rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every task started so far has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Failed returns how many tasks have failed since start.
func (r *Runner) Failed() int64 {
	return r.failed.Load()
}

// Shutdown stops accepting tasks and waits for in-flight ones or ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("background tasks still running at shutdown")
		return ctx.Err()
	}

	close(r.errs)
	if r.started.Load() {
		<-r.drained
	}
	return nil
}

func (r *Runner) drain() {
	defer close(r.drained)
	for taskErr := range r.errs {
		r.log.Error("background task failed",
			zap.String("task", taskErr.Name),
			zap.Error(taskErr.Err),
		)
		r.metrics.RecordBackgroundError(context.Background(), taskErr.Name)
	}
}
