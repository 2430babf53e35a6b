// Package async runs fire-and-forget work off the caller's goroutine with a
// bounded number of concurrent workers and a drain on shutdown.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by tasks submitted after Close.
var ErrClosed = errors.New("runner closed")

// Task is the handle of submitted work.
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed when the work has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the work finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runner executes tasks in background goroutines.
type Runner struct {
	wg     sync.WaitGroup
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	logger *slog.Logger
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New returns a runner allowing at most workers tasks to run at once.
func New(workers int, opts ...Option) *Runner {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sem:    make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Go schedules fn. It never blocks the caller. Errors are logged under name
// and also reported through the returned Task.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) *Task {
	t, err := r.Submit(name, fn)
	if err != nil {
		t = &Task{done: make(chan struct{}), err: err}
		close(t.done)
	}
	return t
}

// Submit is Go for callers that must undo their own bookkeeping when the
// work is refused: it returns ErrClosed, and no task, once Close was called.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) (*Task, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	t := &Task{done: make(chan struct{})}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(t.done)

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("background task panicked", "task", name, "panic", p)
				t.err = errors.New("background task panicked")
			}
		}()

		if err := fn(r.ctx); err != nil {
			t.err = err
			r.logger.ErrorContext(r.ctx, "background task failed", "task", name, "error", err)
		}
	}()
	return t, nil
}

// Wait blocks until every task submitted so far has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight ones, or until ctx
// ends, after which running tasks see their context cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.closed.Store(true)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
