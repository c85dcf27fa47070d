// Package queue bounds the number of simultaneously running tasks.
//
// Tasks start in the order they were added and finish in whatever order
// they complete. A failing task settles its own Pending handle and never
// stops the queue from draining the rest of the backlog.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxConcurrency is used when New receives a value below 1.
const DefaultMaxConcurrency = 3

// ErrQueueClosed is returned by tasks added after Close.
var ErrQueueClosed = errors.New("queue is closed")

// Task is a deferred computation run by the queue.
type Task[R any] func(ctx context.Context) (R, error)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used to report failed tasks.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithName tags log lines with the queue name.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// Queue is a FIFO task queue with at most maxConcurrency running tasks.
// It is safe for concurrent use.
type Queue struct {
	maxConcurrency int
	name           string
	logger         zerolog.Logger

	mu      sync.Mutex
	backlog []*entry
	running int
	closed  bool
	// idle is closed whenever nothing is queued or running.
	idle chan struct{}
}

// entry is one queued task. run settles the caller's Pending handle.
type entry struct {
	ctx context.Context
	run func(ctx context.Context) error
}

// New creates a queue. maxConcurrency below 1 selects DefaultMaxConcurrency.
func New(maxConcurrency int, opts ...Option) *Queue {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}

	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		maxConcurrency: maxConcurrency,
		name:           "default",
		logger:         zerolog.Nop(),
		idle:           idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add enqueues task and returns a handle that settles when the task does.
//
// ctx is passed to the task. If ctx is done before the task starts, the
// task is skipped and the handle settles with ctx.Err().
func Add[R any](ctx context.Context, q *Queue, task Task[R]) *Pending[R] {
	p := newPending[R]()

	e := &entry{
		ctx: ctx,
		run: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				var zero R
				p.settle(zero, err)
				q.logger.Debug().
					Str("component", "queue").
					Str("queue", q.name).
					Err(err).
					Msg("task skipped")
				return nil
			}
			v, err := safeRun(ctx, task)
			p.settle(v, err)
			return err
		},
	}

	if !q.enqueue(e) {
		var zero R
		p.settle(zero, ErrQueueClosed)
	}
	return p
}

// Submit enqueues a task that only reports an error.
func Submit(ctx context.Context, q *Queue, fn func(ctx context.Context) error) *Pending[struct{}] {
	return Add(ctx, q, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Size returns the number of tasks that have not started yet.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Running returns the number of tasks currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// IsRunning reports whether at least one task is executing.
func (q *Queue) IsRunning() bool {
	return q.Running() > 0
}

// MaxConcurrency returns the configured concurrency bound.
func (q *Queue) MaxConcurrency() int {
	return q.maxConcurrency
}

// Wait blocks until nothing is queued or running, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for the backlog to drain.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Wait(ctx)
}

func (q *Queue) enqueue(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.running == 0 && len(q.backlog) == 0 {
		q.idle = make(chan struct{})
	}
	q.backlog = append(q.backlog, e)
	q.startLocked()
	return true
}

// startLocked starts backlog entries while slots are free. Must hold q.mu.
func (q *Queue) startLocked() {
	for q.running < q.maxConcurrency && len(q.backlog) > 0 {
		e := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		q.running++
		go q.execute(e)
	}
}

func (q *Queue) execute(e *entry) {
	if err := e.run(e.ctx); err != nil {
		q.logger.Warn().
			Str("component", "queue").
			Str("queue", q.name).
			Err(err).
			Msg("task failed")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	q.startLocked()
	if q.running == 0 && len(q.backlog) == 0 {
		close(q.idle)
	}
}

func safeRun[R any](ctx context.Context, task Task[R]) (v R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}
