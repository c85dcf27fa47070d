// Package batcher accumulates items and hands them to a handler in batches.
//
// A batch is flushed when it reaches the configured size or when the flush
// timeout elapses, whichever comes first. The pending batch is cut before the
// handler runs, so items added during a flush start a new batch and every
// item reaches the handler exactly once. Handler failures are logged and the
// batch is dropped: delivery is at-most-once.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults used when New receives non-positive values.
const (
	DefaultBatchSize = 10
	DefaultTimeout   = time.Second
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batcher is closed")

// Handler processes one flushed batch.
type Handler[T any] func(ctx context.Context, batch []T) error

// Option configures a Batcher.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	name    string
	maxWait bool
}

// WithLogger sets the logger used to report handler failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithName tags log lines with the batcher name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxWait measures the timeout from the first item of a batch instead of
// the most recent one, bounding how long an item can wait.
func WithMaxWait() Option {
	return func(o *options) { o.maxWait = true }
}

// Stats counts flushed batches.
type Stats struct {
	Batches  int
	Items    int
	Failures int
}

// Batcher accumulates items of type T. It is safe for concurrent use.
type Batcher[T any] struct {
	ctx       context.Context
	handler   Handler[T]
	batchSize int
	timeout   time.Duration
	opts      options

	mu    sync.Mutex
	batch []T
	timer *time.Timer
	// gen invalidates timer callbacks that fire after their timer was replaced.
	gen      uint64
	queue    []*flush[T]
	stats    Stats
	closed   bool
	stopping bool

	wake    chan struct{}
	stopped chan struct{}
}

type flush[T any] struct {
	items []T
	done  chan struct{}
}

// New creates a Batcher and starts its dispatcher. ctx is passed to every
// handler call. Close must be called to release the dispatcher.
func New[T any](
	ctx context.Context,
	handler Handler[T],
	batchSize int,
	timeout time.Duration,
	opts ...Option,
) *Batcher[T] {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	o := options{logger: zerolog.Nop(), name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Batcher[T]{
		ctx:       ctx,
		handler:   handler,
		batchSize: batchSize,
		timeout:   timeout,
		opts:      o,
		batch:     make([]T, 0, batchSize),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Add appends item to the pending batch, flushing it when it is full.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.batch = append(b.batch, item)

	if len(b.batch) >= b.batchSize {
		b.enqueueLocked(b.cutLocked())
		return nil
	}

	if !b.opts.maxWait || b.timer == nil {
		b.armLocked()
	}
	return nil
}

// Flush hands the pending batch to the handler and waits for it to finish.
// Flushing an empty batch is a no-op. Handler failures are logged, not returned.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	f := b.cutLocked()
	b.enqueueLocked(f)
	b.mu.Unlock()

	if f == nil {
		return nil
	}

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount returns the size of the unflushed batch.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// Stats returns counters for completed flushes.
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close flushes the pending batch, waits for queued flushes to finish and
// stops the dispatcher. Further Adds return ErrClosed.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.enqueueLocked(b.cutLocked())
		b.stopTimerLocked()
		b.stopping = true
		b.signal()
	}
	b.mu.Unlock()

	select {
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cutLocked moves the pending items into a flush. Must hold b.mu.
func (b *Batcher[T]) cutLocked() *flush[T] {
	b.stopTimerLocked()
	if len(b.batch) == 0 {
		return nil
	}

	f := &flush[T]{items: b.batch, done: make(chan struct{})}
	b.batch = make([]T, 0, b.batchSize)
	return f
}

func (b *Batcher[T]) enqueueLocked(f *flush[T]) {
	if f == nil {
		return
	}
	b.queue = append(b.queue, f)
	b.signal()
}

// armLocked replaces the flush timer. Must hold b.mu.
func (b *Batcher[T]) armLocked() {
	b.stopTimerLocked()
	gen := b.gen
	b.timer = time.AfterFunc(b.timeout, func() { b.onTimeout(gen) })
}

// stopTimerLocked clears the flush timer. Must hold b.mu.
func (b *Batcher[T]) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

func (b *Batcher[T]) onTimeout(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.timer = nil
	b.enqueueLocked(b.cutLocked())
}

func (b *Batcher[T]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// dispatch runs flushes one at a time in the order they were cut.
func (b *Batcher[T]) dispatch() {
	defer close(b.stopped)

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			stopping := b.stopping
			b.mu.Unlock()
			if stopping {
				return
			}
			<-b.wake
			continue
		}
		f := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.run(f)
	}
}

func (b *Batcher[T]) run(f *flush[T]) {
	defer close(f.done)

	err := b.callHandler(f.items)

	b.mu.Lock()
	b.stats.Batches++
	b.stats.Items += len(f.items)
	if err != nil {
		b.stats.Failures++
	}
	b.mu.Unlock()

	if err != nil {
		b.opts.logger.Error().
			Str("component", "batcher").
			Str("batcher", b.opts.name).
			Int("batch_size", len(f.items)).
			Err(err).
			Msg("batch processing failed")
	}
}

func (b *Batcher[T]) callHandler(items []T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("batch handler panicked: %v", rec)
		}
	}()
	return b.handler(b.ctx, items)
}
