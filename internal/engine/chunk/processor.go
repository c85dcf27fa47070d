package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default chunk processing configuration.
const (
	// DefaultDelay is the cooldown applied between chunks when Options.Delay is zero.
	DefaultDelay = 10 * time.Millisecond

	// MinChunkSize is the minimum allowed chunk size.
	MinChunkSize = 1
)

// Common chunk processing errors.
var (
	ErrInvalidChunkSize = errors.New("chunk size must be at least 1")
	ErrNilProcessor     = errors.New("chunk processor function cannot be nil")
)

// Func transforms a single item. index is the item's position in the input.
type Func[T, R any] func(ctx context.Context, item T, index int) (R, error)

// Options configures a chunked run.
type Options[T any] struct {
	// ChunkSize is the number of items processed before the inter-chunk delay.
	ChunkSize int

	// Delay is the pause after each chunk except the last.
	// Zero selects DefaultDelay; a negative value disables the pause.
	Delay time.Duration

	// OnProgress is called after every item with the cumulative success count.
	OnProgress func(processed, total int)

	// OnChunkComplete is called once per chunk with the successes in that chunk.
	OnChunkComplete func(chunkIndex, processedCount int)

	// OnError is called for every failed item.
	OnError func(err error, item T, index int)
}

// ItemError records a failed item together with its input index.
type ItemError[T any] struct {
	Item  T
	Index int
	Err   error
}

// Error implements the error interface.
func (e ItemError[T]) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying failure.
func (e ItemError[T]) Unwrap() error {
	return e.Err
}

// Result is the aggregate outcome of a chunked run.
type Result[T, R any] struct {
	// Processed holds successful results in completion order.
	Processed []R

	// Errors holds every failed item in attempt order.
	Errors []ItemError[T]

	TotalProcessed int
	TotalErrors    int
}

// Attempted returns the number of items that were handed to the processor.
func (r *Result[T, R]) Attempted() int {
	return r.TotalProcessed + r.TotalErrors
}

// ProcessInChunks runs fn over items in chunks of opts.ChunkSize.
//
// A failing item never stops the run. When ctx is cancelled the run stops
// before the next item (or during the cooldown) and the partial result is
// returned together with ctx.Err().
func ProcessInChunks[T, R any](
	ctx context.Context,
	items []T,
	fn Func[T, R],
	opts Options[T],
) (*Result[T, R], error) {
	if opts.ChunkSize < MinChunkSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, opts.ChunkSize)
	}
	if fn == nil {
		return nil, ErrNilProcessor
	}

	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}

	result := &Result[T, R]{
		Processed: make([]R, 0, len(items)),
	}
	total := len(items)

	for i, bounds := range CalculateChunks(total, opts.ChunkSize) {
		chunkProcessed := 0

		for index := bounds[0]; index < bounds[1]; index++ {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			item := items[index]
			out, err := invoke(ctx, fn, item, index)
			if err != nil {
				result.Errors = append(result.Errors, ItemError[T]{Item: item, Index: index, Err: err})
				result.TotalErrors++
				if opts.OnError != nil {
					opts.OnError(err, item, index)
				}
			} else {
				result.Processed = append(result.Processed, out)
				result.TotalProcessed++
				chunkProcessed++
			}

			if opts.OnProgress != nil {
				opts.OnProgress(result.TotalProcessed, total)
			}
		}

		if opts.OnChunkComplete != nil {
			opts.OnChunkComplete(i, chunkProcessed)
		}

		if delay > 0 && bounds[1] < total {
			if err := sleep(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// CalculateChunks returns the chunk boundaries for the given item count.
// Returns a slice of [start, end) index pairs.
func CalculateChunks(totalItems, chunkSize int) [][2]int {
	if chunkSize < MinChunkSize || totalItems <= 0 {
		return nil
	}

	count := totalItems / chunkSize
	if totalItems%chunkSize > 0 {
		count++
	}

	chunks := make([][2]int, count)
	for i := range count {
		start := i * chunkSize
		end := min(start+chunkSize, totalItems)
		chunks[i] = [2]int{start, end}
	}

	return chunks
}

// invoke calls fn and converts a panic into an ordinary item error.
func invoke[T, R any](ctx context.Context, fn Func[T, R], item T, index int) (out R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = fmt.Errorf("panic: %w", recErr)
				return
			}
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, item, index)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
