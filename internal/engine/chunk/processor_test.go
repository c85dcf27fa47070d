package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func double(_ context.Context, n int, _ int) (int, error) {
	return n * 2, nil
}

func TestProcessInChunks(t *testing.T) {
	t.Run("DoublesInOrder", func(t *testing.T) {
		var chunkSizes []int
		var chunkIndexes []int

		res, err := ProcessInChunks(context.Background(), []int{1, 2, 3, 4, 5}, double, Options[int]{
			ChunkSize: 2,
			Delay:     -1,
			OnChunkComplete: func(chunkIndex, processedCount int) {
				chunkIndexes = append(chunkIndexes, chunkIndex)
				chunkSizes = append(chunkSizes, processedCount)
			},
		})
		require.NoError(t, err)

		assert.Equal(t, []int{2, 4, 6, 8, 10}, res.Processed)
		assert.Equal(t, 5, res.TotalProcessed)
		assert.Equal(t, 0, res.TotalErrors)
		assert.Empty(t, res.Errors)
		assert.Equal(t, []int{0, 1, 2}, chunkIndexes)
		assert.Equal(t, []int{2, 2, 1}, chunkSizes)
	})

	t.Run("FailuresDoNotStopRun", func(t *testing.T) {
		items := []string{"a", "bad", "c", "bad", "e"}
		var reported []int

		res, err := ProcessInChunks(context.Background(), items,
			func(_ context.Context, s string, _ int) (string, error) {
				if s == "bad" {
					return "", errors.New("rejected")
				}
				return strings.ToUpper(s), nil
			},
			Options[string]{
				ChunkSize: 2,
				Delay:     -1,
				OnError: func(err error, item string, index int) {
					assert.EqualError(t, err, "rejected")
					assert.Equal(t, "bad", item)
					reported = append(reported, index)
				},
			})
		require.NoError(t, err)

		assert.Equal(t, []string{"A", "C", "E"}, res.Processed)
		assert.Equal(t, 3, res.TotalProcessed)
		assert.Equal(t, 2, res.TotalErrors)
		assert.Equal(t, []int{1, 3}, reported)
		require.Len(t, res.Errors, 2)
		assert.Equal(t, 1, res.Errors[0].Index)
		assert.Equal(t, 3, res.Errors[1].Index)
		assert.Equal(t, "bad", res.Errors[1].Item)
		assert.Equal(t, 5, res.Attempted())
	})

	t.Run("PanicBecomesItemError", func(t *testing.T) {
		res, err := ProcessInChunks(context.Background(), []int{1, 2},
			func(_ context.Context, n int, _ int) (int, error) {
				if n == 2 {
					panic("boom")
				}
				return n, nil
			},
			Options[int]{ChunkSize: 1, Delay: -1})
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0].Err.Error(), "boom")
		assert.Equal(t, 1, res.TotalProcessed)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		calls := 0
		res, err := ProcessInChunks(context.Background(), nil, double, Options[int]{
			ChunkSize:       3,
			OnChunkComplete: func(int, int) { calls++ },
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Attempted())
		assert.Equal(t, 0, calls)
	})

	t.Run("InvalidChunkSize", func(t *testing.T) {
		_, err := ProcessInChunks(context.Background(), []int{1}, double, Options[int]{})
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
	})

	t.Run("NilProcessor", func(t *testing.T) {
		_, err := ProcessInChunks[int, int](context.Background(), []int{1}, nil, Options[int]{ChunkSize: 1})
		assert.ErrorIs(t, err, ErrNilProcessor)
	})
}

func TestProcessInChunks_Completeness(t *testing.T) {
	for _, length := range []int{0, 1, 7, 10, 23} {
		for _, size := range []int{1, 3, 10, 50} {
			t.Run(fmt.Sprintf("len=%d/size=%d", length, size), func(t *testing.T) {
				items := make([]int, length)
				for i := range items {
					items[i] = i
				}

				chunks := 0
				last := -1
				res, err := ProcessInChunks(context.Background(), items,
					func(_ context.Context, n int, _ int) (int, error) {
						if n%4 == 0 {
							return 0, errors.New("every fourth fails")
						}
						return n, nil
					},
					Options[int]{
						ChunkSize:       size,
						Delay:           -1,
						OnChunkComplete: func(int, int) { chunks++ },
						OnProgress: func(processed, total int) {
							assert.GreaterOrEqual(t, processed, last)
							assert.Equal(t, length, total)
							last = processed
						},
					})
				require.NoError(t, err)

				assert.Equal(t, length, res.TotalProcessed+res.TotalErrors)
				assert.Equal(t, (length+size-1)/size, chunks)
				if length > 0 {
					assert.Equal(t, res.TotalProcessed, last)
				}
			})
		}
	}
}

func TestProcessInChunks_Delay(t *testing.T) {
	var starts []time.Time
	_, err := ProcessInChunks(context.Background(), []int{1, 2, 3},
		func(_ context.Context, n int, _ int) (int, error) {
			starts = append(starts, time.Now())
			return n, nil
		},
		Options[int]{ChunkSize: 1, Delay: 30 * time.Millisecond})
	require.NoError(t, err)

	require.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 30*time.Millisecond)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[1]), 30*time.Millisecond)
}

func TestProcessInChunks_NoDelayAfterLastChunk(t *testing.T) {
	start := time.Now()
	_, err := ProcessInChunks(context.Background(), []int{1, 2}, double,
		Options[int]{ChunkSize: 2, Delay: time.Second})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProcessInChunks_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := ProcessInChunks(ctx, []int{1, 2, 3, 4},
		func(_ context.Context, n int, _ int) (int, error) {
			if n == 2 {
				cancel()
			}
			return n, nil
		},
		Options[int]{ChunkSize: 10, Delay: -1})

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, []int{1, 2}, res.Processed)
	assert.Equal(t, 2, res.Attempted())
}

func TestProcessInChunks_CancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := ProcessInChunks(ctx, []int{1, 2}, double,
		Options[int]{ChunkSize: 1, Delay: time.Minute})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, res.TotalProcessed)
}

func TestCalculateChunks(t *testing.T) {
	chunks := CalculateChunks(25, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, [2]int{0, 10}, chunks[0])
	assert.Equal(t, [2]int{10, 20}, chunks[1])
	assert.Equal(t, [2]int{20, 25}, chunks[2])

	assert.Nil(t, CalculateChunks(0, 10))
	assert.Nil(t, CalculateChunks(10, 0))
}

func TestItemError(t *testing.T) {
	base := errors.New("upload failed")
	e := ItemError[string]{Item: "a.png", Index: 4, Err: base}
	assert.Equal(t, "item 4: upload failed", e.Error())
	assert.ErrorIs(t, e, base)
}
