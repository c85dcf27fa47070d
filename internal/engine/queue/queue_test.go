package queue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_Defaults(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrency, New(0).MaxConcurrency())
	assert.Equal(t, DefaultMaxConcurrency, New(-4).MaxConcurrency())
	assert.Equal(t, 7, New(7).MaxConcurrency())

	q := New(2)
	assert.Equal(t, 0, q.Size())
	assert.False(t, q.IsRunning())
	require.NoError(t, q.Wait(testContext(t)))
}

func TestAdd_ReturnsValue(t *testing.T) {
	ctx := testContext(t)
	q := New(3)

	p := Add(ctx, q, func(context.Context) (string, error) { return "done", nil })
	v, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	ctx := testContext(t)
	const limit = 3
	q := New(limit)

	var current, peak atomic.Int32
	pending := make([]*Pending[int], 0, 20)
	for i := range 20 {
		pending = append(pending, Add(ctx, q, func(context.Context) (int, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return i, nil
		}))
	}

	for i, p := range pending {
		v, err := p.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	require.NoError(t, q.Wait(ctx))

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, int32(limit), peak.Load())
	assert.False(t, q.IsRunning())
	assert.Equal(t, 0, q.Size())
}

func TestQueue_FIFOStartOrder(t *testing.T) {
	ctx := testContext(t)
	q := New(1)

	var mu sync.Mutex
	var order []int
	var pending []*Pending[struct{}]
	for i := range 10 {
		pending = append(pending, Submit(ctx, q, func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, p := range pending {
		_, err := p.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueue_FIFOWithSlots(t *testing.T) {
	ctx := testContext(t)
	q := New(3)

	gates := make([]chan struct{}, 6)
	started := make(chan int, 6)
	for i := range gates {
		gates[i] = make(chan struct{})
		Submit(ctx, q, func(context.Context) error {
			started <- i
			<-gates[i]
			return nil
		})
	}

	first := map[int]bool{}
	for range 3 {
		first[<-started] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, first)
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 3, q.Running())
	assert.True(t, q.IsRunning())

	close(gates[1])
	assert.Equal(t, 3, <-started)

	close(gates[0])
	assert.Equal(t, 4, <-started)

	close(gates[2])
	close(gates[3])
	assert.Equal(t, 5, <-started)
	close(gates[4])
	close(gates[5])

	require.NoError(t, q.Wait(ctx))
}

func TestQueue_FailureDoesNotHaltDraining(t *testing.T) {
	ctx := testContext(t)

	var buf bytes.Buffer
	q := New(2, WithLogger(zerolog.New(&buf)), WithName("uploads"))

	boom := errors.New("upload rejected")
	failing := Add(ctx, q, func(context.Context) (int, error) { return 0, boom })
	var ok []*Pending[int]
	for i := range 5 {
		ok = append(ok, Add(ctx, q, func(context.Context) (int, error) { return i, nil }))
	}

	_, err := failing.Wait(ctx)
	require.ErrorIs(t, err, boom)
	for i, p := range ok {
		v, err := p.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	require.NoError(t, q.Wait(ctx))
	assert.Contains(t, buf.String(), "task failed")
	assert.Contains(t, buf.String(), `"queue":"uploads"`)
}

func TestQueue_PanicIsRecovered(t *testing.T) {
	ctx := testContext(t)
	q := New(1)

	p := Add(ctx, q, func(context.Context) (int, error) { panic("bad task") })
	_, err := p.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")

	next := Add(ctx, q, func(context.Context) (int, error) { return 1, nil })
	v, err := next.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestQueue_CancelledBeforeStart(t *testing.T) {
	ctx := testContext(t)
	q := New(1)

	gate := make(chan struct{})
	blocker := Submit(ctx, q, func(context.Context) error {
		<-gate
		return nil
	})

	taskCtx, cancel := context.WithCancel(ctx)
	var ran atomic.Bool
	skipped := Submit(taskCtx, q, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()
	close(gate)

	_, err := blocker.Wait(ctx)
	require.NoError(t, err)
	_, err = skipped.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestQueue_SkippedTaskIsNotLoggedAsFailure(t *testing.T) {
	ctx := testContext(t)
	var buf bytes.Buffer
	q := New(1, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	taskCtx, cancel := context.WithCancel(ctx)
	cancel()
	skipped := Submit(taskCtx, q, func(context.Context) error { return nil })

	_, err := skipped.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, q.Wait(ctx))

	assert.Contains(t, buf.String(), "task skipped")
	assert.NotContains(t, buf.String(), "task failed")
}

func TestQueue_Close(t *testing.T) {
	ctx := testContext(t)
	q := New(2)

	p := Add(ctx, q, func(context.Context) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	})
	require.NoError(t, q.Close(ctx))

	_, err := p.Wait(ctx)
	require.NoError(t, err)

	late := Add(ctx, q, func(context.Context) (int, error) { return 2, nil })
	_, err = late.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestPending_WaitContextDone(t *testing.T) {
	ctx := testContext(t)
	q := New(1)

	gate := make(chan struct{})
	defer close(gate)
	p := Submit(ctx, q, func(context.Context) error {
		<-gate
		return nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := p.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-p.Done():
		t.Fatal("task should still be running")
	default:
	}
}
