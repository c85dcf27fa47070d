package queue

import (
	"context"
	"sync"
)

// Pending is the handle for a task added to a Queue.
type Pending[R any] struct {
	once  sync.Once
	done  chan struct{}
	value R
	err   error
}

func newPending[R any]() *Pending[R] {
	return &Pending[R]{done: make(chan struct{})}
}

func (p *Pending[R]) settle(v R, err error) {
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
	})
}

// Done is closed once the task has settled.
func (p *Pending[R]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the task settles or ctx is done.
// A done ctx does not cancel the task itself.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
