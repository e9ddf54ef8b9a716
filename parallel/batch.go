package parallel

import (
	"context"
	"iter"
	"sync"
)

// Cell is a single-assignment value guarded by a condition variable.
// The zero value is ready to use.
type Cell[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	set  bool
	v    T
}

func (c *Cell[T]) init() {
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
}

// Set stores v and wakes all waiters. Only the first Set takes effect;
// it reports whether v was stored.
func (c *Cell[T]) Set(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.init()
	if c.set {
		return false
	}
	c.v, c.set = v, true
	c.cond.Broadcast()
	return true
}

// Wait blocks until the cell is set and returns its value.
func (c *Cell[T]) Wait() T {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.init()
	for !c.set {
		c.cond.Wait()
	}
	return c.v
}

// TryGet returns the value without blocking.
func (c *Cell[T]) TryGet() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v, c.set
}

// Batch is a Run executing in the background.
type Batch struct {
	done Cell[error]
}

// Start runs the batch in a new goroutine.
func Start[T any](ctx context.Context, w Worker[T], seq iter.Seq[T], optFns ...Option) *Batch {
	b := &Batch{}
	go func() {
		b.done.Set(Run(ctx, w, seq, optFns...))
	}()
	return b
}

// Wait blocks until the batch has finished and returns its error.
func (b *Batch) Wait() error { return b.done.Wait() }

// Done reports whether the batch has finished.
func (b *Batch) Done() bool {
	_, ok := b.done.TryGet()
	return ok
}
