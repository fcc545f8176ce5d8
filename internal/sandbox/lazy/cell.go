// Package lazy provides a load-once cell for expensive process-wide resources.
package lazy

import (
	"context"
	"sync"
)

// Cell holds a value that is loaded on first use.
// Concurrent first callers share a single in-flight load.
// A failed load is not cached, so the next caller retries it.
type Cell[T any] struct {
	load func(ctx context.Context) (T, error)

	mu      sync.Mutex
	loaded  bool
	value   T
	pending *call[T]
}

type call[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// New creates a cell that calls load to produce its value.
func New[T any](load func(ctx context.Context) (T, error)) *Cell[T] {
	return &Cell[T]{load: load}
}

// Get returns the loaded value, loading it if necessary.
// A caller whose context ends while waiting on someone else's load returns the context error;
// the load itself continues for the other waiters.
func (c *Cell[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.loaded {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		return c.wait(ctx, p)
	}
	p := &call[T]{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), p)
	return c.wait(ctx, p)
}

func (c *Cell[T]) run(ctx context.Context, p *call[T]) {
	v, err := c.load(ctx)

	c.mu.Lock()
	p.value, p.err = v, err
	if err == nil {
		c.value = v
		c.loaded = true
	}
	c.pending = nil
	c.mu.Unlock()

	close(p.done)
}

func (c *Cell[T]) wait(ctx context.Context, p *call[T]) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Loaded reports whether a value has been loaded successfully.
func (c *Cell[T]) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Reset drops the loaded value so the next Get loads again.
func (c *Cell[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.loaded = false
}
