// Package flight collapses concurrent calls that share a key into one
// execution. Unlike x/sync/singleflight the shared work runs on a context
// detached from any single caller and is cancelled only once every waiter
// has given up.
package flight

import (
	"context"
	"fmt"
	"sync"
)

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
	joined  int
	dropped bool
	cancel  context.CancelFunc
}

type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

// Do runs fn once per key among concurrent callers. shared reports whether
// the result was also delivered to other callers. A caller whose ctx ends
// returns ctx.Err(); when it was the last waiter the shared context is
// cancelled. A caller arriving at an abandoned call waits for it to unwind
// before starting a new one, so two executions for a key never overlap.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	for {
		g.mu.Lock()
		if g.calls == nil {
			g.calls = make(map[string]*call[T])
		}
		c, ok := g.calls[key]
		if ok && c.dropped {
			g.mu.Unlock()
			select {
			case <-c.done:
				continue
			case <-ctx.Done():
				var zero T
				return zero, false, ctx.Err()
			}
		}
		if !ok {
			runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			c = &call[T]{done: make(chan struct{}), cancel: cancel}
			g.calls[key] = c
			go g.run(runCtx, key, c, fn)
		}
		c.waiters++
		c.joined++
		g.mu.Unlock()

		select {
		case <-c.done:
			g.mu.Lock()
			shared = c.joined > 1
			c.waiters--
			g.mu.Unlock()
			return c.val, shared, c.err
		case <-ctx.Done():
			g.mu.Lock()
			c.waiters--
			if c.waiters == 0 {
				c.dropped = true
				c.cancel()
			}
			g.mu.Unlock()
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer c.cancel()
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("flight %q: panic: %v", key, r)
			}
		}()
		c.val, c.err = fn(ctx)
	}()
	g.mu.Lock()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
	close(c.done)
}

// InFlight reports whether work for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}

func (g *Group[T]) waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.waiters
	}
	return 0
}
