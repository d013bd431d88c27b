package signal

import "sync"

// dependency is the minimal surface a signal must expose to participate
// in a Computed's invalidation graph, regardless of its element type.
type dependency interface {
	OnAnyChange(fn func()) func()
}

// Computed is a lazily-recomputed derived value (spec §4.1 "computed
// signals"). Unlike the source's implicit tracking, dependencies are
// declared explicitly at construction — see the package doc comment
// for why.
type Computed[T any] struct {
	observerSet[ScalarChange[T]]
	mu        sync.Mutex
	fn        func() T
	deps      []dependency
	unsubs    []func()
	stale     bool
	value     T
	evaluated bool
}

// NewComputed builds a Computed that recomputes fn whenever any of deps
// changes. The first Get triggers the initial evaluation; recomputation
// after that is lazy (on the next Get following a dependency change)
// unless a subscriber is attached, in which case it recomputes eagerly
// so subscribers see every value.
func NewComputed[T any](deps []dependency, fn func() T) *Computed[T] {
	c := &Computed[T]{fn: fn, deps: deps, stale: true}
	for _, d := range deps {
		c.unsubs = append(c.unsubs, d.OnAnyChange(c.markStale))
	}
	return c
}

func (c *Computed[T]) markStale() {
	c.mu.Lock()
	hasSubscribers := len(c.observers) > 0
	c.stale = true
	c.mu.Unlock()

	if hasSubscribers {
		c.emit(ScalarChange[T]{Kind: ChangeSet, Value: c.Get()})
	}
}

// Get returns the current value, recomputing first if stale.
func (c *Computed[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale || !c.evaluated {
		c.value = c.fn()
		c.stale = false
		c.evaluated = true
	}
	return c.value
}

// Subscribe registers fn to be called whenever the computed value
// changes. The computed is evaluated eagerly from that point on.
func (c *Computed[T]) Subscribe(fn func(ScalarChange[T])) func() {
	return c.subscribe(fn)
}

// Close releases the computed's subscriptions to its dependencies.
func (c *Computed[T]) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
}
