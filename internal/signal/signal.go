// Package signal implements the reactive core described in spec §4.1:
// observable scalar, array ("slice" in Go), and map value cells that emit
// typed change events to subscribers. The sync/diff engine in
// internal/statesync is the primary consumer of these events, but any
// caller may subscribe directly.
//
// Dependency tracking for computed signals is explicit rather than
// implicit (see Computed in computed.go) — a deliberate deviation from the
// source's ambient-tracking model, documented in DESIGN.md.
package signal

import "sync"

// ChangeKind enumerates the change shapes a signal can emit.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
	ChangeReset  ChangeKind = "reset"
)

// Options configures how a signal field participates in synchronization
// and persistence. The zero value disables both sync and persist;
// DefaultOptions returns the defaults spec §3 describes (both enabled),
// and NewScalar/NewSlice/NewMap use it.
type Options struct {
	// SyncToClient controls whether changes are written into the sync
	// cache for broadcast. True in DefaultOptions.
	SyncToClient bool
	// Persist controls whether changes are written into the persist
	// cache for durability. True in DefaultOptions.
	Persist bool
	// Transform, if set, is applied to a value before it is written into
	// either cache. Never applied to the delete sentinel.
	Transform func(any) any
}

// DefaultOptions returns the spec-mandated defaults: sync and persist
// both enabled, no transform.
func DefaultOptions() Options {
	return Options{SyncToClient: true, Persist: true}
}

// Delete is the distinguished sentinel written into the sync cache to
// signal key removal (spec §3 "Delete sentinel", wire-encoded as
// "$delete" per §6.1).
type deleteSentinel struct{}

// MarshalJSON encodes the delete sentinel as the wire protocol's
// "$delete" marker (spec §6.1).
func (deleteSentinel) MarshalJSON() ([]byte, error) {
	return []byte(`"$delete"`), nil
}

// Delete is the sentinel value denoting removal of a keyed entry.
var Delete any = deleteSentinel{}

// IsDelete reports whether v is the delete sentinel.
func IsDelete(v any) bool {
	_, ok := v.(deleteSentinel)
	return ok
}

// observerSet is embedded by every signal kind to manage subscriber
// bookkeeping under a single mutex discipline: mutate the slice under
// lock, invoke callbacks outside the lock so a subscriber can safely
// subscribe/unsubscribe or re-enter the signal.
type observerSet[E any] struct {
	mu        sync.Mutex
	observers map[int]func(E)
	anyHooks  map[int]func()
	nextID    int
}

func (o *observerSet[E]) init() {
	if o.observers == nil {
		o.observers = make(map[int]func(E))
		o.anyHooks = make(map[int]func())
	}
}

func (o *observerSet[E]) subscribe(fn func(E)) func() {
	o.mu.Lock()
	o.init()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

func (o *observerSet[E]) onAnyChange(fn func()) func() {
	o.mu.Lock()
	o.init()
	id := o.nextID
	o.nextID++
	o.anyHooks[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.anyHooks, id)
		o.mu.Unlock()
	}
}

func (o *observerSet[E]) emit(change E) {
	o.mu.Lock()
	subs := make([]func(E), 0, len(o.observers))
	for _, fn := range o.observers {
		subs = append(subs, fn)
	}
	hooks := make([]func(), 0, len(o.anyHooks))
	for _, fn := range o.anyHooks {
		hooks = append(hooks, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
	for _, fn := range hooks {
		fn()
	}
}

// Untracked runs fn. Dependency tracking in this engine is explicit
// (declared when a Computed is constructed, see computed.go) rather than
// collected implicitly while reading signals, so there is nothing for
// Untracked to suppress; it exists for parity with spec §4.1 and as the
// documented seam where a goroutine-local tracking stack could be
// reintroduced if implicit collection is ever needed.
func Untracked(fn func()) {
	fn()
}
