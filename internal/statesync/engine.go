// Package statesync is the diff/sync engine described in spec §4.2: it
// walks a room's bound signals, accumulates their changes into a sync
// cache and a persist cache keyed by dotted path, and flushes each on
// its own trailing-edge throttle. It replaces the source's
// decorator-driven reflection with explicit Bind* calls — the static
// descriptor spec §9 calls for.
package statesync

import (
	"sync"
	"time"
)

// Engine owns one room's sync cache, persist cache, and full-state
// snapshot. It is safe for concurrent use: field bindings deliver
// changes from whatever goroutine mutated the signal (normally the
// room's single dispatch goroutine), and throttle timers fire on their
// own goroutine.
type Engine struct {
	mu sync.Mutex

	manualSync bool

	syncThrottle time.Duration
	syncBuffer   map[string]any
	syncArmed    bool
	syncTimer    *time.Timer

	persistThrottle time.Duration
	persistBuffer   map[string]any
	persistArmed    bool
	persistTimer    *time.Timer

	snapshot map[string]any

	onSync    func(patch map[string]any)
	onPersist func(patch map[string]any)
}

// New builds an Engine. onSync is invoked with a dotted-path patch
// whenever the sync throttle fires; onPersist similarly for the
// persist cache. A zero throttle disables batching for that cache:
// every change flushes immediately, which test code relies on.
func New(onSync, onPersist func(map[string]any), syncThrottle, persistThrottle time.Duration) *Engine {
	return &Engine{
		syncThrottle:    syncThrottle,
		persistThrottle: persistThrottle,
		syncBuffer:      make(map[string]any),
		persistBuffer:   make(map[string]any),
		snapshot:        make(map[string]any),
		onSync:          onSync,
		onPersist:       onPersist,
	}
}

// SetManualSync toggles manual sync mode (spec §4.2). While enabled,
// changes accumulate in the sync buffer but onSync is never invoked
// automatically; ApplySync must be called explicitly. Disabling it
// resumes the normal throttle on the next change; entries buffered
// while manual go out with that change's flush.
func (e *Engine) SetManualSync(manual bool) {
	e.mu.Lock()
	e.manualSync = manual
	e.mu.Unlock()
}

// ApplySync flushes whatever is currently buffered for sync,
// regardless of throttle or manual-mode state.
func (e *Engine) ApplySync() {
	e.mu.Lock()
	if len(e.syncBuffer) == 0 {
		e.mu.Unlock()
		return
	}
	patch := e.syncBuffer
	e.syncBuffer = make(map[string]any)
	if e.syncTimer != nil {
		e.syncTimer.Stop()
		e.syncTimer = nil
	}
	e.syncArmed = false
	e.mu.Unlock()
	e.onSync(patch)
}

// Snapshot returns a copy of the cumulative fold of every sync value
// ever recorded, honoring delete semantics — the payload sent to a
// newly joined connection (spec §4.2 "snapshot of the full state").
func (e *Engine) Snapshot() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.snapshot))
	for k, v := range e.snapshot {
		out[k] = v
	}
	return out
}

// recordSync folds v into the snapshot and schedules it for
// broadcast. Implements the trailing-edge throttle from spec §9: the
// first change in a quiet period flushes immediately and arms the
// timer; subsequent changes before the timer fires accumulate and are
// flushed together when it does.
func (e *Engine) recordSync(path string, v any) {
	e.mu.Lock()
	foldSnapshot(e.snapshot, path, v)

	if e.manualSync {
		e.syncBuffer[path] = v
		e.mu.Unlock()
		return
	}

	if e.syncThrottle <= 0 {
		patch := e.syncBuffer
		patch[path] = v
		e.syncBuffer = make(map[string]any)
		e.mu.Unlock()
		e.onSync(patch)
		return
	}

	if !e.syncArmed {
		e.syncArmed = true
		e.syncTimer = time.AfterFunc(e.syncThrottle, e.fireSyncTimer)
		patch := e.syncBuffer
		patch[path] = v
		e.syncBuffer = make(map[string]any)
		e.mu.Unlock()
		e.onSync(patch)
		return
	}

	e.syncBuffer[path] = v
	e.mu.Unlock()
}

func (e *Engine) fireSyncTimer() {
	e.mu.Lock()
	e.syncArmed = false
	e.syncTimer = nil
	if len(e.syncBuffer) == 0 {
		e.mu.Unlock()
		return
	}
	patch := e.syncBuffer
	e.syncBuffer = make(map[string]any)
	e.mu.Unlock()
	e.onSync(patch)
}

// recordPersist schedules v for the next persist flush. Only scalar
// leaves are ever passed in here (Bind* enforces this — see bind.go);
// nested collections are skipped at the scalar level per spec §4.2.
func (e *Engine) recordPersist(path string, v any) {
	e.mu.Lock()

	if e.persistThrottle <= 0 {
		e.mu.Unlock()
		e.onPersist(map[string]any{path: v})
		return
	}

	if !e.persistArmed {
		e.persistArmed = true
		e.persistTimer = time.AfterFunc(e.persistThrottle, e.firePersistTimer)
		e.mu.Unlock()
		e.onPersist(map[string]any{path: v})
		return
	}

	e.persistBuffer[path] = v
	e.mu.Unlock()
}

func (e *Engine) firePersistTimer() {
	e.mu.Lock()
	e.persistArmed = false
	e.persistTimer = nil
	if len(e.persistBuffer) == 0 {
		e.mu.Unlock()
		return
	}
	patch := e.persistBuffer
	e.persistBuffer = make(map[string]any)
	e.mu.Unlock()
	e.onPersist(patch)
}

// Close stops any armed throttle timers. Call it when a room shuts
// down so its timers don't fire after the room is gone.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncTimer != nil {
		e.syncTimer.Stop()
	}
	if e.persistTimer != nil {
		e.persistTimer.Stop()
	}
}
