package statesync

import (
	"strconv"
	"sync"

	"github.com/roomfabric/engine/internal/signal"
)

// BindScalar subscribes a scalar signal to the engine under path,
// respecting the signal's sync/persist/transform options, and emits
// the signal's current value into the caches immediately (spec §4.2
// rule 3's "emit the subtree's initial state into the caches" applies
// at every bind point, not only the entity-map case). The returned
// func unsubscribes.
func BindScalar[T any](e *Engine, path string, s *signal.Scalar[T]) func() {
	opts := s.Options()
	deliver(e, path, s.Get(), opts)
	return s.Subscribe(func(c signal.ScalarChange[T]) {
		deliver(e, path, c.Value, opts)
	})
}

// BindSlice subscribes an array signal under path, seeding the caches
// with every current element before watching for future changes.
// Whole-array changes are delivered to the sync cache as one entry per
// index; per spec §4.2 only scalar leaves are persisted, so a bound
// slice is never written to the persist cache regardless of its
// Options.
func BindSlice[T any](e *Engine, path string, s *signal.Slice[T]) func() {
	opts := s.Options()
	opts.Persist = false
	for i, item := range s.Get() {
		deliver(e, indexPath(path, i), item, opts)
	}
	return s.Subscribe(func(c signal.SliceChange[T]) {
		switch c.Kind {
		case signal.ChangeAdd, signal.ChangeUpdate:
			for i, item := range c.Items {
				deliver(e, indexPath(path, c.Index+i), item, opts)
			}
		case signal.ChangeRemove:
			for i := range c.Items {
				deliver(e, indexPath(path, c.Index+i), signal.Delete, opts)
			}
		case signal.ChangeReset:
			for i, item := range c.Items {
				deliver(e, indexPath(path, i), item, opts)
			}
		}
	})
}

// BindMap subscribes a map-of-scalars signal under path, seeding the
// caches with every key already present, then emitting one sync entry
// per key thereafter (rather than replaying the whole map on every
// change) so clients only receive the keys that actually moved. Like
// BindSlice, a bound map is never persisted as a whole; nested
// entities with their own scalar fields persist at their own bound
// paths (see BindMapOfEntities).
func BindMap[T any](e *Engine, path string, m *signal.Map[T]) func() {
	opts := m.Options()
	opts.Persist = false
	for k, v := range m.Snapshot() {
		deliver(e, keyPath(path, k), v, opts)
	}
	return m.Subscribe(func(c signal.MapChange[T]) {
		switch c.Kind {
		case signal.ChangeAdd, signal.ChangeUpdate:
			deliver(e, keyPath(path, c.Key), c.Value, opts)
		case signal.ChangeRemove:
			deliver(e, keyPath(path, c.Key), signal.Delete, opts)
		case signal.ChangeReset:
			deliver(e, path, c.Snapshot, opts)
		}
	})
}

// Entity is implemented by a room's keyed sub-objects (e.g. a
// connected user) whose own fields need binding whenever the entity
// is added to a signal.Map. Bind wires the entity's fields under
// path and returns the func that tears those bindings down.
type Entity interface {
	Bind(e *Engine, path string) func()
}

// BindMapOfEntities subscribes a map of Entity values under path,
// binding each entity's own fields under "path.key" as it is added
// and unbinding them as it is removed or replaced. This is the static
// stand-in for the source's per-instance decorator walk (spec §9
// "Metaprogramming").
func BindMapOfEntities[T Entity](e *Engine, path string, m *signal.Map[T]) func() {
	var mu sync.Mutex
	unbinds := make(map[string]func())

	bindOne := func(key string, v T) {
		sub := v.Bind(e, keyPath(path, key))
		mu.Lock()
		unbinds[key] = sub
		mu.Unlock()
	}
	unbindOne := func(key string) {
		mu.Lock()
		sub, ok := unbinds[key]
		if ok {
			delete(unbinds, key)
		}
		mu.Unlock()
		if ok {
			sub()
		}
	}

	for k, v := range m.Snapshot() {
		bindOne(k, v)
	}

	unsub := m.Subscribe(func(c signal.MapChange[T]) {
		switch c.Kind {
		case signal.ChangeAdd:
			bindOne(c.Key, c.Value)
		case signal.ChangeUpdate:
			unbindOne(c.Key)
			bindOne(c.Key, c.Value)
		case signal.ChangeRemove:
			unbindOne(c.Key)
			e.recordSync(keyPath(path, c.Key), signal.Delete)
		case signal.ChangeReset:
			mu.Lock()
			keys := make([]string, 0, len(unbinds))
			for k := range unbinds {
				keys = append(keys, k)
			}
			mu.Unlock()
			for _, k := range keys {
				unbindOne(k)
			}
			for k, v := range c.Snapshot {
				bindOne(k, v)
			}
		}
	})

	return func() {
		unsub()
		mu.Lock()
		keys := make([]string, 0, len(unbinds))
		for k := range unbinds {
			keys = append(keys, k)
		}
		mu.Unlock()
		for _, k := range keys {
			unbindOne(k)
		}
	}
}

func deliver(e *Engine, path string, v any, opts signal.Options) {
	if opts.Transform != nil && !signal.IsDelete(v) {
		v = opts.Transform(v)
	}
	if opts.SyncToClient {
		e.recordSync(path, v)
	}
	if opts.Persist {
		e.recordPersist(path, v)
	}
}

func indexPath(base string, i int) string {
	return base + "." + strconv.Itoa(i)
}

func keyPath(base, key string) string {
	return base + "." + key
}
