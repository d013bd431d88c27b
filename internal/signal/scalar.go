package signal

// ScalarChange describes a change to a Scalar's value. Kind is always
// ChangeSet for a scalar — there is no add/remove granularity for a
// single cell.
type ScalarChange[T any] struct {
	Kind  ChangeKind
	Value T
}

// Scalar is a single observable value cell (spec §4.1 "read/set/mutate
// on a primitive or object field").
type Scalar[T any] struct {
	observerSet[ScalarChange[T]]
	opts  Options
	value T
}

// NewScalar creates a Scalar seeded with initial, using DefaultOptions.
func NewScalar[T any](initial T) *Scalar[T] {
	return NewScalarWithOptions(initial, DefaultOptions())
}

// NewScalarWithOptions creates a Scalar with explicit sync/persist/transform options.
func NewScalarWithOptions[T any](initial T, opts Options) *Scalar[T] {
	return &Scalar[T]{opts: opts, value: initial}
}

// Options returns the signal's sync/persist configuration.
func (s *Scalar[T]) Options() Options { return s.opts }

// Get returns the current value.
func (s *Scalar[T]) Get() T {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()
	return v
}

// Set replaces the value and notifies subscribers.
func (s *Scalar[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
	s.emit(ScalarChange[T]{Kind: ChangeSet, Value: v})
}

// Update reads the current value, applies fn, and sets the result.
func (s *Scalar[T]) Update(fn func(T) T) {
	s.mu.Lock()
	next := fn(s.value)
	s.value = next
	s.mu.Unlock()
	s.emit(ScalarChange[T]{Kind: ChangeSet, Value: next})
}

// Subscribe registers fn to be called on every change. The returned
// func unsubscribes.
func (s *Scalar[T]) Subscribe(fn func(ScalarChange[T])) func() {
	return s.subscribe(fn)
}

// OnAnyChange registers fn to be called on every change without
// delivering the change payload; used by the sync engine's generic
// dirty-tracking path.
func (s *Scalar[T]) OnAnyChange(fn func()) func() {
	return s.onAnyChange(fn)
}
