package signal

// SliceChange describes a change to a Slice. Index is meaningful for
// Add/Update/Remove; Items carries the affected elements (inserted
// values for Add, the new values for Update, the removed values for
// Remove, and the full contents for Reset). Remove events carry the
// removed items so observers (e.g. the sync cache) can fold them away
// without a second read of the slice.
type SliceChange[T any] struct {
	Kind  ChangeKind
	Index int
	Items []T
}

// Slice is an observable ordered list (spec §4.1's array signal). Diff
// rules match spec §3: Push/Unshift/Splice-insert emit Add, Pop/Shift
// /Splice-remove emit Remove, Splice-replace and SetIndex emit Update,
// and Set (whole-array replace) emits Reset.
type Slice[T any] struct {
	observerSet[SliceChange[T]]
	opts  Options
	items []T
}

// NewSlice creates a Slice seeded with initial, using DefaultOptions.
func NewSlice[T any](initial []T) *Slice[T] {
	return NewSliceWithOptions(initial, DefaultOptions())
}

// NewSliceWithOptions creates a Slice with explicit options.
func NewSliceWithOptions[T any](initial []T, opts Options) *Slice[T] {
	s := &Slice[T]{opts: opts}
	s.items = append(s.items, initial...)
	return s
}

// Options returns the signal's sync/persist configuration.
func (s *Slice[T]) Options() Options { return s.opts }

// Get returns a copy of the current contents.
func (s *Slice[T]) Get() []T {
	s.mu.Lock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	s.mu.Unlock()
	return out
}

// Len returns the current element count.
func (s *Slice[T]) Len() int {
	s.mu.Lock()
	n := len(s.items)
	s.mu.Unlock()
	return n
}

// At returns the element at index i and whether it existed.
func (s *Slice[T]) At(i int) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	return s.items[i], true
}

// Push appends items to the end, emitting Add.
func (s *Slice[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	idx := len(s.items)
	s.items = append(s.items, items...)
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeAdd, Index: idx, Items: items})
}

// Unshift prepends items to the front, emitting Add at index 0.
func (s *Slice[T]) Unshift(items ...T) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	s.items = append(append([]T{}, items...), s.items...)
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeAdd, Index: 0, Items: items})
}

// Pop removes and returns the last element, emitting Remove.
func (s *Slice[T]) Pop() (T, bool) {
	s.mu.Lock()
	var zero T
	n := len(s.items)
	if n == 0 {
		s.mu.Unlock()
		return zero, false
	}
	v := s.items[n-1]
	s.items = s.items[:n-1]
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeRemove, Index: n - 1, Items: []T{v}})
	return v, true
}

// Shift removes and returns the first element, emitting Remove.
func (s *Slice[T]) Shift() (T, bool) {
	s.mu.Lock()
	var zero T
	if len(s.items) == 0 {
		s.mu.Unlock()
		return zero, false
	}
	v := s.items[0]
	s.items = s.items[1:]
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeRemove, Index: 0, Items: []T{v}})
	return v, true
}

// Splice implements the spec's combined insert/remove primitive. Per
// §3's diff rule: deleteCount == 0 with items present emits Add;
// deleteCount > 0 with no items emits Remove; both present emits
// Update at start (only valid when the counts match, mirroring a
// like-for-like replace — a mismatched splice falls back to two
// events, remove then add, since it isn't a pure per-index update).
// Returns the removed elements.
func (s *Slice[T]) Splice(start, deleteCount int, items ...T) []T {
	s.mu.Lock()
	if start < 0 {
		start = 0
	}
	if start > len(s.items) {
		start = len(s.items)
	}
	end := start + deleteCount
	if end > len(s.items) {
		end = len(s.items)
	}
	removed := append([]T{}, s.items[start:end]...)

	rest := append([]T{}, s.items[end:]...)
	s.items = append(s.items[:start], append(append([]T{}, items...), rest...)...)
	s.mu.Unlock()

	switch {
	case len(removed) == 0 && len(items) > 0:
		s.emit(SliceChange[T]{Kind: ChangeAdd, Index: start, Items: items})
	case len(removed) > 0 && len(items) == 0:
		s.emit(SliceChange[T]{Kind: ChangeRemove, Index: start, Items: removed})
	case len(removed) == len(items):
		s.emit(SliceChange[T]{Kind: ChangeUpdate, Index: start, Items: items})
	default:
		if len(removed) > 0 {
			s.emit(SliceChange[T]{Kind: ChangeRemove, Index: start, Items: removed})
		}
		if len(items) > 0 {
			s.emit(SliceChange[T]{Kind: ChangeAdd, Index: start, Items: items})
		}
	}
	return removed
}

// SetIndex overwrites the element at i, emitting Update.
func (s *Slice[T]) SetIndex(i int, v T) {
	s.mu.Lock()
	if i < 0 || i >= len(s.items) {
		s.mu.Unlock()
		return
	}
	s.items[i] = v
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeUpdate, Index: i, Items: []T{v}})
}

// Set replaces the whole contents, emitting Reset.
func (s *Slice[T]) Set(items []T) {
	s.mu.Lock()
	s.items = append([]T{}, items...)
	s.mu.Unlock()
	s.emit(SliceChange[T]{Kind: ChangeReset, Items: append([]T{}, items...)})
}

// Mutate applies fn directly to the backing slice under lock and
// diffs the result against the prior length: a length increase emits
// Add for the appended tail, a decrease emits Remove for the
// truncated tail, and an equal length emits Update for the full
// contents. This approximates the source's proxy-tracked in-place
// edits without requiring one.
func (s *Slice[T]) Mutate(fn func(*[]T)) {
	s.mu.Lock()
	before := append([]T{}, s.items...)
	fn(&s.items)
	after := s.items
	afterCopy := append([]T{}, after...)
	s.mu.Unlock()

	switch {
	case len(afterCopy) > len(before):
		s.emit(SliceChange[T]{Kind: ChangeAdd, Index: len(before), Items: afterCopy[len(before):]})
	case len(afterCopy) < len(before):
		s.emit(SliceChange[T]{Kind: ChangeRemove, Index: len(afterCopy), Items: before[len(afterCopy):]})
	default:
		s.emit(SliceChange[T]{Kind: ChangeUpdate, Index: 0, Items: afterCopy})
	}
}

// Subscribe registers fn to be called on every change.
func (s *Slice[T]) Subscribe(fn func(SliceChange[T])) func() {
	return s.subscribe(fn)
}

// OnAnyChange registers fn to be called on every change without the payload.
func (s *Slice[T]) OnAnyChange(fn func()) func() {
	return s.onAnyChange(fn)
}
