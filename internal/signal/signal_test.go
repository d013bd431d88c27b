package signal

import "testing"

func TestScalarSetNotifiesSubscribers(t *testing.T) {
	s := NewScalar(0)
	var got []int
	s.Subscribe(func(c ScalarChange[int]) { got = append(got, c.Value) })

	s.Set(1)
	s.Update(func(v int) int { return v + 10 })

	if s.Get() != 11 {
		t.Fatalf("Get() = %d, want 11", s.Get())
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 11 {
		t.Fatalf("subscriber saw %v, want [1 11]", got)
	}
}

func TestSlicePushEmitsAdd(t *testing.T) {
	s := NewSlice([]string{"a"})
	var changes []SliceChange[string]
	s.Subscribe(func(c SliceChange[string]) { changes = append(changes, c) })

	s.Push("b", "c")

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if len(changes) != 1 || changes[0].Kind != ChangeAdd || changes[0].Index != 1 {
		t.Fatalf("unexpected change: %+v", changes)
	}
}

func TestSlicePopEmitsRemove(t *testing.T) {
	s := NewSlice([]int{1, 2, 3})
	var last SliceChange[int]
	s.Subscribe(func(c SliceChange[int]) { last = c })

	v, ok := s.Pop()
	if !ok || v != 3 {
		t.Fatalf("Pop() = %d, %v, want 3, true", v, ok)
	}
	if last.Kind != ChangeRemove || len(last.Items) != 1 || last.Items[0] != 3 {
		t.Fatalf("unexpected change: %+v", last)
	}
}

func TestSliceSpliceReplaceEmitsUpdate(t *testing.T) {
	s := NewSlice([]int{1, 2, 3})
	var last SliceChange[int]
	s.Subscribe(func(c SliceChange[int]) { last = c })

	removed := s.Splice(1, 1, 99)

	if len(removed) != 1 || removed[0] != 2 {
		t.Fatalf("Splice removed = %v, want [2]", removed)
	}
	if last.Kind != ChangeUpdate || last.Index != 1 || last.Items[0] != 99 {
		t.Fatalf("unexpected change: %+v", last)
	}
	if got := s.Get(); got[1] != 99 {
		t.Fatalf("Get() = %v, want [1 99 3]", got)
	}
}

func TestSliceSetEmitsReset(t *testing.T) {
	s := NewSlice([]int{1, 2, 3})
	var last SliceChange[int]
	s.Subscribe(func(c SliceChange[int]) { last = c })

	s.Set([]int{7, 8})

	if last.Kind != ChangeReset || len(last.Items) != 2 {
		t.Fatalf("unexpected change: %+v", last)
	}
}

func TestMapSetEmitsAddThenUpdate(t *testing.T) {
	m := NewMap[int](nil)
	var kinds []ChangeKind
	m.Subscribe(func(c MapChange[int]) { kinds = append(kinds, c.Kind) })

	m.Set("alice", 1)
	m.Set("alice", 2)

	if len(kinds) != 2 || kinds[0] != ChangeAdd || kinds[1] != ChangeUpdate {
		t.Fatalf("kinds = %v, want [add update]", kinds)
	}
	v, ok := m.Get("alice")
	if !ok || v != 2 {
		t.Fatalf("Get(alice) = %d, %v, want 2, true", v, ok)
	}
}

func TestMapDeleteEmitsRemoveOnlyWhenPresent(t *testing.T) {
	m := NewMap(map[string]int{"a": 1})
	var events int
	m.Subscribe(func(c MapChange[int]) { events++ })

	m.Delete("missing")
	m.Delete("a")

	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected a to be removed")
	}
}

func TestMapMutateDiffsAddUpdateRemove(t *testing.T) {
	m := NewMap(map[string]int{"a": 1, "b": 2})
	var adds, updates, removes int
	m.Subscribe(func(c MapChange[int]) {
		switch c.Kind {
		case ChangeAdd:
			adds++
		case ChangeUpdate:
			updates++
		case ChangeRemove:
			removes++
		}
	})

	m.Mutate(func(items map[string]int) {
		items["a"] = 100 // update
		items["c"] = 3   // add
		delete(items, "b")
	})

	if adds != 1 || updates != 1 || removes != 1 {
		t.Fatalf("adds=%d updates=%d removes=%d, want 1,1,1", adds, updates, removes)
	}
}

func TestComputedRecomputesOnDependencyChange(t *testing.T) {
	base := NewScalar(2)
	doubled := NewComputed[int]([]dependency{base}, func() int { return base.Get() * 2 })

	if doubled.Get() != 4 {
		t.Fatalf("Get() = %d, want 4", doubled.Get())
	}

	base.Set(5)
	if doubled.Get() != 10 {
		t.Fatalf("Get() after dependency change = %d, want 10", doubled.Get())
	}
}

func TestComputedSubscriberSeesEagerUpdates(t *testing.T) {
	base := NewScalar(1)
	doubled := NewComputed[int]([]dependency{base}, func() int { return base.Get() * 2 })

	var got []int
	doubled.Subscribe(func(c ScalarChange[int]) { got = append(got, c.Value) })

	base.Set(3)
	base.Set(4)

	if len(got) != 2 || got[0] != 6 || got[1] != 8 {
		t.Fatalf("got = %v, want [6 8]", got)
	}
}

func TestUntrackedRunsFn(t *testing.T) {
	ran := false
	Untracked(func() { ran = true })
	if !ran {
		t.Fatal("Untracked did not run fn")
	}
}

func TestDeleteSentinel(t *testing.T) {
	if !IsDelete(Delete) {
		t.Fatal("IsDelete(Delete) = false, want true")
	}
	if IsDelete("not delete") {
		t.Fatal("IsDelete(\"not delete\") = true, want false")
	}
}
