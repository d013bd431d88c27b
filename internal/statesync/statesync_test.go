package statesync

import (
	"testing"
	"time"

	"github.com/roomfabric/engine/internal/signal"
)

func TestScalarBindEmitsInitialValueThenThrottlesFollowingChanges(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		50*time.Millisecond, 0,
	)

	count := signal.NewScalar(0)
	unbind := BindScalar(e, "count", count)
	defer unbind()

	if len(syncPatches) != 1 || syncPatches[0]["count"] != 0 {
		t.Fatalf("expected bind to flush the signal's current value immediately, got %v", syncPatches)
	}

	count.Set(1)

	if len(syncPatches) != 1 {
		t.Fatalf("expected the post-bind change to buffer until the throttle fires, got %v", syncPatches)
	}

	time.Sleep(70 * time.Millisecond)

	if len(syncPatches) != 2 || syncPatches[1]["count"] != 1 {
		t.Fatalf("expected a trailing flush carrying the buffered value, got %v", syncPatches)
	}
}

func TestScalarBindAccumulatesWithinThrottleWindow(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		30*time.Millisecond, 0,
	)

	count := signal.NewScalar(0)
	unbind := BindScalar(e, "count", count)
	defer unbind()

	if len(syncPatches) != 1 {
		t.Fatalf("expected the bind-time initial flush, got %v", syncPatches)
	}

	count.Set(1)
	count.Set(2)
	count.Set(3)

	if len(syncPatches) != 1 {
		t.Fatalf("expected changes within the window to buffer, got %v", syncPatches)
	}

	time.Sleep(60 * time.Millisecond)

	if len(syncPatches) != 2 {
		t.Fatalf("expected trailing flush after throttle window, got %v", syncPatches)
	}
	if syncPatches[1]["count"] != 3 {
		t.Fatalf("trailing flush should carry the latest value, got %v", syncPatches[1])
	}
}

func TestZeroThrottleFlushesEveryChange(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		0, 0,
	)

	count := signal.NewScalar(0)
	unbind := BindScalar(e, "count", count)
	defer unbind()

	if len(syncPatches) != 1 || syncPatches[0]["count"] != 0 {
		t.Fatalf("expected bind to flush the initial value immediately, got %v", syncPatches)
	}

	count.Set(1)
	count.Set(2)

	if len(syncPatches) != 3 {
		t.Fatalf("expected one flush per change on top of the initial bind flush, got %v", syncPatches)
	}
	if syncPatches[1]["count"] != 1 || syncPatches[2]["count"] != 2 {
		t.Fatalf("unexpected patch values: %v", syncPatches)
	}
}

func TestSnapshotFoldsDeleteSentinel(t *testing.T) {
	e := New(func(map[string]any) {}, func(map[string]any) {}, 0, 0)

	users := signal.NewMap[int](nil)
	unbind := BindMap(e, "users", users)
	defer unbind()

	users.Set("alice", 1)
	users.Set("bob", 2)

	snap := e.Snapshot()
	if snap["users.alice"] != 1 || snap["users.bob"] != 2 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}

	users.Delete("alice")
	snap = e.Snapshot()
	if _, ok := snap["users.alice"]; ok {
		t.Fatalf("expected users.alice to be folded out of snapshot: %v", snap)
	}
	if snap["users.bob"] != 2 {
		t.Fatalf("unrelated keys should survive a delete: %v", snap)
	}
}

func TestManualSyncModeBuffersUntilApplySync(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		10*time.Millisecond, 0,
	)
	e.SetManualSync(true)

	count := signal.NewScalar(0)
	unbind := BindScalar(e, "count", count)
	defer unbind()

	count.Set(1)
	count.Set(2)
	time.Sleep(30 * time.Millisecond)

	if len(syncPatches) != 0 {
		t.Fatalf("manual sync mode must not auto-flush, got %v", syncPatches)
	}

	e.ApplySync()

	if len(syncPatches) != 1 || syncPatches[0]["count"] != 2 {
		t.Fatalf("ApplySync should flush the buffered latest value, got %v", syncPatches)
	}
}

func TestExpandFoldsDottedPathsIntoTree(t *testing.T) {
	flat := map[string]any{
		"count":             1,
		"users.alice.name":  "Alice",
		"users.alice.score": 3,
		"users.bob.name":    "Bob",
	}
	tree := Expand(flat)

	users, ok := tree["users"].(map[string]any)
	if !ok {
		t.Fatalf("expected users subtree, got %v", tree)
	}
	alice, ok := users["alice"].(map[string]any)
	if !ok || alice["name"] != "Alice" || alice["score"] != 3 {
		t.Fatalf("unexpected alice subtree: %v", alice)
	}
	if tree["count"] != 1 {
		t.Fatalf("expected top-level count, got %v", tree["count"])
	}
}

func TestSliceBindEmitsPerIndexEntries(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		0, 0,
	)

	board := signal.NewSlice([]int{})
	unbind := BindSlice(e, "board", board)
	defer unbind()

	board.Push(10, 20)

	if len(syncPatches) != 2 {
		t.Fatalf("expected one entry per pushed item, got %v", syncPatches)
	}
	if syncPatches[0]["board.0"] != 10 || syncPatches[1]["board.1"] != 20 {
		t.Fatalf("unexpected patches: %v", syncPatches)
	}
}

type testUser struct {
	Name *signal.Scalar[string]
}

func (u *testUser) Bind(e *Engine, path string) func() {
	return BindScalar(e, path+".name", u.Name)
}

func TestBindMapOfEntitiesBindsAndUnbindsNestedFields(t *testing.T) {
	var syncPatches []map[string]any
	e := New(
		func(p map[string]any) { syncPatches = append(syncPatches, p) },
		func(p map[string]any) {},
		0, 0,
	)

	users := signal.NewMap[*testUser](nil)
	unbind := BindMapOfEntities(e, "users", users)
	defer unbind()

	alice := &testUser{Name: signal.NewScalar("Alice")}
	users.Set("alice", alice)

	alice.Name.Set("Alicia")

	found := false
	for _, p := range syncPatches {
		if p["users.alice.name"] == "Alicia" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a sync patch for users.alice.name, got %v", syncPatches)
	}

	users.Delete("alice")
	alice.Name.Set("ShouldNotSync")

	for _, p := range syncPatches {
		if p["users.alice.name"] == "ShouldNotSync" {
			t.Fatalf("entity should be unbound after removal, got %v", syncPatches)
		}
	}
}

func TestBindMapOfEntitiesEmitsPreExistingFieldValueOnAdd(t *testing.T) {
	e := New(func(map[string]any) {}, func(map[string]any) {}, 0, 0)

	users := signal.NewMap[*testUser](nil)
	unbind := BindMapOfEntities(e, "users", users)
	defer unbind()

	alice := &testUser{Name: signal.NewScalar("Alice")}
	users.Set("alice", alice)

	snap := e.Snapshot()
	if snap["users.alice.name"] != "Alice" {
		t.Fatalf("expected the entity's pre-existing field value to land in the snapshot immediately after Set, without any further mutation, got %v", snap)
	}
}
