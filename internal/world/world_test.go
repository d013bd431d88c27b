package world

import (
	"testing"
	"time"

	"github.com/roomfabric/engine/internal/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(storage.NewMemKV())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegisterRoomIsIdempotentAndProvisionsMinShards(t *testing.T) {
	r := newTestRegistry(t)
	cfg := RoomConfig{Name: "lobby", Path: "/lobby", MinShards: 3, MaxShards: 5}

	info, err := r.RegisterRoom(cfg)
	if err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	if len(info.Shards) != 3 {
		t.Fatalf("expected 3 shards, got %d", len(info.Shards))
	}

	cfg.MaxUsers = 50
	info2, err := r.RegisterRoom(cfg)
	if err != nil {
		t.Fatalf("RegisterRoom (update): %v", err)
	}
	if len(info2.Shards) != 3 {
		t.Fatalf("update should not change shard count, got %d", len(info2.Shards))
	}
	if info2.MaxUsers != 50 {
		t.Fatalf("expected updated MaxUsers to stick")
	}
}

func TestRoundRobinPlacementIsStrictlyCyclic(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.RegisterRoom(RoomConfig{Name: "r", MinShards: 3, MaxShards: 3, Strategy: StrategyRoundRobin}); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}

	var ids []string
	for i := 0; i < 4; i++ {
		p, err := r.GetOptimalShard("r", false)
		if err != nil {
			t.Fatalf("GetOptimalShard: %v", err)
		}
		ids = append(ids, p.ShardID)
	}
	if ids[0] != ids[3] {
		t.Fatalf("expected call 4 to repeat call 1's shard cyclically, got %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids[:3] {
		if seen[id] {
			t.Fatalf("expected 3 distinct shards in first cycle, got %v", ids)
		}
		seen[id] = true
	}
}

func TestScaleDownPrefersDraining(t *testing.T) {
	r := newTestRegistry(t)
	info, err := r.RegisterRoom(RoomConfig{Name: "r", MinShards: 3, MaxShards: 3})
	if err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	draining := info.Shards[1].ID
	if _, err := r.UpdateShardStats(draining, 0, ShardDraining); err != nil {
		t.Fatalf("UpdateShardStats: %v", err)
	}

	// Allow shrinking below the registered min for this scenario.
	r.mu.Lock()
	r.rooms["r"].MinShards = 1
	r.mu.Unlock()

	updated, err := r.ScaleShardsForRoom("r", 2, nil)
	if err != nil {
		t.Fatalf("ScaleShardsForRoom: %v", err)
	}
	if len(updated.Shards) != 2 {
		t.Fatalf("expected 2 shards remaining, got %d", len(updated.Shards))
	}
	for _, s := range updated.Shards {
		if s.ID == draining {
			t.Fatalf("expected draining shard %s to be removed", draining)
		}
	}
}

func TestScaleShardsForRoomRejectsOverMax(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.RegisterRoom(RoomConfig{Name: "r", MinShards: 1, MaxShards: 2}); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	if _, err := r.ScaleShardsForRoom("r", 5, nil); err != ErrScaleOverMax {
		t.Fatalf("expected ErrScaleOverMax, got %v", err)
	}
}

func TestInactiveShardReapingMarksDraining(t *testing.T) {
	r := newTestRegistry(t)
	info, err := r.RegisterRoom(RoomConfig{Name: "r", MinShards: 1, MaxShards: 1})
	if err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	id := info.Shards[0].ID

	r.mu.Lock()
	r.shards[id].LastHeartbeat = time.Now().Add(-6 * time.Minute)
	r.mu.Unlock()

	r.sweepOnce(nil, 5*time.Minute)

	r.mu.RLock()
	status := r.shards[id].Status
	r.mu.RUnlock()
	if status != ShardDraining {
		t.Fatalf("expected shard to be draining after sweep, got %s", status)
	}

	if _, err := r.GetOptimalShard("r", false); err != ErrNoActiveShards {
		t.Fatalf("expected draining shard excluded from placement, got %v", err)
	}
}

func TestGetOptimalShardAutoCreatesRoomAndShard(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.GetOptimalShard("fresh-room", true)
	if err != nil {
		t.Fatalf("GetOptimalShard: %v", err)
	}
	if p.ShardID == "" || p.URL == "" {
		t.Fatalf("expected a provisioned shard, got %+v", p)
	}
}

func TestGetOptimalShardErrorsWithoutAutoCreate(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.GetOptimalShard("missing", false); err != ErrUnknownRoom {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestRegisterShardRejectsUnknownRoom(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.RegisterShard("s0", "no-such-room", "ws://x", 10); err != ErrUnknownRoom {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestCatalogSurvivesRegistryRestart(t *testing.T) {
	kv := storage.NewMemKV()

	r, err := NewRegistry(kv)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.RegisterRoom(RoomConfig{Name: "lobby", MinShards: 2, MaxShards: 4}); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}
	if _, err := r.GetOptimalShard("lobby", false); err != nil {
		t.Fatalf("GetOptimalShard: %v", err)
	}

	// Simulate a process restart: a fresh Registry over the same kv
	// must recover the room, its shards, and the round-robin cursor
	// rather than starting from an empty catalog.
	restarted, err := NewRegistry(kv)
	if err != nil {
		t.Fatalf("NewRegistry after restart: %v", err)
	}

	info, ok := restarted.RoomInfo("lobby")
	if !ok {
		t.Fatal("expected lobby to survive a registry restart")
	}
	if len(info.Shards) != 2 {
		t.Fatalf("expected 2 shards to survive, got %d", len(info.Shards))
	}

	restarted.mu.RLock()
	cursor := restarted.rrCounters["lobby"]
	restarted.mu.RUnlock()
	if cursor != 1 {
		t.Fatalf("expected the round-robin cursor to survive the restart at 1, got %d", cursor)
	}
}
