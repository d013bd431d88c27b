package world

import (
	"math/rand"
	"sort"
)

// Placement is what GetOptimalShard returns (spec §4.5 step 4).
type Placement struct {
	ShardID string `json:"shardId"`
	URL     string `json:"url"`
}

// GetOptimalShard implements spec §4.5's placement algorithm. If the
// room is unknown and autoCreate is true, it is created with
// defaults; if no active shards exist and autoCreate is true, one is
// provisioned from the room's URL template.
func (r *Registry) GetOptimalShard(roomID string, autoCreate bool) (Placement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.rooms[roomID]
	if !ok {
		if !autoCreate {
			return Placement{}, ErrUnknownRoom
		}
		stored := defaultedConfig(RoomConfig{Name: roomID, Path: roomID})
		r.rooms[roomID] = &stored
		cfg = &stored
	}

	active := r.activeShardsLocked(roomID)
	if len(active) == 0 {
		if !autoCreate {
			return Placement{}, ErrNoActiveShards
		}
		shard := r.provisionShardLocked(roomID, cfg, len(r.roomShards[roomID]))
		active = []*ShardInfo{&shard}
	}

	chosen := r.selectLocked(roomID, cfg.Strategy, active)
	if err := r.persistLocked(); err != nil {
		return Placement{}, err
	}
	return Placement{ShardID: chosen.ID, URL: chosen.URL}, nil
}

func (r *Registry) activeShardsLocked(roomID string) []*ShardInfo {
	var out []*ShardInfo
	for _, id := range r.roomShards[roomID] {
		if s, ok := r.shards[id]; ok && s.Status == ShardActive {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) selectLocked(roomID string, strategy Strategy, active []*ShardInfo) *ShardInfo {
	switch strategy {
	case StrategyLeastConnections:
		return leastConnections(active)
	case StrategyRandom:
		return active[rand.Intn(len(active))]
	default:
		return r.roundRobin(roomID, active)
	}
}

// roundRobin advances the room's counter and returns
// shards[(counter+1) mod N], matching spec §4.5 step 3 exactly.
func (r *Registry) roundRobin(roomID string, active []*ShardInfo) *ShardInfo {
	n := len(active)
	next := (r.rrCounters[roomID] + 1) % n
	r.rrCounters[roomID] = next
	return active[next]
}

// leastConnections picks the argmin over CurrentConns, breaking ties
// by the lowest shard id for determinism (spec §4.5 step 3).
func leastConnections(active []*ShardInfo) *ShardInfo {
	best := active[0]
	for _, s := range active[1:] {
		if s.CurrentConns < best.CurrentConns || (s.CurrentConns == best.CurrentConns && s.ID < best.ID) {
			best = s
		}
	}
	return best
}

// ScaleShardsForRoom implements spec §4.5's scaling algorithm.
func (r *Registry) ScaleShardsForRoom(roomID string, target int, template *RoomConfig) (RoomInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.rooms[roomID]
	if !ok {
		return RoomInfo{}, ErrUnknownRoom
	}
	if target > cfg.MaxShards {
		return RoomInfo{}, ErrScaleOverMax
	}
	if target < cfg.MinShards {
		target = cfg.MinShards
	}

	current := r.roomShards[roomID]
	switch {
	case target < len(current):
		r.scaleDownLocked(roomID, len(current)-target)
	case target > len(current):
		provisionCfg := cfg
		if template != nil {
			merged := *cfg
			if template.URLTemplate != "" {
				merged.URLTemplate = template.URLTemplate
			}
			provisionCfg = &merged
		}
		for i := 0; i < target-len(current); i++ {
			r.provisionShardLocked(roomID, provisionCfg, len(r.roomShards[roomID]))
		}
	}

	if err := r.persistLocked(); err != nil {
		return RoomInfo{}, err
	}
	return r.roomInfoLocked(roomID), nil
}

// scaleDownLocked removes n shards, preferring draining ones first
// then ascending CurrentConns (spec §4.5 step 2).
func (r *Registry) scaleDownLocked(roomID string, n int) {
	ids := append([]string(nil), r.roomShards[roomID]...)
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.shards[ids[i]], r.shards[ids[j]]
		if (a.Status == ShardDraining) != (b.Status == ShardDraining) {
			return a.Status == ShardDraining
		}
		return a.CurrentConns < b.CurrentConns
	})

	remove := make(map[string]bool, n)
	for i := 0; i < n && i < len(ids); i++ {
		remove[ids[i]] = true
	}

	kept := r.roomShards[roomID][:0]
	for _, id := range r.roomShards[roomID] {
		if remove[id] {
			delete(r.shards, id)
			continue
		}
		kept = append(kept, id)
	}
	r.roomShards[roomID] = kept
}
