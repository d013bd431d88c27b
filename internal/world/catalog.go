// Package world implements the World registry (spec §4.5): the
// catalog of rooms and shards, placement strategies, scaling, and the
// heartbeat sweep that reclaims inactive shards. It is grounded on
// the teacher's rooms.Manager — the in-memory room table generalizes
// to a room/shard catalog, and the periodic evictColdRooms sweep
// generalizes to the shard inactivity sweep.
package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roomfabric/engine/internal/storage"
)

// Strategy names a placement algorithm (spec §4.5 step 3).
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round-robin"
	StrategyLeastConnections Strategy = "least-connections"
	StrategyRandom           Strategy = "random"
)

// ShardStatus is a shard's lifecycle state.
type ShardStatus string

const (
	ShardActive   ShardStatus = "active"
	ShardDraining ShardStatus = "draining"
)

// RoomConfig is the mutable configuration a room is registered under
// (spec §6.4's `path`/`maxUsers`/throttle/`sessionExpiryTime` keys,
// plus the placement knobs spec §4.5 names).
type RoomConfig struct {
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	Strategy          Strategy `json:"strategy"`
	MinShards         int      `json:"minShards"`
	MaxShards         int      `json:"maxShards"`
	ThrottleSyncMS    int      `json:"throttleSyncMs"`
	ThrottlePersistMS int      `json:"throttlePersistMs"`
	SessionExpiryMS   int      `json:"sessionExpiryTime"`
	MaxUsers          int      `json:"maxUsers,omitempty"`
	URLTemplate       string   `json:"urlTemplate,omitempty"`
}

// ShardInfo is one shard's catalog entry.
type ShardInfo struct {
	ID               string      `json:"id"`
	RoomID           string      `json:"roomId"`
	URL              string      `json:"url"`
	MaxConnections   int         `json:"maxConnections"`
	CurrentConns     int         `json:"currentConnections"`
	Status           ShardStatus `json:"status"`
	LastHeartbeat    time.Time   `json:"lastHeartbeat"`
}

// RoomInfo is the read-only view spec §6.2's /room-info returns.
type RoomInfo struct {
	RoomConfig
	Shards []ShardInfo `json:"shards"`
}

var (
	// ErrUnknownRoom is returned when an operation names a room the
	// catalog has never seen.
	ErrUnknownRoom = errors.New("world: unknown room")
	// ErrNoActiveShards is returned by placement when a room has no
	// active shard and autoCreate is false.
	ErrNoActiveShards = errors.New("world: no active shards for room")
	// ErrScaleOverMax is returned when a scale target exceeds the
	// room's configured maximum.
	ErrScaleOverMax = errors.New("world: scale target exceeds maxShards")
	// ErrDuplicateShard is returned by RegisterShard for an id already
	// present in the catalog.
	ErrDuplicateShard = errors.New("world: shard id already registered")
)

// Catalog snapshot keys (spec §6.3 "rooms, shards, roomShards,
// rrCounters (world only) — catalog snapshots"): one KV entry per
// collection, written back in full on every mutation, the way
// session.Save rewrites the whole session record rather than patching
// fields in place.
const (
	catalogKeyRooms      = "rooms"
	catalogKeyShards     = "shards"
	catalogKeyRoomShards = "roomShards"
	catalogKeyRRCounters = "rrCounters"
)

// Registry holds the full room/shard catalog for one world and
// implements the placement, registration, and scaling operations spec
// §4.5 describes. All state is guarded by a single mutex; a world's
// request volume (registrations, scale calls, heartbeats) is orders of
// magnitude lower than a room's per-message traffic, so unlike Server
// there is no need for an actor loop here — the teacher's Manager
// likewise guards its room table with a plain sync.RWMutex rather than
// a dedicated goroutine.
type Registry struct {
	mu sync.RWMutex
	kv storage.KV

	rooms      map[string]*RoomConfig
	shards     map[string]*ShardInfo // shard id -> info
	roomShards map[string][]string   // room id -> ordered shard ids (registration order)
	rrCounters map[string]int        // room id -> round-robin cursor
}

// NewRegistry returns a catalog backed by kv, reloading whatever
// rooms/shards/placement state a previous process persisted (spec
// §6.3) so a world restart doesn't forget its catalog the way a
// purely in-memory map would.
func NewRegistry(kv storage.KV) (*Registry, error) {
	r := &Registry{
		kv:         kv,
		rooms:      make(map[string]*RoomConfig),
		shards:     make(map[string]*ShardInfo),
		roomShards: make(map[string][]string),
		rrCounters: make(map[string]int),
	}
	ctx := context.Background()
	if err := loadCatalogJSON(ctx, kv, catalogKeyRooms, &r.rooms); err != nil {
		return nil, err
	}
	if err := loadCatalogJSON(ctx, kv, catalogKeyShards, &r.shards); err != nil {
		return nil, err
	}
	if err := loadCatalogJSON(ctx, kv, catalogKeyRoomShards, &r.roomShards); err != nil {
		return nil, err
	}
	if err := loadCatalogJSON(ctx, kv, catalogKeyRRCounters, &r.rrCounters); err != nil {
		return nil, err
	}
	return r, nil
}

// KV exposes the registry's storage adapter to the HTTP router so
// session-transfer endpoints can share the same backend without the
// router holding a second KV handle.
func (r *Registry) KV() storage.KV { return r.kv }

func loadCatalogJSON(ctx context.Context, kv storage.KV, key string, v any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return json.Unmarshal(raw, v)
}

// persistLocked writes the full catalog back to kv. Called with mu
// held after every mutation; a world's catalog rarely exceeds a few
// hundred rooms/shards, so rewriting all four collections per call is
// cheap next to the registration/scaling traffic that triggers it.
func (r *Registry) persistLocked() error {
	ctx := context.Background()
	if err := saveCatalogJSON(ctx, r.kv, catalogKeyRooms, r.rooms); err != nil {
		return err
	}
	if err := saveCatalogJSON(ctx, r.kv, catalogKeyShards, r.shards); err != nil {
		return err
	}
	if err := saveCatalogJSON(ctx, r.kv, catalogKeyRoomShards, r.roomShards); err != nil {
		return err
	}
	return saveCatalogJSON(ctx, r.kv, catalogKeyRRCounters, r.rrCounters)
}

func saveCatalogJSON(ctx context.Context, kv storage.KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("world: encoding %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw)
}

func cloneConfig(c *RoomConfig) RoomConfig { return *c }

func defaultedConfig(cfg RoomConfig) RoomConfig {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRoundRobin
	}
	if cfg.MinShards <= 0 {
		cfg.MinShards = 1
	}
	if cfg.MaxShards <= 0 {
		cfg.MaxShards = cfg.MinShards
	}
	if cfg.ThrottleSyncMS <= 0 {
		cfg.ThrottleSyncMS = 500
	}
	if cfg.ThrottlePersistMS <= 0 {
		cfg.ThrottlePersistMS = 2000
	}
	return cfg
}

// RegisterRoom implements spec §4.5 "Registration": idempotent — a
// missing room is created with minShards shards provisioned; a
// present room has its mutable fields updated in place and its shards
// left untouched (spec §9 "Scale-up in registerRoom... this spec picks
// no").
func (r *Registry) RegisterRoom(cfg RoomConfig) (RoomInfo, error) {
	cfg = defaultedConfig(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rooms[cfg.Name]
	if ok {
		existing.Path = cfg.Path
		existing.Strategy = cfg.Strategy
		existing.MinShards = cfg.MinShards
		existing.MaxShards = cfg.MaxShards
		existing.ThrottleSyncMS = cfg.ThrottleSyncMS
		existing.ThrottlePersistMS = cfg.ThrottlePersistMS
		existing.SessionExpiryMS = cfg.SessionExpiryMS
		existing.MaxUsers = cfg.MaxUsers
		if cfg.URLTemplate != "" {
			existing.URLTemplate = cfg.URLTemplate
		}
		if err := r.persistLocked(); err != nil {
			return RoomInfo{}, err
		}
		return r.roomInfoLocked(cfg.Name), nil
	}

	stored := cfg
	r.rooms[cfg.Name] = &stored
	for i := 0; i < cfg.MinShards; i++ {
		r.provisionShardLocked(cfg.Name, &stored, i)
	}
	if err := r.persistLocked(); err != nil {
		return RoomInfo{}, err
	}
	return r.roomInfoLocked(cfg.Name), nil
}

func (r *Registry) provisionShardLocked(roomID string, cfg *RoomConfig, index int) ShardInfo {
	id := fmt.Sprintf("%s-%d-%d", roomID, time.Now().UnixNano(), index)
	url := cfg.URLTemplate
	if url == "" {
		url = fmt.Sprintf("ws://localhost:8080/rooms/%s/%s", roomID, id)
	} else {
		url = fmt.Sprintf(url, id)
	}
	shard := ShardInfo{
		ID:             id,
		RoomID:         roomID,
		URL:            url,
		MaxConnections: 0,
		Status:         ShardActive,
		LastHeartbeat:  time.Now(),
	}
	r.shards[id] = &shard
	r.roomShards[roomID] = append(r.roomShards[roomID], id)
	return shard
}

// RegisterShard implements spec §4.5: rejects an unknown room, and an
// id collision, then records the shard as active with zeroed
// connections and a fresh heartbeat.
func (r *Registry) RegisterShard(id, roomID, url string, maxConnections int) (ShardInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return ShardInfo{}, ErrUnknownRoom
	}
	if _, ok := r.shards[id]; ok {
		return ShardInfo{}, ErrDuplicateShard
	}

	shard := ShardInfo{
		ID:             id,
		RoomID:         roomID,
		URL:            url,
		MaxConnections: maxConnections,
		Status:         ShardActive,
		LastHeartbeat:  time.Now(),
	}
	r.shards[id] = &shard
	r.roomShards[roomID] = append(r.roomShards[roomID], id)
	if err := r.persistLocked(); err != nil {
		return ShardInfo{}, err
	}
	return shard, nil
}

// UpdateShardStats implements spec §4.5's updateShardStats: refresh
// connections/status and stamp lastHeartbeat.
func (r *Registry) UpdateShardStats(shardID string, connections int, status ShardStatus) (ShardInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shard, ok := r.shards[shardID]
	if !ok {
		return ShardInfo{}, fmt.Errorf("world: unknown shard %s", shardID)
	}
	shard.CurrentConns = connections
	if status != "" {
		shard.Status = status
	}
	shard.LastHeartbeat = time.Now()
	if err := r.persistLocked(); err != nil {
		return ShardInfo{}, err
	}
	return *shard, nil
}

// RoomInfo returns the catalog entry for roomID.
func (r *Registry) RoomInfo(roomID string) (RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.rooms[roomID]; !ok {
		return RoomInfo{}, false
	}
	return r.roomInfoLocked(roomID), true
}

// AllRoomInfo returns every room's catalog entry.
func (r *Registry) AllRoomInfo() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, r.roomInfoLocked(id))
	}
	return out
}

func (r *Registry) roomInfoLocked(roomID string) RoomInfo {
	cfg := cloneConfig(r.rooms[roomID])
	info := RoomInfo{RoomConfig: cfg}
	for _, sid := range r.roomShards[roomID] {
		if s, ok := r.shards[sid]; ok {
			info.Shards = append(info.Shards, *s)
		}
	}
	return info
}
