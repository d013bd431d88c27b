package world

import (
	"context"
	"time"

	"github.com/roomfabric/engine/internal/utils"
)

// RunHeartbeatSweep periodically flips shards whose LastHeartbeat is
// older than inactiveAfter to draining (spec §4.5 "Heartbeats"),
// grounded on the teacher's Manager.evictColdRooms ticker loop. It
// blocks until ctx is canceled.
func (r *Registry) RunHeartbeatSweep(ctx context.Context, logger *utils.Logger, interval, inactiveAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(logger, inactiveAfter)
		}
	}
}

func (r *Registry) sweepOnce(logger *utils.Logger, inactiveAfter time.Duration) {
	r.mu.Lock()
	now := time.Now()
	var drained []string
	for id, s := range r.shards {
		if s.Status == ShardActive && now.Sub(s.LastHeartbeat) > inactiveAfter {
			s.Status = ShardDraining
			drained = append(drained, id)
		}
	}
	var persistErr error
	if len(drained) > 0 {
		persistErr = r.persistLocked()
	}
	r.mu.Unlock()

	if logger != nil {
		for _, id := range drained {
			logger.Info(context.Background(), "world: shard %s marked draining after heartbeat timeout", id)
		}
		if persistErr != nil {
			logger.Error(context.Background(), "world: persisting catalog after heartbeat sweep: %v", persistErr)
		}
	}
}
