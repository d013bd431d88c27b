package room

import (
	"encoding/json"
	"sync"

	"golang.org/x/time/rate"

	"github.com/roomfabric/engine/internal/transport"
)

// ConnRateLimiter caps how often each connection may trigger actions,
// using a token bucket per connection. A connection that exceeds its
// budget has the action silently dropped — the same "ignore, don't
// close" treatment spec §7 gives action-guard failures, rather than
// punishing a connection for a burst of legitimate traffic.
type ConnRateLimiter struct {
	mu       sync.Mutex
	limiters map[transport.Conn]*rate.Limiter
	rps      float64
	burst    int
}

// NewConnRateLimiter builds a limiter allowing rps actions per second
// per connection, with burst headroom.
func NewConnRateLimiter(rps float64, burst int) *ConnRateLimiter {
	return &ConnRateLimiter{
		limiters: make(map[transport.Conn]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Guard returns a room guard backed by this limiter.
func (c *ConnRateLimiter) Guard() Guard {
	return func(uc *UserContext, _ json.RawMessage) bool {
		return c.allow(uc.Conn)
	}
}

func (c *ConnRateLimiter) allow(conn transport.Conn) bool {
	c.mu.Lock()
	lim, ok := c.limiters[conn]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[conn] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}

// Forget releases the bucket for conn; call this from a room's
// OnLeave hook so a disconnected connection's limiter doesn't linger.
func (c *ConnRateLimiter) Forget(conn transport.Conn) {
	c.mu.Lock()
	delete(c.limiters, conn)
	c.mu.Unlock()
}
