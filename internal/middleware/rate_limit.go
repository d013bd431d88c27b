package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a token-bucket limiter backed by Redis, shared
// across every instance of a world registry. It guards the admin HTTP
// surface (§4.5) against floods of register/scale/update calls.
type RateLimiter struct {
	redisClient *redis.Client
	capacity    int64
	rate        float64 // tokens added per second
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(redisClient *redis.Client, capacity int64, rate float64) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		capacity:    capacity,
		rate:        rate,
	}
}

// Middleware rate-limits requests keyed by the caller's remote address
// only; the bucket key does not include a world id or any auth result.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := req.RemoteAddr
		if key == "" {
			key = "unknown"
		}

		if !rl.Allow(req.Context(), key) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// Allow checks whether a request is allowed for a given bucket key,
// refilling and consuming a token atomically enough for the advisory
// nature of this limiter (races under concurrent refill are tolerated).
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	bucketKey := fmt.Sprintf("rate_limit:%s", key)

	val, err := rl.redisClient.HMGet(ctx, bucketKey, "tokens", "last_refill").Result()
	if err != nil {
		// Fail open: a Redis outage should not take down the admin surface.
		fmt.Printf("rate limiter: error reading bucket from redis: %v\n", err)
		return true
	}

	currentTokens := rl.capacity
	lastRefillTime := time.Now()

	if val[0] != nil && val[1] != nil {
		if t, err := strconv.ParseFloat(val[0].(string), 64); err == nil {
			currentTokens = int64(t)
		}
		if t, err := time.Parse(time.RFC3339Nano, val[1].(string)); err == nil {
			lastRefillTime = t
		}
	}

	now := time.Now()
	tokensToAdd := int64(now.Sub(lastRefillTime).Seconds() * rl.rate)
	currentTokens = int64(math.Min(float64(rl.capacity), float64(currentTokens+tokensToAdd)))
	lastRefillTime = now

	if currentTokens < 1 {
		return false
	}

	currentTokens--
	_, err = rl.redisClient.HMSet(ctx, bucketKey, "tokens", currentTokens, "last_refill", lastRefillTime.Format(time.RFC3339Nano)).Result()
	if err != nil {
		fmt.Printf("rate limiter: error writing bucket to redis: %v\n", err)
	}
	return true
}
