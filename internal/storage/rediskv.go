package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var redisLatency metric.Float64Histogram

// RedisKV is a KV backed by Redis, instrumented the way the teacher's
// cache.Cache wraps every call with a tracer span and a latency
// histogram recorded under "redis.command.latency".
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects to Redis at dsn and verifies it with a traced ping.
func NewRedisKV(dsn string) (*RedisKV, error) {
	var err error
	meter := otel.Meter("redis-client")
	redisLatency, err = meter.Float64Histogram("redis.command.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redis.command.latency instrument: %w", err)
	}

	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, span := otel.Tracer("redis-client").Start(context.Background(), "redis.ping")
	defer span.End()
	if err := client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to ping Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	span.SetStatus(codes.Ok, "Redis connected successfully")

	return &RedisKV{client: client}, nil
}

// Client returns the underlying redis.Client for callers (e.g. the
// rate limiter) that need direct access outside the KV interface.
func (r *RedisKV) Client() *redis.Client { return r.client }

func (r *RedisKV) Close() error { return r.client.Close() }

func (r *RedisKV) traced(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := otel.Tracer("redis-client").Start(ctx, "redis."+op)
	defer func() {
		redisLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("redis.command", op)))
		span.End()
	}()

	err := fn(ctx)
	if err != nil && err != ErrNotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Redis "+op+" failed")
	}
	return err
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := r.traced(ctx, "get", func(ctx context.Context) error {
		val, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = val
		return nil
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	return out, err
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return r.traced(ctx, "set", func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, 0).Err()
	})
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.traced(ctx, "del", func(ctx context.Context) error {
		return r.client.Del(ctx, key).Err()
	})
}

func (r *RedisKV) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.traced(ctx, "scan", func(ctx context.Context) error {
		iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	return keys, err
}
