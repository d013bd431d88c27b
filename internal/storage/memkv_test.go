package storage

import (
	"context"
	"errors"
	"testing"
)

var (
	_ KV = (*MemKV)(nil)
	_ KV = (*RedisKV)(nil)
	_ KV = (*PostgresKV)(nil)
)

func TestMemKVGetMissingReturnsErrNotFound(t *testing.T) {
	kv := NewMemKV()
	_, err := kv.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemKVPutGetRoundTrip(t *testing.T) {
	kv := NewMemKV()
	ctx := context.Background()

	if err := kv.Put(ctx, "room:1", []byte(`{"count":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := kv.Get(ctx, "room:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != `{"count":1}` {
		t.Fatalf("Get = %s, want {\"count\":1}", v)
	}
}

func TestMemKVDeleteThenGetReturnsErrNotFound(t *testing.T) {
	kv := NewMemKV()
	ctx := context.Background()
	kv.Put(ctx, "k", []byte("v"))
	kv.Delete(ctx, "k")

	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemKVListFiltersByPrefix(t *testing.T) {
	kv := NewMemKV()
	ctx := context.Background()
	kv.Put(ctx, "room:1", []byte("a"))
	kv.Put(ctx, "room:2", []byte("b"))
	kv.Put(ctx, "shard:1", []byte("c"))

	keys, err := kv.List(ctx, "room:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List = %v, want 2 keys", keys)
	}
}
