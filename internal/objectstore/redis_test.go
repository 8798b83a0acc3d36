package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/imageclassify/internal/retry"
)

type stubRedis struct {
	values  map[string]string
	setTTLs map[string]time.Duration
	setErrs []error
	getDels int
}

func newStubRedis() *stubRedis {
	return &stubRedis{values: map[string]string{}, setTTLs: map[string]time.Duration{}}
}

func (s *stubRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		return redis.NewStatusResult("", err)
	}
	s.values[key] = string(value.([]byte))
	s.setTTLs[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (s *stubRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	value, ok := s.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (s *stubRedis) GetDel(ctx context.Context, key string) *redis.StringCmd {
	s.getDels++
	value, ok := s.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(s.values, key)
	return redis.NewStringResult(value, nil)
}

func (s *stubRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func TestRedisStoreRoundTrip(t *testing.T) {
	exerciseStore(t, NewRedisStore(newStubRedis(), RedisOptions{}))
}

func TestRedisStorePrefixesKeysAndAppliesTTL(t *testing.T) {
	client := newStubRedis()
	store := NewRedisStore(client, RedisOptions{Prefix: "uploads", TTL: time.Hour})

	if err := store.Put(context.Background(), "job.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.values["uploads:job.json"]; !ok {
		t.Fatalf("expected prefixed key, got %v", client.values)
	}
	if client.setTTLs["uploads:job.json"] != time.Hour {
		t.Fatalf("expected ttl to be applied, got %v", client.setTTLs)
	}
}

func TestRedisStoreRetriesTransientPut(t *testing.T) {
	client := newStubRedis()
	client.setErrs = []error{transientRedisError{}}
	store := NewRedisStore(client, RedisOptions{
		Retry: retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})

	if err := store.Put(context.Background(), "job", []byte("raw")); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if client.values["job"] != "raw" {
		t.Fatalf("value not stored after retry: %v", client.values)
	}
}

func TestRedisStoreTakeUsesGetDel(t *testing.T) {
	client := newStubRedis()
	store := NewRedisStore(client, RedisOptions{})
	ctx := context.Background()
	_ = store.Put(ctx, "job.json", []byte(`{"error":"x"}`))

	data, err := store.Take(ctx, "job.json")
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if string(data) != `{"error":"x"}` {
		t.Fatalf("unexpected data %q", data)
	}
	if _, err := store.Take(ctx, "job.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second take, got %v", err)
	}
	if client.getDels != 2 {
		t.Fatalf("expected 2 GETDEL calls, got %d", client.getDels)
	}
}
