package objectstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/retry"
)

// redisCommands is the subset of *redis.Client used by RedisStore.
type redisCommands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key, playing the role of a bucket name.
	Prefix string
	// TTL expires objects that are never consumed. Zero disables expiry.
	TTL    time.Duration
	Retry  retry.Policy
	Logger *zap.Logger
}

// RedisStore keeps objects as Redis string values. SET replaces the whole
// value atomically and GETDEL gives consume-once reads.
type RedisStore struct {
	client redisCommands
	prefix string
	ttl    time.Duration
	policy retry.Policy
	logger *zap.Logger
}

// NewRedisStore constructs a new Redis-backed store adapter.
func NewRedisStore(client redisCommands, opts RedisOptions) *RedisStore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy
	}
	return &RedisStore{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		policy: policy,
		logger: logger.Named("redis_store"),
	}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Put writes data under key, replacing any previous value.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	return retry.Do(ctx, s.logger, s.policy, "objectstore.redis.put", key, func() error {
		return s.client.Set(ctx, s.key(key), data, s.ttl).Err()
	})
}

// Get reads the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, s.logger, s.policy, "objectstore.redis.get", key, func() error {
		value, err := s.client.Get(ctx, s.key(key)).Bytes()
		if err != nil {
			return err
		}
		data = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes key. Missing keys are ignored by Redis.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.logger, s.policy, "objectstore.redis.delete", key, func() error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
}

// Take runs GETDEL once. It is not retried: a timed out GETDEL may already
// have removed the value.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
