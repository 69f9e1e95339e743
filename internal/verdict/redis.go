package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fractal-lba/bouncer/internal/api"
)

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisStore implements Store using Redis SETNX for atomic first-write-wins,
// so concurrent submissions of one id never overwrite each other.
type RedisStore struct {
	client redisClient
}

// NewRedisStore connects to Redis and checks the connection.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func redisKey(id string) string {
	return "verdict:" + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*api.VerdictRecord, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var rec api.VerdictRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) Set(ctx context.Context, rec *api.VerdictRecord, ttl time.Duration) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	stored := *rec
	stored.Cached = false
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}

	// false means another writer got there first, which is not an error
	if err := r.client.SetNX(ctx, redisKey(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
