package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/splitledger/internal/models"
)

// RedisStore keeps idempotency keys in Redis. Expiry is left to Redis TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

type redisRecord struct {
	Hash      string    `json:"hash"`
	Done      bool      `json:"done"`
	Response  []byte    `json:"response,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisStore) Claim(ctx context.Context, key, hash string, lease time.Duration) (Record, bool, error) {
	rec := redisRecord{Hash: hash, ExpiresAt: time.Now().Add(lease).UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}

	ok, err := s.client.SetNX(ctx, s.key(key), raw, lease).Result()
	if err != nil {
		return Record{}, false, models.Transient(fmt.Errorf("claim %s: %w", key, err))
	}
	if ok {
		return Record{Key: key, Hash: hash, ExpiresAt: rec.ExpiresAt}, true, nil
	}

	existing, err := s.get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Claim(ctx, key, hash, lease)
	}
	if err != nil {
		return Record{}, false, err
	}
	return ResolveExisting(existing, hash)
}

func (s *RedisStore) get(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, models.Transient(fmt.Errorf("get %s: %w", key, err))
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return Record{Key: key, Hash: rec.Hash, Done: rec.Done, Response: rec.Response, ExpiresAt: rec.ExpiresAt}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	rec, err := s.get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return models.NotFoundf("idempotency key", key)
	}
	if err != nil {
		return err
	}
	expires := time.Now().Add(ttl).UTC()
	raw, err := json.Marshal(redisRecord{Hash: rec.Hash, Done: true, Response: response, ExpiresAt: expires})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return models.Transient(fmt.Errorf("complete %s: %w", key, err))
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return models.Transient(fmt.Errorf("release %s: %w", key, err))
	}
	return nil
}

// Sweep is a no-op; Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
