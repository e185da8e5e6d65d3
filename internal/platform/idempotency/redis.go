package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idemp:checkout:"

// RedisStore implements Store on Redis. Keys expire through Redis TTLs, so CleanupExpired is a no-op.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Reserve implements Store. SETNX decides the race between concurrent first attempts.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	pending := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.redisKey(key), payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return Reservation{State: ReservationStateNew, Record: pending}, nil
	}

	current, err := s.load(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	if current == nil {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	_, reservation, err := reserveRecord(current, key, fingerprint, now, ttl)
	return reservation, err
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	current, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	record, err := completeRecord(current, key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) redisKey(key string) string {
	return redisKeyPrefix + recordID(key)
}
