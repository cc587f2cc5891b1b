package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

const redisKeyPrefix = "tradesentry:idempotency:"

// RedisStore keeps reservations in Redis with native TTL expiry.
// SetNX gives the atomic reserve-once semantics across processes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, rec Record, ttl time.Duration) (Record, bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	// A key can expire between a losing SetNX and the follow-up Get;
	// one retry covers that gap.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, redisKeyPrefix+rec.Key, data, ttl).Result()
		if err != nil {
			metrics.RedisOperations.WithLabelValues("setnx_error").Inc()
			return Record{}, false, fmt.Errorf("redis setnx: %w", err)
		}
		metrics.RedisOperations.WithLabelValues("setnx").Inc()
		if created {
			return rec, true, nil
		}

		existing, found, err := s.Get(ctx, rec.Key)
		if err != nil {
			return Record{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}
	return Record{}, false, fmt.Errorf("redis setnx: key %s raced expiry twice", rec.Key)
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RedisOperations.WithLabelValues("get_miss").Inc()
		return Record{}, false, nil
	}
	if err != nil {
		metrics.RedisOperations.WithLabelValues("get_error").Inc()
		return Record{}, false, fmt.Errorf("redis get: %w", err)
	}
	metrics.RedisOperations.WithLabelValues("get").Inc()

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return rec, true, nil
}

// Sweep is a no-op: Redis expires keys natively
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
