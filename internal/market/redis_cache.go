package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// RedisCandleCache shares fetched OHLCV windows across processes.
// Redis is an optional dependency: a nil cache is valid and every
// method degrades to a miss or a no-op, so callers never branch on
// whether Redis is configured.
type RedisCandleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// candleWindowEntry is the stored JSON shape.
type candleWindowEntry struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Candles   []exchange.Candle `json:"candles"`
	CachedAt  time.Time         `json:"cached_at"`
}

// NewRedisCandleCache returns a cache over client. A nil client yields
// a nil cache, which all methods accept.
func NewRedisCandleCache(client *redis.Client, ttl time.Duration) *RedisCandleCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisCandleCache{client: client, ttl: ttl}
}

// Get retrieves a cached window. Any error reads as a miss: the
// service falls through to the venue rather than fail a tick on a
// cache problem.
func (c *RedisCandleCache) Get(ctx context.Context, symbol, timeframe string) ([]exchange.Candle, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := c.buildKey(symbol, timeframe)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("redis get error, treating as cache miss")
		}
		return nil, false
	}

	var entry candleWindowEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("failed to unmarshal cached candles")
		return nil, false
	}
	if len(entry.Candles) == 0 {
		return nil, false
	}
	return entry.Candles, true
}

// Set stores a window with the given TTL (0 selects the configured
// default). Failures are logged and returned but never fatal.
func (c *RedisCandleCache) Set(ctx context.Context, symbol, timeframe string, candles []exchange.Candle, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	key := c.buildKey(symbol, timeframe)
	entry := candleWindowEntry{
		Symbol:    symbol,
		Timeframe: timeframe,
		Candles:   candles,
		CachedAt:  time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal candle window: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("failed to cache candle window")
		return err
	}
	return nil
}

// Health checks the Redis connection.
func (c *RedisCandleCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *RedisCandleCache) buildKey(symbol, timeframe string) string {
	return fmt.Sprintf("tradesentry:candles:%s:%s", symbol, timeframe)
}
