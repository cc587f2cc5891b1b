package market

import (
	"sync"
	"time"

	"github.com/tradesentry/tradesentry/internal/exchange"
)

// candleCache is the in-process OHLCV cache. One tick fans a snapshot
// out to several agents; the cache keeps that from turning into one
// venue call per agent. Entries expire after the TTL the writer chose,
// which the service caps at one bar period.
type candleCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

type cacheKey struct {
	symbol    string
	timeframe string
}

type cacheEntry struct {
	candles   []exchange.Candle
	expiresAt time.Time
}

func newCandleCache() *candleCache {
	return &candleCache{
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

func (c *candleCache) get(symbol, timeframe string) ([]exchange.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey{symbol, timeframe}]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.candles, true
}

func (c *candleCache) put(symbol, timeframe string, candles []exchange.Candle, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{symbol, timeframe}] = cacheEntry{
		candles:   candles,
		expiresAt: c.now().Add(ttl),
	}
}
