package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/indicators"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// CandleSource is the venue surface the market service reads.
// *exchange.Service satisfies it with the resilience envelope applied.
type CandleSource interface {
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error)
}

// DerivativesSource is optionally implemented by candle sources that
// also expose perpetual futures metadata.
type DerivativesSource interface {
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
}

// Providers bundles the auxiliary data sources. Nil fields fall back
// to neutral defaults, so a bare Providers{} is a valid configuration.
type Providers struct {
	OnChain   OnChainProvider
	Sentiment SentimentProvider
	Macro     MacroProvider
}

// Service assembles market snapshots. Raw OHLCV is cached in memory
// (and optionally in Redis) with a TTL capped at one bar period, so
// the agents of a single tick share one venue fetch per window.
type Service struct {
	cfg    config.MarketConfig
	source CandleSource
	derivs DerivativesSource // nil when the source has no perp metadata
	memory *candleCache
	redis  *RedisCandleCache // nil-safe
	aux    Providers

	logger zerolog.Logger

	mu     sync.Mutex
	lastOI map[string]float64
}

// NewService builds the market-data service over source. redisCache
// may be nil; aux fields may be nil.
func NewService(cfg config.MarketConfig, source CandleSource, redisCache *RedisCandleCache, aux Providers) *Service {
	s := &Service{
		cfg:    cfg,
		source: source,
		memory: newCandleCache(),
		redis:  redisCache,
		aux:    aux,
		logger: log.With().Str("component", "market").Logger(),
		lastOI: make(map[string]float64),
	}
	if d, ok := source.(DerivativesSource); ok {
		s.derivs = d
	}
	return s
}

// GetMarketState assembles the snapshot for one tick. The primary
// timeframe window is mandatory; secondary windows, the live ticker,
// derivatives metadata and auxiliary readings are best-effort.
func (s *Service) GetMarketState(ctx context.Context, symbol string) (*State, error) {
	primary := s.cfg.Timeframe

	windows := make(map[string][]exchange.Candle, len(s.cfg.Timeframes)+1)
	for _, tf := range s.timeframes() {
		candles, err := s.Candles(ctx, symbol, tf)
		if err != nil {
			if tf == primary {
				return nil, fmt.Errorf("market state %s: %w", symbol, err)
			}
			s.logger.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("timeframe", tf).
				Msg("secondary candle window unavailable")
			continue
		}
		windows[tf] = candles
	}

	bars := windows[primary]
	state, err := ComputeState(symbol, primary, bars, len(bars)-1)
	if err != nil {
		return nil, err
	}
	state.Candles = windows

	if ticker, err := s.source.GetTicker(ctx, symbol); err != nil {
		s.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("ticker unavailable, using last close")
	} else {
		state.Price = ticker.Last
		state.Bid = ticker.Bid
		state.Ask = ticker.Ask
		if !ticker.Timestamp.IsZero() {
			state.Timestamp = ticker.Timestamp
		}
	}

	s.attachDerivatives(ctx, state)
	s.attachAux(ctx, state)

	metrics.MarketStateBuilds.WithLabelValues(symbol).Inc()
	return state, nil
}

// Candles returns the cached window for (symbol, timeframe), fetching
// from the venue on a miss. Lookup order: process memory, Redis, venue.
func (s *Service) Candles(ctx context.Context, symbol, timeframe string) ([]exchange.Candle, error) {
	if candles, ok := s.memory.get(symbol, timeframe); ok {
		metrics.MarketCacheLookups.WithLabelValues("memory", "hit").Inc()
		return candles, nil
	}
	metrics.MarketCacheLookups.WithLabelValues("memory", "miss").Inc()

	ttl := s.ttlFor(timeframe)

	if candles, ok := s.redis.Get(ctx, symbol, timeframe); ok {
		metrics.MarketCacheLookups.WithLabelValues("redis", "hit").Inc()
		s.memory.put(symbol, timeframe, candles, ttl)
		return candles, nil
	}
	if s.redis != nil {
		metrics.MarketCacheLookups.WithLabelValues("redis", "miss").Inc()
	}

	candles, err := s.source.GetCandles(ctx, symbol, timeframe, s.candleLimit())
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, timeframe, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("fetch candles %s %s: venue returned none", symbol, timeframe)
	}

	s.memory.put(symbol, timeframe, candles, ttl)
	_ = s.redis.Set(ctx, symbol, timeframe, candles, ttl)
	return candles, nil
}

// attachDerivatives reads funding and open interest when the source
// supports them. The first open-interest reading for a symbol has no
// delta; later ticks report the change since the previous reading.
func (s *Service) attachDerivatives(ctx context.Context, st *State) {
	if s.derivs == nil {
		return
	}

	if rate, err := s.derivs.GetFundingRate(ctx, st.Symbol); err != nil {
		if !errors.Is(err, exchange.ErrNotSupported) {
			s.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("funding rate unavailable")
		}
	} else {
		st.FundingRate = rate
	}

	oi, err := s.derivs.GetOpenInterest(ctx, st.Symbol)
	if err != nil {
		if !errors.Is(err, exchange.ErrNotSupported) {
			s.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("open interest unavailable")
		}
		return
	}
	st.OpenInterest = oi

	s.mu.Lock()
	if prev, ok := s.lastOI[st.Symbol]; ok {
		st.OpenInterestDelta = oi - prev
	}
	s.lastOI[st.Symbol] = oi
	s.mu.Unlock()
}

// attachAux fills the auxiliary readings, falling back to neutral
// defaults whenever a provider is absent or fails. A missing provider
// must never bias a decision or fail a tick.
func (s *Service) attachAux(ctx context.Context, st *State) {
	st.OnChain = NeutralOnChain()
	if s.aux.OnChain != nil {
		if d, err := s.aux.OnChain.OnChain(ctx, st.Symbol); err != nil {
			metrics.AuxProviderFallbacks.WithLabelValues("onchain").Inc()
			s.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("onchain provider failed, using neutral")
		} else {
			st.OnChain = d
		}
	}

	st.Sentiment = NeutralSentiment()
	if s.aux.Sentiment != nil {
		if d, err := s.aux.Sentiment.Sentiment(ctx, st.Symbol); err != nil {
			metrics.AuxProviderFallbacks.WithLabelValues("sentiment").Inc()
			s.logger.Warn().Err(err).Str("symbol", st.Symbol).Msg("sentiment provider failed, using neutral")
		} else {
			st.Sentiment = d
		}
	}

	st.Macro = NeutralMacro()
	if s.aux.Macro != nil {
		if d, err := s.aux.Macro.Macro(ctx); err != nil {
			metrics.AuxProviderFallbacks.WithLabelValues("macro").Inc()
			s.logger.Warn().Err(err).Msg("macro provider failed, using neutral")
		} else {
			st.Macro = d
		}
	}
}

// timeframes lists the windows to fetch, primary first.
func (s *Service) timeframes() []string {
	out := []string{s.cfg.Timeframe}
	for _, tf := range s.cfg.Timeframes {
		if tf != s.cfg.Timeframe {
			out = append(out, tf)
		}
	}
	return out
}

// ttlFor caps the configured TTL at one bar period so an entry never
// outlives the bar it represents.
func (s *Service) ttlFor(timeframe string) time.Duration {
	ttl := s.cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if bar := config.TimeframeDuration(timeframe); bar > 0 && ttl > bar {
		ttl = bar
	}
	return ttl
}

func (s *Service) candleLimit() int {
	limit := s.cfg.CandleLimit
	if limit <= 0 {
		limit = 100
	}
	if limit < indicators.MinSnapshotBars {
		limit = indicators.MinSnapshotBars
	}
	return limit
}
