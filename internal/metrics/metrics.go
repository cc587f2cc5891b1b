package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker trip reasons (bounded set)
	ReasonDailyLoss      = "daily_loss"
	ReasonDrawdown       = "drawdown"
	ReasonConsecutive    = "consecutive_losses"
	ReasonHighVolatility = "high_volatility"
	ReasonPanicSell      = "panic_sell"
	ReasonAPIFailure     = "api_failure"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"

	// Venue error categories (bounded set)
	VenueErrorTimeout     = "timeout"
	VenueErrorRateLimit   = "rate_limit"
	VenueErrorAuth        = "authentication"
	VenueErrorNetwork     = "network"
	VenueErrorInvalidReq  = "invalid_request"
	VenueErrorServerError = "server_error"
	VenueErrorSuspended   = "suspended"
	VenueErrorOther       = "other"
)

// NormalizeBreakerReason maps arbitrary trip reasons to a bounded set
func NormalizeBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "daily"):
		return ReasonDailyLoss
	case strings.Contains(lower, "drawdown"):
		return ReasonDrawdown
	case strings.Contains(lower, "consecutive"):
		return ReasonConsecutive
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "panic"):
		return ReasonPanicSell
	case strings.Contains(lower, "api") || strings.Contains(lower, "failure"):
		return ReasonAPIFailure
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt") || strings.Contains(lower, "shutdown"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeVenueError maps arbitrary adapter errors to a bounded set
func NormalizeVenueError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return VenueErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return VenueErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return VenueErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return VenueErrorNetwork
	case strings.Contains(errStr, "suspended"):
		return VenueErrorSuspended
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return VenueErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return VenueErrorServerError
	default:
		return VenueErrorOther
	}
}

// Order flow metrics
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_orders_submitted_total",
		Help: "Orders accepted by the execution adapter",
	}, []string{"symbol", "side"})

	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_orders_filled_total",
		Help: "Orders that reached the filled state",
	}, []string{"symbol", "side"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_orders_rejected_total",
		Help: "Orders rejected by the gateway or the venue",
	}, []string{"reason"})

	OrdersSweptHanging = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesentry_orders_swept_hanging_total",
		Help: "Orders cancelled by the hanging-order sweeper",
	})

	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_order_execution_latency_ms",
		Help:    "Order submission round-trip latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_open_positions",
		Help: "Number of currently open positions",
	})

	PositionValueBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesentry_position_value_by_symbol",
		Help: "Position notional in USD by trading symbol",
	}, []string{"symbol"})
)

// Risk gateway metrics
var (
	RiskBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_risk_blocked_total",
		Help: "Submissions blocked by a risk rule",
	}, []string{"rule"})

	RiskClamped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_risk_clamped_total",
		Help: "Submissions adjusted by a risk rule",
	}, []string{"rule"})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_daily_pnl",
		Help: "Realized profit and loss for the current UTC day in USD",
	})

	CurrentDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_current_drawdown",
		Help: "Current drawdown from the equity high-water mark (0.0 to 1.0)",
	})
)

// Circuit breaker metrics
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesentry_breaker_state",
		Help: "Breaker state per level: 0 normal, 1 warning, 2 triggered, 3 recovering",
	}, []string{"level"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_breaker_trips_total",
		Help: "Circuit breaker trips by level and reason",
	}, []string{"level", "reason"})
)

// Decision pipeline metrics
var (
	AgentScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesentry_agent_score",
		Help: "Latest per-agent signal score (-1.0 to 1.0)",
	}, []string{"agent"})

	AgentAnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesentry_agent_analysis_duration_ms",
		Help:    "Per-agent analysis duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"agent"})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_decision_latency_ms",
		Help:    "Full coordinator decision latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_decisions_total",
		Help: "Coordinator decisions by resulting action",
	}, []string{"action"})

	DebateRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_debate_rounds",
		Help:    "Debate rounds used per decision",
		Buckets: []float64{0, 1, 2, 3},
	})

	StrategyEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradesentry_strategy_enabled",
		Help: "Whether a registered rule strategy is voting (1) or muted (0)",
	}, []string{"strategy"})
)

// Trading loop metrics
var (
	EngineTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_engine_ticks_total",
		Help: "Trading loop ticks by symbol and outcome",
	}, []string{"symbol", "outcome"})

	EngineTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_engine_tick_duration_ms",
		Help:    "Wall time of one symbol tick in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000, 30000},
	})

	EnginePaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_engine_paused",
		Help: "1 while the trading loop is paused",
	})
)

// Event bus metrics
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_events_published_total",
		Help: "Events published on the internal bus",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	}, []string{"subscriber"})

	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesentry_nats_messages_published_total",
		Help: "Events mirrored to NATS subjects",
	})
)

// Market data metrics
var (
	MarketCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_market_cache_lookups_total",
		Help: "Candle cache lookups by tier and result",
	}, []string{"tier", "result"})

	MarketStateBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_market_state_builds_total",
		Help: "Market state snapshots assembled per symbol",
	}, []string{"symbol"})

	AuxProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_aux_provider_fallbacks_total",
		Help: "Auxiliary data fetches that fell back to neutral defaults",
	}, []string{"provider"})
)

// Venue transport metrics
var (
	VenueAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesentry_venue_api_latency_ms",
		Help:    "Execution adapter call latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"venue", "endpoint"})

	VenueAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_venue_api_errors_total",
		Help: "Execution adapter errors by category",
	}, []string{"venue", "error_type"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_rate_limit_waits_total",
		Help: "Requests delayed by the local token bucket",
	}, []string{"key"})
)

// Persistence metrics
var (
	AuditLogFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_audit_log_failures_total",
		Help: "Audit records that could not be persisted",
	}, []string{"kind"})

	AuditLogLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_audit_log_latency_ms",
		Help:    "Audit write latency in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	IdempotencyDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesentry_idempotency_duplicates_total",
		Help: "Submissions recognized as duplicates of an earlier order",
	})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_database_connections_idle",
		Help: "Number of idle database connections",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_redis_operations_total",
		Help: "Redis cache operations by type",
	}, []string{"operation"})
)

// Advisory model metrics
var (
	AdvisorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_advisor_calls_total",
		Help: "Advisory model gateway calls by model and outcome",
	}, []string{"model", "outcome"})

	AdvisorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesentry_advisor_latency_ms",
		Help:    "Advisory model gateway latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})
)

// API surface metrics
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesentry_http_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesentry_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path", "status_code"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesentry_websocket_clients",
		Help: "Connected websocket clients",
	})
)

// Helper functions to update metrics

// RecordVenueCall records an adapter call with normalized error category
func RecordVenueCall(venue, endpoint string, durationMs float64, err error) {
	VenueAPILatency.WithLabelValues(venue, endpoint).Observe(durationMs)
	if err != nil {
		VenueAPIErrors.WithLabelValues(venue, NormalizeVenueError(err)).Inc()
	}
}

// RecordBreakerTrip records a trip with normalized reason
func RecordBreakerTrip(level, reason string) {
	BreakerTrips.WithLabelValues(level, NormalizeBreakerReason(reason)).Inc()
}

// RecordHTTPRequest records an API request with duration
func RecordHTTPRequest(method, path, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
}

// UpdateDatabaseConnections updates database pool metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordRedisOperation records a cache operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordAdvisorCall records an advisory model gateway call
func RecordAdvisorCall(model string, durationMs float64, err error) {
	AdvisorLatency.Observe(durationMs)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AdvisorCalls.WithLabelValues(model, outcome).Inc()
}
