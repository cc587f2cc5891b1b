package exchange

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Rate limiter keys by venue endpoint class
const (
	limitKeyOrders = "orders"
	limitKeyMarket = "market"
)

// APIHealthSink receives the outcome of every venue call. The system
// circuit breaker implements it to count consecutive failures.
type APIHealthSink interface {
	RecordAPISuccess()
	RecordAPIFailure(err error)
}

// ServiceConfig tunes the resilience envelope around an adapter
type ServiceConfig struct {
	ReadTimeout       time.Duration
	OrderTimeout      time.Duration
	Retry             RetryConfig
	RequestsPerMinute int
	Burst             int
}

// DefaultServiceConfig mirrors the network defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ReadTimeout:       30 * time.Second,
		OrderTimeout:      60 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerMinute: 60,
		Burst:             10,
	}
}

// Service wraps an Adapter with the full resilience envelope: keyed
// token buckets, an infrastructure circuit breaker, retry with
// jittered backoff and per-operation deadlines. It also keeps the
// local order table: every order it created, kept current by the
// hanging-order sweeper, with lifecycle events published to the bus.
type Service struct {
	adapter Adapter
	cfg     ServiceConfig
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
	bus     *events.Bus   // optional
	sink    APIHealthSink // optional

	mu      sync.RWMutex
	tracked map[string]*Order

	logger zerolog.Logger
	now    func() time.Time
}

// NewService wraps adapter. bus and sink may be nil.
func NewService(adapter Adapter, cfg ServiceConfig, bus *events.Bus, sink APIHealthSink) *Service {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 60 * time.Second
	}

	s := &Service{
		adapter: adapter,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		bus:     bus,
		sink:    sink,
		tracked: make(map[string]*Order),
		logger:  log.With().Str("component", "exec-service").Str("venue", adapter.Name()).Logger(),
		now:     time.Now,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "venue-" + adapter.Name(),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		// Business rejections (margin, reduce-only, look-ahead) are not
		// venue health problems and must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("venue breaker state change")
			if to == gobreaker.StateOpen {
				if tripper, ok := s.sink.(interface{ RecordAPIFailureTrip() }); ok {
					tripper.RecordAPIFailureTrip()
				}
			}
		},
	})

	return s
}

// Adapter exposes the wrapped adapter for direct feed access
func (s *Service) Adapter() Adapter { return s.adapter }

// Venue reports the adapter name
func (s *Service) Venue() string { return s.adapter.Name() }

// Simulated reports whether fills are synthetic
func (s *Service) Simulated() bool { return s.adapter.Simulated() }

// Connect brings the adapter online
func (s *Service) Connect(ctx context.Context) error {
	return s.adapter.Connect(ctx)
}

// Disconnect releases the adapter
func (s *Service) Disconnect(ctx context.Context) error {
	return s.adapter.Disconnect(ctx)
}

// do runs one venue call under the resilience envelope
func (s *Service) do(ctx context.Context, op, limitKey string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.now()

	err := WithRetry(ctx, s.cfg.Retry, func() error {
		if lerr := s.limiter.Acquire(limitKey); lerr != nil {
			metrics.RateLimitWaits.WithLabelValues(limitKey).Inc()
			return lerr
		}

		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		_, berr := s.breaker.Execute(func() (interface{}, error) {
			return nil, fn(opCtx)
		})
		if berr != nil {
			if errors.Is(berr, gobreaker.ErrOpenState) || errors.Is(berr, gobreaker.ErrTooManyRequests) {
				return &APIError{Op: op, Message: "venue circuit open", Retryable: true}
			}
			if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return &TimeoutError{Op: op, After: timeout}
			}
		}
		return berr
	})

	elapsed := float64(s.now().Sub(start).Milliseconds())
	metrics.RecordVenueCall(s.adapter.Name(), op, elapsed, err)

	if s.sink != nil {
		if err != nil && IsRetryable(err) {
			s.sink.RecordAPIFailure(err)
		} else {
			s.sink.RecordAPISuccess()
		}
	}
	return err
}

// CreateOrder submits through the resilience envelope. A submission
// that times out with unknown venue state is parked as PENDING and
// left to the sweeper to resolve; it is not an error for the caller.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.ClientOrderID == "" {
		return nil, &APIError{Op: "create_order", Message: "client order id is required", Retryable: false}
	}

	// Resubmission of a known id returns the tracked order untouched
	if existing := s.lookup(req.ClientOrderID); existing != nil {
		s.logger.Debug().
			Str("client_order_id", req.ClientOrderID).
			Msg("known client order id, returning tracked order")
		return existing, nil
	}

	start := s.now()
	var order *Order
	err := s.do(ctx, "create_order", limitKeyOrders, s.cfg.OrderTimeout, func(ctx context.Context) error {
		o, cerr := s.adapter.CreateOrder(ctx, req)
		if o != nil {
			order = o
		}
		return cerr
	})
	metrics.OrderExecutionLatency.Observe(float64(s.now().Sub(start).Milliseconds()))

	switch {
	case err == nil:
		s.absorb(order)
		return order, nil

	case isTimeout(err):
		pending := s.parkPending(req)
		s.logger.Warn().
			Str("client_order_id", req.ClientOrderID).
			Msg("submission timed out, order parked pending for sweep")
		return pending, nil

	default:
		if order != nil {
			// Venue recorded a terminal reject
			s.absorb(order)
			return order, err
		}
		s.publish(events.TypeOrderRejected, req.Symbol, req.ClientOrderID, req.TraceID, map[string]any{
			"reason": errCode(err),
			"error":  err.Error(),
		})
		metrics.OrdersRejected.WithLabelValues(errCode(err)).Inc()
		return nil, err
	}
}

// CancelOrder cancels by client order id. Cancelling never releases
// the idempotency reservation; a cancelled intent stays consumed.
func (s *Service) CancelOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	var order *Order
	err := s.do(ctx, "cancel_order", limitKeyOrders, s.cfg.OrderTimeout, func(ctx context.Context) error {
		o, cerr := s.adapter.CancelOrder(ctx, clientOrderID)
		if o != nil {
			order = o
		}
		return cerr
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			if local := s.lookup(clientOrderID); local != nil {
				return local, err
			}
		}
		return order, err
	}
	s.absorb(order)
	return order, nil
}

// GetOrder fetches current order state, falling back to the local
// table for orders the venue never acknowledged.
func (s *Service) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	var order *Order
	err := s.do(ctx, "get_order", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		o, gerr := s.adapter.GetOrder(ctx, clientOrderID)
		if o != nil {
			order = o
		}
		return gerr
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			if local := s.lookup(clientOrderID); local != nil {
				return local, nil
			}
		}
		return nil, err
	}
	s.absorb(order)
	return order, nil
}

// GetOpenOrders lists working orders on the venue
func (s *Service) GetOpenOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	err := s.do(ctx, "get_open_orders", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		o, gerr := s.adapter.GetOpenOrders(ctx)
		out = o
		return gerr
	})
	return out, err
}

// GetPositions lists open positions
func (s *Service) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := s.do(ctx, "get_positions", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		p, gerr := s.adapter.GetPositions(ctx)
		out = p
		return gerr
	})
	return out, err
}

// GetBalance returns the account balance
func (s *Service) GetBalance(ctx context.Context) (*Balance, error) {
	var out *Balance
	err := s.do(ctx, "get_balance", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		b, gerr := s.adapter.GetBalance(ctx)
		out = b
		return gerr
	})
	return out, err
}

// GetTicker returns the venue's current snapshot for a symbol
func (s *Service) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out *Ticker
	err := s.do(ctx, "get_ticker", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		t, gerr := s.adapter.GetTicker(ctx, symbol)
		out = t
		return gerr
	})
	return out, err
}

// GetCandles returns recent closed bars
func (s *Service) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	var out []Candle
	err := s.do(ctx, "get_candles", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		c, gerr := s.adapter.GetCandles(ctx, symbol, timeframe, limit)
		out = c
		return gerr
	})
	return out, err
}

// DerivativesVenue is implemented by adapters that expose perpetual
// futures metadata beyond the core Adapter surface.
type DerivativesVenue interface {
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
}

// GetFundingRate returns the current funding rate for a perpetual
// symbol, or ErrNotSupported when the adapter carries no derivatives
// metadata.
func (s *Service) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	dv, ok := s.adapter.(DerivativesVenue)
	if !ok {
		return 0, ErrNotSupported
	}
	var out float64
	err := s.do(ctx, "get_funding_rate", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		v, gerr := dv.GetFundingRate(ctx, symbol)
		out = v
		return gerr
	})
	return out, err
}

// GetOpenInterest returns current open interest in base units, or
// ErrNotSupported when the adapter carries no derivatives metadata.
func (s *Service) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	dv, ok := s.adapter.(DerivativesVenue)
	if !ok {
		return 0, ErrNotSupported
	}
	var out float64
	err := s.do(ctx, "get_open_interest", limitKeyMarket, s.cfg.ReadTimeout, func(ctx context.Context) error {
		v, gerr := dv.GetOpenInterest(ctx, symbol)
		out = v
		return gerr
	})
	return out, err
}

// TrackedOrders snapshots the local order table, oldest first
func (s *Service) TrackedOrders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.tracked))
	for _, o := range s.tracked {
		out = append(out, *o.Clone())
	}
	sortOrders(out)
	return out
}

// lookup returns a snapshot of a tracked order, nil when unknown
func (s *Service) lookup(clientOrderID string) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.tracked[clientOrderID]; ok {
		return o.Clone()
	}
	return nil
}

// parkPending records a synthetic PENDING order for a submission whose
// venue outcome is unknown. The sweeper probes it until resolved.
func (s *Service) parkPending(req OrderRequest) *Order {
	now := s.now()
	order := &Order{
		ID:            uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		TraceID:       req.TraceID,
		StrategyID:    req.StrategyID,
		Source:        req.Source,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		ReduceOnly:    req.ReduceOnly,
		PostOnly:      req.PostOnly,
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.absorb(order)
	return order.Clone()
}

// absorb merges venue state into the local table and publishes the
// lifecycle events implied by the status transition. Each transition
// publishes exactly once.
func (s *Service) absorb(order *Order) {
	if order == nil {
		return
	}

	s.mu.Lock()
	prev, known := s.tracked[order.ClientOrderID]
	var prevStatus OrderStatus
	if known {
		prevStatus = prev.Status
		if prev.Terminal() {
			// Terminal is final; ignore stale venue echoes
			s.mu.Unlock()
			return
		}
	}
	stored := order.Clone()
	if known && stored.TraceID == "" {
		stored.TraceID = prev.TraceID
	}
	if known && stored.StrategyID == "" {
		stored.StrategyID = prev.StrategyID
	}
	s.tracked[order.ClientOrderID] = stored
	s.mu.Unlock()

	if !known {
		metrics.OrdersSubmitted.WithLabelValues(order.Symbol, string(order.Side)).Inc()
		s.publish(events.TypeOrderSubmitted, order.Symbol, order.ClientOrderID, stored.TraceID, map[string]any{
			"status":   string(order.Status),
			"side":     string(order.Side),
			"type":     string(order.Type),
			"quantity": order.Quantity,
		})
	}

	if order.Status == prevStatus {
		return
	}

	switch order.Status {
	case OrderStatusFilled:
		metrics.OrdersFilled.WithLabelValues(order.Symbol, string(order.Side)).Inc()
		s.publish(events.TypeOrderFilled, order.Symbol, order.ClientOrderID, stored.TraceID, map[string]any{
			"filled_qty":     order.FilledQty,
			"avg_fill_price": order.AvgFillPrice,
			"fee":            order.Fee,
		})
	case OrderStatusCancelled:
		s.publish(events.TypeOrderCancelled, order.Symbol, order.ClientOrderID, stored.TraceID, map[string]any{
			"reason": order.RejectReason,
		})
	case OrderStatusRejected, OrderStatusFailed:
		metrics.OrdersRejected.WithLabelValues("venue_reject").Inc()
		s.publish(events.TypeOrderRejected, order.Symbol, order.ClientOrderID, stored.TraceID, map[string]any{
			"reason": order.RejectReason,
		})
	}
}

// sweepCancel cancels a hanging order on the venue and finalizes the
// local record with the sweep reason. A venue with no record of the
// order counts as a confirmed cancel. Any other failure leaves the
// order non-terminal so the next sweep cycle retries; a late venue
// fill is then still discovered by the probe and published.
func (s *Service) sweepCancel(ctx context.Context, clientOrderID, reason string) (*Order, error) {
	err := s.do(ctx, "cancel_order", limitKeyOrders, s.cfg.OrderTimeout, func(ctx context.Context) error {
		_, cerr := s.adapter.CancelOrder(ctx, clientOrderID)
		return cerr
	})
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, err
	}
	return s.markSwept(clientOrderID, reason), nil
}

// markSwept finalizes a hanging order as cancelled with the sweep
// reason, after the venue confirmed the cancel or has no record of
// the order.
func (s *Service) markSwept(clientOrderID, reason string) *Order {
	s.mu.Lock()
	o, ok := s.tracked[clientOrderID]
	if !ok || o.Terminal() {
		s.mu.Unlock()
		if ok {
			return o.Clone()
		}
		return nil
	}
	o.Status = OrderStatusCancelled
	o.RejectReason = reason
	o.UpdatedAt = s.now()
	snapshot := o.Clone()
	s.mu.Unlock()

	s.publish(events.TypeOrderCancelled, snapshot.Symbol, snapshot.ClientOrderID, snapshot.TraceID, map[string]any{
		"reason": reason,
	})
	return snapshot
}

func (s *Service) publish(t events.Type, symbol, orderID, traceID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:    t,
		Symbol:  symbol,
		OrderID: orderID,
		TraceID: traceID,
		Payload: payload,
	})
}

// isTimeout reports whether the venue outcome is unknown
func isTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// errCode extracts the wire error code from typed adapter errors
func errCode(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return "API_ERROR"
}

func sortOrders(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ClientOrderID < orders[j].ClientOrderID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
