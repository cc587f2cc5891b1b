package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Binance futures error codes the adapter treats specially
const (
	binanceDuplicateClientOrderID = -4116
	binanceUnknownOrder           = -2013
)

// BinanceConfig holds venue credentials and mode
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// BinanceAdapter talks to Binance USDT-margined futures through the
// official REST API. It is a thin translation layer; retries, rate
// limits and circuit breaking live in the Service wrapper around it.
type BinanceAdapter struct {
	client *futures.Client
	logger zerolog.Logger
}

// NewBinanceAdapter creates a live futures adapter
func NewBinanceAdapter(cfg BinanceConfig) *BinanceAdapter {
	futures.UseTestnet = cfg.Testnet
	return &BinanceAdapter{
		client: binance.NewFuturesClient(cfg.APIKey, cfg.SecretKey),
		logger: log.With().Str("component", "binance").Logger(),
	}
}

// Name identifies the venue
func (b *BinanceAdapter) Name() string { return "binance-futures" }

// Simulated reports that fills are real
func (b *BinanceAdapter) Simulated() bool { return false }

// Connect verifies credentials and clock sync with the venue
func (b *BinanceAdapter) Connect(ctx context.Context) error {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return wrapBinanceErr("ping", err)
	}
	srvTime, err := b.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return wrapBinanceErr("server_time", err)
	}
	drift := time.Since(time.UnixMilli(srvTime))
	if drift < 0 {
		drift = -drift
	}
	if drift > 5*time.Second {
		b.logger.Warn().Dur("drift", drift).Msg("local clock drifts from venue, signed requests may fail")
	}
	b.logger.Info().Bool("testnet", futures.UseTestnet).Msg("binance futures connected")
	return nil
}

// Disconnect releases venue resources. REST is stateless so this only
// logs.
func (b *BinanceAdapter) Disconnect(ctx context.Context) error {
	b.logger.Info().Msg("binance futures disconnected")
	return nil
}

// CreateOrder places an order. Binance rejects duplicate client order
// ids; the adapter converts that reply into a lookup so resubmission
// stays idempotent.
func (b *BinanceAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	symbol := toVenueSymbol(req.Symbol)

	if req.Leverage >= 1 {
		if _, err := b.client.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(int(req.Leverage)).
			Do(ctx); err != nil {
			// Leverage changes fail when positions exist; the order can
			// still proceed on the account's current setting.
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("leverage change refused")
		}
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(toVenueSide(req.Side)).
		Type(toVenueType(req.Type)).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(req.ClientOrderID)

	switch req.Type {
	case OrderTypeLimit:
		svc = svc.Price(formatQty(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
		if req.PostOnly {
			svc = svc.TimeInForce(futures.TimeInForceTypeGTX)
		}
	case OrderTypeStop:
		svc = svc.StopPrice(formatQty(req.StopPrice))
	case OrderTypeStopLimit:
		svc = svc.StopPrice(formatQty(req.StopPrice)).
			Price(formatQty(req.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		if binanceCode(err) == binanceDuplicateClientOrderID {
			b.logger.Debug().
				Str("client_order_id", req.ClientOrderID).
				Msg("venue already holds this client order id")
			return b.GetOrder(ctx, req.ClientOrderID)
		}
		return nil, wrapBinanceErr("create_order", err)
	}

	order := orderFromCreateResponse(res, req)
	b.logger.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("status", string(order.Status)).
		Msg("order placed")

	b.placeProtectiveOrders(ctx, symbol, req)
	return order, nil
}

// placeProtectiveOrders attaches close-position stop and target orders
// when the request carries protection levels. Failures are logged
// rather than surfaced: the position monitor backs these levels up.
func (b *BinanceAdapter) placeProtectiveOrders(ctx context.Context, symbol string, req OrderRequest) {
	if req.ReduceOnly || (req.StopLoss <= 0 && req.TakeProfit <= 0) {
		return
	}

	exitSide := futures.SideTypeSell
	if req.Side == OrderSideSell {
		exitSide = futures.SideTypeBuy
	}

	if req.StopLoss > 0 {
		if _, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(exitSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatQty(req.StopLoss)).
			ClosePosition(true).
			Do(ctx); err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("stop-loss placement failed")
		}
	}
	if req.TakeProfit > 0 {
		if _, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatQty(req.TakeProfit)).
			ClosePosition(true).
			Do(ctx); err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("take-profit placement failed")
		}
	}
}

// CancelOrder cancels by client order id. Binance needs the symbol for
// cancels, so unknown ids are resolved through the open-order list.
func (b *BinanceAdapter) CancelOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	symbol := symbolFromClientOrderID(clientOrderID)
	if symbol == "" {
		open, err := b.GetOpenOrders(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range open {
			if o.ClientOrderID == clientOrderID {
				symbol = toVenueSymbol(o.Symbol)
				break
			}
		}
	}
	if symbol == "" {
		return nil, ErrOrderNotFound
	}

	res, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		if binanceCode(err) == binanceUnknownOrder {
			return nil, ErrOrderNotFound
		}
		return nil, wrapBinanceErr("cancel_order", err)
	}

	return &Order{
		ID:              uuid.New().String(),
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:          res.Symbol,
		Side:            fromVenueSide(res.Side),
		Type:            fromVenueType(res.Type),
		Quantity:        parseFloat(res.OrigQuantity),
		Price:           parseFloat(res.Price),
		FilledQty:       parseFloat(res.ExecutedQuantity),
		Status:          OrderStatusCancelled,
		UpdatedAt:       time.Now().UTC(),
	}, nil
}

// GetOrder retrieves order state by client order id
func (b *BinanceAdapter) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	symbol := symbolFromClientOrderID(clientOrderID)
	if symbol == "" {
		return nil, ErrOrderNotFound
	}

	res, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		if binanceCode(err) == binanceUnknownOrder {
			return nil, ErrOrderNotFound
		}
		return nil, wrapBinanceErr("get_order", err)
	}
	return orderFromVenue(res), nil
}

// GetOpenOrders lists working orders across all symbols
func (b *BinanceAdapter) GetOpenOrders(ctx context.Context) ([]Order, error) {
	res, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_open_orders", err)
	}
	out := make([]Order, 0, len(res))
	for _, o := range res {
		out = append(out, *orderFromVenue(o))
	}
	return out, nil
}

// GetPositions lists non-flat positions
func (b *BinanceAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	res, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_positions", err)
	}

	var out []Position
	for _, p := range res {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := PositionSideLong
		size := amt
		if amt < 0 {
			side = PositionSideShort
			size = -amt
		}
		out = append(out, Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      parseFloat(p.Leverage),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
		})
	}
	return out, nil
}

// GetBalance returns the USDT futures wallet balance
func (b *BinanceAdapter) GetBalance(ctx context.Context) (*Balance, error) {
	res, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_balance", err)
	}
	for _, bal := range res {
		if bal.Asset != "USDT" {
			continue
		}
		total := parseFloat(bal.Balance)
		unrealized := parseFloat(bal.CrossUnPnl)
		return &Balance{
			Currency:      "USDT",
			Total:         total,
			Available:     parseFloat(bal.AvailableBalance),
			UnrealizedPnL: unrealized,
			Equity:        total + unrealized,
		}, nil
	}
	return nil, &APIError{Op: "get_balance", Message: "no USDT balance on account", Retryable: false}
}

// GetTicker returns the current top of book plus 24h volume
func (b *BinanceAdapter) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	venueSymbol := toVenueSymbol(symbol)

	books, err := b.client.NewListBookTickersService().Symbol(venueSymbol).Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_ticker", err)
	}
	if len(books) == 0 {
		return nil, &APIError{Op: "get_ticker", Message: fmt.Sprintf("no book for %s", venueSymbol), Retryable: false}
	}

	stats, err := b.client.NewListPriceChangeStatsService().Symbol(venueSymbol).Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_ticker", err)
	}

	t := tickerFromBook(symbol, books[0])
	if len(stats) > 0 {
		t.Last = parseFloat(stats[0].LastPrice)
		t.Volume = parseFloat(stats[0].Volume)
	}
	return t, nil
}

// tickerFromBook maps the venue's top-of-book reply onto a Ticker. The
// futures book ticker carries prices as strings.
func tickerFromBook(symbol string, book *futures.BookTicker) *Ticker {
	return &Ticker{
		Symbol:    symbol,
		Bid:       parseFloat(book.BidPrice),
		Ask:       parseFloat(book.AskPrice),
		Timestamp: time.Now().UTC(),
	}
}

// GetCandles returns recent closed bars for a timeframe
func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	res, err := b.client.NewKlinesService().
		Symbol(toVenueSymbol(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapBinanceErr("get_candles", err)
	}

	out := make([]Candle, 0, len(res))
	for _, k := range res {
		out = append(out, Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return out, nil
}

// GetFundingRate returns the latest funding rate for a perpetual
func (b *BinanceAdapter) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	res, err := b.client.NewPremiumIndexService().Symbol(toVenueSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, wrapBinanceErr("get_funding_rate", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return parseFloat(res[0].LastFundingRate), nil
}

// GetOpenInterest returns current open interest in base units
func (b *BinanceAdapter) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	res, err := b.client.NewGetOpenInterestService().Symbol(toVenueSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, wrapBinanceErr("get_open_interest", err)
	}
	return parseFloat(res.OpenInterest), nil
}

// --- conversion helpers ---

func toVenueSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	return strings.ToUpper(strings.ReplaceAll(s, "/", ""))
}

// symbolFromClientOrderID recovers the venue symbol from the id's
// {ACTION}_{SYMBOL}_{TS}_{NONCE} layout.
func symbolFromClientOrderID(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) != 4 {
		return ""
	}
	return parts[1]
}

func toVenueSide(side OrderSide) futures.SideType {
	if side == OrderSideBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func fromVenueSide(side futures.SideType) OrderSide {
	if side == futures.SideTypeBuy {
		return OrderSideBuy
	}
	return OrderSideSell
}

func toVenueType(t OrderType) futures.OrderType {
	switch t {
	case OrderTypeLimit:
		return futures.OrderTypeLimit
	case OrderTypeStop:
		return futures.OrderTypeStopMarket
	case OrderTypeStopLimit:
		return futures.OrderTypeStop
	default:
		return futures.OrderTypeMarket
	}
}

func fromVenueType(t futures.OrderType) OrderType {
	switch t {
	case futures.OrderTypeLimit:
		return OrderTypeLimit
	case futures.OrderTypeStopMarket:
		return OrderTypeStop
	case futures.OrderTypeStop:
		return OrderTypeStopLimit
	default:
		return OrderTypeMarket
	}
}

func fromVenueStatus(s futures.OrderStatusType) OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return OrderStatusOpen
	case futures.OrderStatusTypePartiallyFilled:
		return OrderStatusPartial
	case futures.OrderStatusTypeFilled:
		return OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return OrderStatusCancelled
	case futures.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		return OrderStatusSubmitted
	}
}

func orderFromCreateResponse(res *futures.CreateOrderResponse, req OrderRequest) *Order {
	now := time.Now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		TraceID:         req.TraceID,
		StrategyID:      req.StrategyID,
		Source:          req.Source,
		Symbol:          req.Symbol,
		Side:            fromVenueSide(res.Side),
		Type:            fromVenueType(res.Type),
		Quantity:        parseFloat(res.OrigQuantity),
		Price:           parseFloat(res.Price),
		FilledQty:       parseFloat(res.ExecutedQuantity),
		AvgFillPrice:    parseFloat(res.AvgPrice),
		Leverage:        req.Leverage,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ReduceOnly:      req.ReduceOnly,
		Status:          fromVenueStatus(res.Status),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.Status == OrderStatusFilled {
		o.FilledAt = &now
	}
	return o
}

func orderFromVenue(res *futures.Order) *Order {
	o := &Order{
		ID:              uuid.New().String(),
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:          res.Symbol,
		Side:            fromVenueSide(res.Side),
		Type:            fromVenueType(res.Type),
		Quantity:        parseFloat(res.OrigQuantity),
		Price:           parseFloat(res.Price),
		StopPrice:       parseFloat(res.StopPrice),
		FilledQty:       parseFloat(res.ExecutedQuantity),
		AvgFillPrice:    parseFloat(res.AvgPrice),
		ReduceOnly:      res.ReduceOnly,
		Status:          fromVenueStatus(res.Status),
		CreatedAt:       time.UnixMilli(res.Time),
		UpdatedAt:       time.UnixMilli(res.UpdateTime),
	}
	if o.Status == OrderStatusFilled {
		t := time.UnixMilli(res.UpdateTime)
		o.FilledAt = &t
	}
	return o
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func binanceCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func wrapBinanceErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Op:         op,
			StatusCode: int(apiErr.Code),
			Message:    apiErr.Message,
			Retryable:  IsRetryable(err),
		}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return &TimeoutError{Op: op}
	}
	return &APIError{Op: op, Message: err.Error(), Retryable: IsRetryable(err)}
}
