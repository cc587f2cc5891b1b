// Package api serves the administrative REST and websocket surface.
// It is a read-mostly window onto the runtime: the only mutating
// endpoints are order placement (which goes through the same gateway
// pipeline the committee uses), trading start/stop and strategy
// toggles.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/db"
	"github.com/tradesentry/tradesentry/internal/engine"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/strategy"
)

// Control is the slice of the trading runtime the API drives.
// Implemented by engine.Runtime.
type Control interface {
	Status() engine.Status
	Pause(source string) error
	Resume(source string) error
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error)
}

// Venue provides the account reads served by /positions and /balance.
// Implemented by exchange.Service.
type Venue interface {
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	GetBalance(ctx context.Context) (*exchange.Balance, error)
}

// OrderLister serves order history from the durable store.
// Implemented by db.OrderStore.
type OrderLister interface {
	List(ctx context.Context, f db.OrderFilter) ([]exchange.Order, error)
}

// StrategyRegistry serves the strategy list and toggles.
// Implemented by strategy.Registry.
type StrategyRegistry interface {
	List() []strategy.Info
	SetEnabled(name string, enabled bool) error
}

// Deps bundles the server's collaborators. Control, Venue and Bus are
// required; Orders, Strategies and Health degrade to 503 / omission
// when nil.
type Deps struct {
	Control    Control
	Venue      Venue
	Orders     OrderLister
	Strategies StrategyRegistry
	Bus        *events.Bus
	Health     func(ctx context.Context) error
}

// Server is the administrative HTTP listener.
type Server struct {
	router *gin.Engine
	server *http.Server
	hub    *hub
	deps   Deps
	addr   string
	logger zerolog.Logger
}

// NewServer builds the router and the websocket hub. Nothing listens
// until Start.
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	logger := config.NewLogger("api")

	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		hub:    newHub(logger),
		deps:   deps,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the hub and the HTTP listener until Stop. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.run(ctx)
	if s.deps.Bus != nil {
		go s.forwardEvents(ctx)
	}

	s.logger.Info().Str("addr", s.addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("API server stopping")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// forwardEvents relays bus events to /ws/events subscribers. The bus
// subscription is bounded; a stalled websocket costs events, never
// producer progress.
func (s *Server) forwardEvents(ctx context.Context) {
	sub := s.deps.Bus.Subscribe("ws-events", 256)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			s.hub.broadcastEvent(evt)
		}
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), float64(latency.Milliseconds()))

		evt := logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("API request")
	}
}
