// sentryd is the trading daemon: one process running the market-data
// service, the analyst committee, the risk gateway, the execution
// service and the administrative API against a single venue account.
//
// Exit codes: 0 clean shutdown, 1 startup or runtime failure, 2 fatal
// persistence failure (a safety-relevant record could not be written),
// 130 interrupted by SIGINT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/advisor"
	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/api"
	"github.com/tradesentry/tradesentry/internal/audit"
	"github.com/tradesentry/tradesentry/internal/breaker"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/db"
	"github.com/tradesentry/tradesentry/internal/engine"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/market"
	"github.com/tradesentry/tradesentry/internal/notify"
	"github.com/tradesentry/tradesentry/internal/risk"
	"github.com/tradesentry/tradesentry/internal/state"
	"github.com/tradesentry/tradesentry/internal/strategy"
)

const (
	exitOK          = 0
	exitError       = 1
	exitFatalEvent  = 2
	exitInterrupted = 130

	idempotencyTTL    = 24 * time.Hour
	idempotencyWindow = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default: configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}
	if err := config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat, cfg.Storage.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return exitError
	}

	log.Info().
		Str("environment", cfg.App.Environment).
		Str("venue", cfg.Exchange.Name).
		Strs("symbols", cfg.Market.Symbols).
		Msg("sentryd starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Vault.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
			log.Error().Err(err).Msg("Vault secret load failed")
			return exitError
		}
	}

	// Event spine. Everything else publishes into it.
	bus := events.NewBus()
	defer bus.Close()

	var bridge *events.NATSBridge
	if cfg.Bus.URL != "" {
		bridge, err = events.NewNATSBridge(bus, cfg.Bus.URL, cfg.Bus.SubjectPrefix)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.Bus.URL).Msg("NATS bridge unavailable, running in-process only")
		} else {
			defer bridge.Close()
		}
	}

	// Durable storage. A configured database that cannot be reached is
	// a startup failure; trading must not begin with a dead audit path.
	var database *db.DB
	if cfg.Storage.DatabaseURL != "" {
		database, err = db.Connect(ctx, cfg.Storage)
		if err != nil {
			log.Error().Err(err).Msg("Database connection failed")
			return exitError
		}
		defer database.Close()
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.Storage.RedisURL)
		if perr != nil {
			log.Error().Err(perr).Msg("Invalid redis URL")
			return exitError
		}
		redisClient = redis.NewClient(opts)
		if perr := redisClient.Ping(ctx).Err(); perr != nil {
			log.Warn().Err(perr).Msg("Redis unreachable, continuing without cache")
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// fatalErr carries failures that must stop trading outright: a
	// breaker state that cannot persist, or a safety-relevant event
	// that cannot be written durably.
	fatalErr := make(chan error, 2)
	fatal := func(err error) {
		select {
		case fatalErr <- err:
		default:
		}
	}

	breakers, err := breaker.New(cfg.Breaker, bus)
	if err != nil {
		log.Error().Err(err).Msg("Circuit breaker initialization failed")
		return exitError
	}
	breakers.SetFatalHandler(fatal)

	var auditor risk.Auditor
	var persister *events.Persister
	if database != nil {
		store := audit.NewStore(database.Pool())
		auditor = store
		persister = events.NewPersister(bus, store, fatal)
		defer persister.Close()
	} else {
		if cfg.Exchange.Name != "simulated" {
			log.Error().Msg("A live venue requires storage.database_url for the audit trail")
			return exitError
		}
		log.Warn().Msg("No database configured, audit trail goes to the log only")
		auditor = audit.NewLogStore()
	}

	var idemStore idempotency.Store
	switch {
	case redisClient != nil:
		idemStore = idempotency.NewRedisStore(redisClient)
	case database != nil:
		idemStore = idempotency.NewPostgresStore(database.Pool())
	default:
		idemStore = idempotency.NewMemoryStore()
	}
	reserver := idempotency.NewManager(idemStore, idempotencyTTL, idempotencyWindow)

	// Venue adapter. Paper sessions execute against the simulator but
	// read live market data through a public Binance feed.
	var adapter exchange.Adapter
	var sim *exchange.Simulator
	switch cfg.Exchange.Name {
	case "binance":
		adapter = exchange.NewBinanceAdapter(exchange.BinanceConfig{
			APIKey:    cfg.Exchange.APIKey,
			SecretKey: cfg.Exchange.APISecret,
			Testnet:   cfg.Exchange.Testnet,
		})
	case "", "simulated":
		feed := exchange.NewBinanceAdapter(exchange.BinanceConfig{Testnet: cfg.Exchange.Testnet})
		sim = exchange.NewSimulator(simulatorConfig(cfg), feed)
		adapter = sim
	default:
		log.Error().Str("venue", cfg.Exchange.Name).Msg("Unknown exchange adapter")
		return exitError
	}

	venue := exchange.NewService(adapter, serviceConfig(cfg.Network), bus, breakers)
	if err := venue.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Venue connection failed")
		return exitError
	}
	defer venue.Disconnect(context.Background())

	sweeper := exchange.NewSweeper(venue, cfg.Network.SweepInterval, cfg.Network.HangingOrderAge)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Market data over the same resilience envelope the orders use.
	var candleCache *market.RedisCandleCache
	if redisClient != nil {
		candleCache = market.NewRedisCandleCache(redisClient, cfg.Market.CacheTTL)
	}
	fearGreed := market.NewFearGreedClient(cfg.Market.FearGreedURL)
	marketSvc := market.NewService(cfg.Market, venue, candleCache, market.Providers{
		Sentiment: market.NewFearGreedSentiment(fearGreed),
	})

	registry := strategy.NewRegistry(cfg.Strategies, config.NewLogger("strategies"))
	coordinator := agents.NewCoordinator(cfg.Agents, cfg.Risk, agents.DefaultCommittee(registry), config.NewLogger("agents"))

	gateway := risk.New(cfg.Risk, cfg.Breaker, risk.Deps{
		Venue:    venue,
		Breaker:  breakers,
		Reserver: reserver,
		Auditor:  auditor,
		Bus:      bus,
	})

	adv := advisor.New(cfg.AI)
	defer adv.Close()

	notifier := notify.NewManager(notify.ParseSeverity(cfg.Notification.MinSeverity), notifySinks(cfg)...)
	watcher := notify.NewWatcher(bus, notifier)
	go watcher.Run(ctx)

	var orderStore *db.OrderStore
	if database != nil {
		orderStore = db.NewOrderStore(database.Pool())
	}

	deps := engine.Deps{
		Config:    cfg,
		Bus:       bus,
		Market:    marketSvc,
		Decider:   coordinator,
		Gateway:   gateway,
		Venue:     venue,
		Breakers:  breakers,
		Advisor:   adv,
		State:     state.NewWriter(cfg.Storage.DataDir),
		FearGreed: fearGreed,
	}
	if orderStore != nil {
		deps.Orders = orderStore
	}
	if sim != nil {
		deps.Bars = sim
	}

	runtime, err := engine.New(deps)
	if err != nil {
		log.Error().Err(err).Msg("Engine initialization failed")
		return exitError
	}

	apiDeps := api.Deps{
		Control:    runtime,
		Venue:      venue,
		Strategies: registry,
		Bus:        bus,
	}
	if orderStore != nil {
		apiDeps.Orders = orderStore
	}
	if database != nil {
		apiDeps.Health = database.Health
	}
	server := api.NewServer(cfg.Gateway, apiDeps)

	engineErr := make(chan error, 1)
	go func() { engineErr <- runtime.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := exitOK
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		if sig == syscall.SIGINT {
			code = exitInterrupted
		}
		runtime.Stop()
		<-engineErr

	case err := <-engineErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Trading engine failed")
			code = exitError
		}

	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
			code = exitError
		}
		runtime.Stop()
		<-engineErr

	case err := <-fatalErr:
		log.Error().Err(err).Msg("Fatal persistence failure, stopping trading")
		runtime.EmergencyStop(ctx, "persistence failure")
		runtime.Stop()
		<-engineErr
		code = exitFatalEvent
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("API server shutdown failed")
	}

	cancel()
	log.Info().Int("exit_code", code).Msg("sentryd stopped")
	return code
}

// simulatorConfig merges the fee model with the simulator knobs.
func simulatorConfig(cfg *config.Config) exchange.SimulatorConfig {
	out := exchange.DefaultSimulatorConfig()
	sim := cfg.Exchange.Simulator
	fees := cfg.Exchange.Fees

	if sim.InitialBalance > 0 {
		out.InitialBalance = sim.InitialBalance
	}
	if fees.Maker > 0 {
		out.MakerFee = fees.Maker
	}
	if fees.Taker > 0 {
		out.TakerFee = fees.Taker
	}
	if fees.BaseSlippage > 0 {
		out.BaseSlippage = fees.BaseSlippage
	}
	if fees.MarketImpactCoef > 0 {
		out.MarketImpactCoef = fees.MarketImpactCoef
	}
	if fees.MaxSlippage > 0 {
		out.MaxSlippage = fees.MaxSlippage
	}
	if sim.LatencyMin > 0 {
		out.LatencyMin = sim.LatencyMin
	}
	if sim.LatencyMax > 0 {
		out.LatencyMax = sim.LatencyMax
	}
	if sim.SpikeThreshold > 0 {
		out.SpikeThreshold = sim.SpikeThreshold
	}
	if sim.SuspendDuration > 0 {
		out.SuspendDuration = sim.SuspendDuration
	}
	return out
}

// serviceConfig maps the network section onto the execution service's
// resilience envelope.
func serviceConfig(n config.NetworkConfig) exchange.ServiceConfig {
	out := exchange.DefaultServiceConfig()
	if n.RequestTimeout > 0 {
		out.ReadTimeout = n.RequestTimeout
	}
	if n.OrderTimeout > 0 {
		out.OrderTimeout = n.OrderTimeout
	}
	if n.MaxRetries > 0 {
		out.Retry.MaxRetries = n.MaxRetries
	}
	if n.BackoffBase > 0 {
		out.Retry.InitialBackoff = n.BackoffBase
	}
	if n.BackoffMax > 0 {
		out.Retry.MaxBackoff = n.BackoffMax
	}
	if n.BackoffFactor > 0 {
		out.Retry.BackoffFactor = n.BackoffFactor
	}
	if n.JitterPct > 0 {
		out.Retry.JitterPct = n.JitterPct
	}
	if n.RequestsPerMinute > 0 {
		out.RequestsPerMinute = n.RequestsPerMinute
	}
	if n.Burst > 0 {
		out.Burst = n.Burst
	}
	return out
}

func notifySinks(cfg *config.Config) []notify.Notifier {
	sinks := []notify.Notifier{notify.NewLogNotifier()}
	tg := cfg.Notification.Telegram
	if tg.Enabled {
		sink, err := notify.NewTelegramNotifier(tg.Token, tg.ChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram notifier unavailable")
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}
