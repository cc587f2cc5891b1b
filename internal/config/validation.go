package config

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// agentNames are the committee members that must carry a weight
var agentNames = []string{"market", "strategy", "risk", "onchain", "sentiment", "macro"}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateExchange()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateNetwork()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateMarket()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateGateway()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	validEnvs := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvs {
		if c.App.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("invalid environment %q, must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateExchange() ValidationErrors {
	var errors ValidationErrors

	switch c.Exchange.Name {
	case "simulated", "binance":
	default:
		errors = append(errors, ValidationError{
			Field:   "exchange.name",
			Message: fmt.Sprintf("unsupported exchange %q, must be 'simulated' or 'binance'", c.Exchange.Name),
		})
	}

	if c.Exchange.Name == "binance" && !c.Exchange.Testnet && c.App.Environment != "production" {
		errors = append(errors, ValidationError{
			Field:   "exchange.testnet",
			Message: "live binance trading requires app.environment=production",
		})
	}

	if c.Exchange.Fees.MaxSlippage <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.fees.max_slippage",
			Message: "max slippage must be positive",
		})
	}

	if c.Exchange.Simulator.InitialBalance <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.simulator.initial_balance",
			Message: "simulator initial balance must be positive",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	fraction := func(field string, val float64) {
		if val <= 0 || val > 1 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("must be a fraction in (0, 1], got %v", val),
			})
		}
	}

	fraction("risk.max_position_pct", c.Risk.MaxPositionPct)
	fraction("risk.max_total_exposure", c.Risk.MaxTotalExposure)
	fraction("risk.max_single_symbol_exposure", c.Risk.MaxSingleSymbolExposure)
	fraction("risk.max_stop_loss_pct", c.Risk.MaxStopLossPct)
	fraction("risk.min_stop_loss_pct", c.Risk.MinStopLossPct)
	fraction("risk.max_take_profit_pct", c.Risk.MaxTakeProfitPct)
	fraction("risk.max_daily_loss", c.Risk.MaxDailyLoss)
	fraction("risk.max_total_drawdown", c.Risk.MaxTotalDrawdown)
	fraction("risk.circuit_breaker_trigger", c.Risk.CircuitBreakerTrigger)

	if c.Risk.MinStopLossPct >= c.Risk.MaxStopLossPct {
		errors = append(errors, ValidationError{
			Field:   "risk.min_stop_loss_pct",
			Message: "min stop loss must be below max stop loss",
		})
	}

	if c.Risk.MaxOpenPositions < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_open_positions",
			Message: "must allow at least one open position",
		})
	}

	if c.Risk.MaxLeverage < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_leverage",
			Message: "max leverage must be at least 1",
		})
	}

	if c.Risk.MaxDailyTrades < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_daily_trades",
			Message: "must allow at least one trade per day",
		})
	}

	if c.Risk.MinOrderSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.min_order_size",
			Message: "min order size cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateBreaker() ValidationErrors {
	var errors ValidationErrors

	if c.Breaker.StrategyMaxConsecutiveLosses < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.strategy_max_consecutive_losses",
			Message: "consecutive loss threshold must be at least 1",
		})
	}

	if c.Breaker.AutoRecoverMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "breaker.auto_recover_minutes",
			Message: "auto recover minutes cannot be negative (0 disables auto recovery)",
		})
	}

	if c.Breaker.StateFile == "" {
		errors = append(errors, ValidationError{
			Field:   "breaker.state_file",
			Message: "breaker state file path is required",
		})
	}

	return errors
}

func (c *Config) validateNetwork() ValidationErrors {
	var errors ValidationErrors

	if c.Network.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "network.request_timeout",
			Message: "request timeout must be positive",
		})
	}

	if c.Network.OrderTimeout < c.Network.RequestTimeout {
		errors = append(errors, ValidationError{
			Field:   "network.order_timeout",
			Message: "order timeout must be at least the request timeout",
		})
	}

	if c.Network.BackoffFactor < 1 {
		errors = append(errors, ValidationError{
			Field:   "network.backoff_factor",
			Message: "backoff factor must be at least 1",
		})
	}

	if c.Network.RequestsPerMinute < 1 || c.Network.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "network.requests_per_minute",
			Message: "rate limit requires requests_per_minute >= 1 and burst >= 1",
		})
	}

	return errors
}

func (c *Config) validateAgents() ValidationErrors {
	var errors ValidationErrors

	sum := 0.0
	for _, name := range agentNames {
		w, ok := c.Agents.Weights[name]
		if !ok {
			errors = append(errors, ValidationError{
				Field:   "agents.weights." + name,
				Message: "weight is required for every committee agent",
			})
			continue
		}
		if w < 0 {
			errors = append(errors, ValidationError{
				Field:   "agents.weights." + name,
				Message: "weights cannot be negative",
			})
		}
		sum += w
	}
	if len(errors) == 0 && math.Abs(sum-1.0) > 1e-9 {
		errors = append(errors, ValidationError{
			Field:   "agents.weights",
			Message: fmt.Sprintf("weights must sum to 1.0, got %v", sum),
		})
	}

	if c.Agents.AgentTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.agent_timeout",
			Message: "agent timeout must be positive",
		})
	}

	if c.Agents.DebateRounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.debate_rounds",
			Message: "at least one debate round is required",
		})
	}

	if c.Agents.BaseStopPct <= 0 || c.Agents.BaseStopPct > c.Risk.MaxStopLossPct {
		errors = append(errors, ValidationError{
			Field:   "agents.base_stop_pct",
			Message: "base stop must be positive and within risk.max_stop_loss_pct",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.TickInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.tick_interval",
			Message: "tick interval cannot be negative (0 derives one bar)",
		})
	}

	if c.Trading.TickTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.tick_timeout",
			Message: "tick timeout must be positive",
		})
	}

	if c.Trading.ShutdownTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateMarket() ValidationErrors {
	var errors ValidationErrors

	if len(c.Market.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "market.symbols",
			Message: "at least one symbol is required",
		})
	}

	bar := c.Market.BarDuration()
	if bar == 0 {
		errors = append(errors, ValidationError{
			Field:   "market.timeframe",
			Message: fmt.Sprintf("unknown timeframe %q", c.Market.Timeframe),
		})
	} else if c.Market.CacheTTL > bar {
		errors = append(errors, ValidationError{
			Field:   "market.cache_ttl",
			Message: "cache TTL must not exceed one bar interval",
		})
	}

	if c.Market.CandleLimit < 30 {
		errors = append(errors, ValidationError{
			Field:   "market.candle_limit",
			Message: "candle limit must cover indicator lookback (at least 30 bars)",
		})
	}

	return errors
}

func (c *Config) validateStorage() ValidationErrors {
	var errors ValidationErrors

	if c.Storage.DatabaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.database_url",
			Message: "database URL is required",
		})
	}

	if c.Storage.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "storage.pool_size",
			Message: "pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateGateway() ValidationErrors {
	var errors ValidationErrors

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "gateway.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1-65535", c.Gateway.Port),
		})
	}

	return errors
}
