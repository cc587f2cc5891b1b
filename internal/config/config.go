package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	AI           AIConfig           `mapstructure:"ai"`
	Risk         RiskLimits         `mapstructure:"risk"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Network      NetworkConfig      `mapstructure:"network"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Strategies   StrategiesConfig   `mapstructure:"strategies"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Market       MarketConfig       `mapstructure:"market"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Notification NotificationConfig `mapstructure:"notification"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Bus          BusConfig          `mapstructure:"bus"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json, console
}

// ExchangeConfig contains execution adapter settings
type ExchangeConfig struct {
	Name      string          `mapstructure:"name"` // "simulated" or "binance"
	APIKey    string          `mapstructure:"api_key"`
	APISecret string          `mapstructure:"api_secret"`
	Testnet   bool            `mapstructure:"testnet"`
	Fees      FeeConfig       `mapstructure:"fees"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// FeeConfig contains fee and slippage parameters used by the simulator
// and by notional estimates for live venues.
type FeeConfig struct {
	Maker            float64 `mapstructure:"maker"`              // e.g. 0.001 = 0.1%
	Taker            float64 `mapstructure:"taker"`              // e.g. 0.001 = 0.1%
	BaseSlippage     float64 `mapstructure:"base_slippage"`      // e.g. 0.0005 = 0.05%
	MarketImpactCoef float64 `mapstructure:"market_impact_coef"` // scales order_notional/bar_volume
	MaxSlippage      float64 `mapstructure:"max_slippage"`       // hard cap, e.g. 0.003 = 0.3%
}

// SimulatorConfig contains settings specific to the simulated adapter
type SimulatorConfig struct {
	InitialBalance  float64       `mapstructure:"initial_balance"`
	LatencyMin      time.Duration `mapstructure:"latency_min"`
	LatencyMax      time.Duration `mapstructure:"latency_max"`
	SpikeThreshold  float64       `mapstructure:"spike_threshold"`  // single-bar return that suspends fills
	SuspendDuration time.Duration `mapstructure:"suspend_duration"` // how long fills stay suspended after a spike
}

// AIConfig contains the optional advisory model gateway settings.
// The advisor annotates decisions; it never sits in the order path.
type AIConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Endpoint      string  `mapstructure:"endpoint"`
	APIKey        string  `mapstructure:"api_key"`
	Model         string  `mapstructure:"model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Timeout       int     `mapstructure:"timeout"` // milliseconds
}

// RiskLimits contains the hard limits enforced by the risk gateway.
// All *Pct fields are fractions of account equity (0.10 = 10%).
// SoftLimits selects clamp mode: oversized requests are reduced to the
// limit instead of rejected, where the rule allows it.
type RiskLimits struct {
	MaxPositionPct          float64  `mapstructure:"max_position_pct"`
	MaxTotalExposure        float64  `mapstructure:"max_total_exposure"`
	MaxSingleSymbolExposure float64  `mapstructure:"max_single_symbol_exposure"`
	MaxOpenPositions        int      `mapstructure:"max_open_positions"`
	MaxLeverage             float64  `mapstructure:"max_leverage"`
	MaxStopLossPct          float64  `mapstructure:"max_stop_loss_pct"`
	MinStopLossPct          float64  `mapstructure:"min_stop_loss_pct"`
	MaxTakeProfitPct        float64  `mapstructure:"max_take_profit_pct"`
	MaxDailyLoss            float64  `mapstructure:"max_daily_loss"`
	MaxDailyTrades          int      `mapstructure:"max_daily_trades"`
	MaxTotalDrawdown        float64  `mapstructure:"max_total_drawdown"`
	CircuitBreakerTrigger   float64  `mapstructure:"circuit_breaker_trigger"`
	MinOrderSize            float64  `mapstructure:"min_order_size"` // dust floor in base units
	SoftLimits              bool     `mapstructure:"soft_limits"`
	DenySymbols             []string `mapstructure:"deny_symbols"`
}

// BreakerConfig contains the three-tier circuit breaker thresholds
type BreakerConfig struct {
	StrategyMaxDailyLoss         float64 `mapstructure:"strategy_max_daily_loss"`
	StrategyMaxConsecutiveLosses int     `mapstructure:"strategy_max_consecutive_losses"`
	AccountMaxDailyLoss          float64 `mapstructure:"account_max_daily_loss"`
	AccountMaxDrawdown           float64 `mapstructure:"account_max_drawdown"`
	SystemVolatilityThreshold    float64 `mapstructure:"system_volatility_threshold"`
	SystemAPIFailureThreshold    int     `mapstructure:"system_api_failure_threshold"`
	SystemPanicSellThreshold     float64 `mapstructure:"system_panic_sell_threshold"`
	AutoRecoverMinutes           int     `mapstructure:"auto_recover_minutes"`
	ManualRecover                bool    `mapstructure:"manual_recover"`
	StateFile                    string  `mapstructure:"state_file"`
}

// NetworkConfig contains timeouts, retry and rate-limit settings for venue calls
type NetworkConfig struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	OrderTimeout      time.Duration `mapstructure:"order_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	JitterPct         float64       `mapstructure:"jitter_pct"` // 0.10 = ±10%
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	HangingOrderAge   time.Duration `mapstructure:"hanging_order_age"`
}

// AgentsConfig contains the analyst committee and coordinator settings
type AgentsConfig struct {
	Weights        map[string]float64 `mapstructure:"weights"`
	AgentTimeout   time.Duration      `mapstructure:"agent_timeout"`
	DebateRounds   int                `mapstructure:"debate_rounds"`
	MinActionScore float64            `mapstructure:"min_action_score"` // |weighted total| below this holds
	RiskVetoScore  float64            `mapstructure:"risk_veto_score"`  // risk score at or below this forces HOLD
	BaseStopPct    float64            `mapstructure:"base_stop_pct"`
}

// StrategiesConfig controls which built-in rule strategies vote through
// the strategy analyst. Built-ins start enabled; names listed here are
// muted at startup and can be re-enabled over the API.
type StrategiesConfig struct {
	Disabled []string `mapstructure:"disabled"`
}

// TradingConfig controls the live trading loop
type TradingConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"` // zero derives one bar of the primary timeframe
	TickTimeout     time.Duration `mapstructure:"tick_timeout"`  // deadline for a single symbol tick
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StartPaused     bool          `mapstructure:"start_paused"`
}

// MarketConfig contains market data settings
type MarketConfig struct {
	Symbols      []string      `mapstructure:"symbols"`
	Timeframe    string        `mapstructure:"timeframe"`  // primary window driving indicators
	Timeframes   []string      `mapstructure:"timeframes"` // all fetched OHLCV windows
	CandleLimit  int           `mapstructure:"candle_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"` // must not exceed one bar
	FearGreedURL string        `mapstructure:"fear_greed_url"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	DataDir     string `mapstructure:"data_dir"`
	LogDir      string `mapstructure:"log_dir"`
	PoolSize    int    `mapstructure:"pool_size"`
}

// GatewayConfig contains the REST/WebSocket listener settings
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// NotificationConfig contains outbound alerting settings
type NotificationConfig struct {
	Telegram    TelegramConfig `mapstructure:"telegram"`
	MinSeverity string         `mapstructure:"min_severity"` // info, warning, critical
}

// TelegramConfig contains Telegram bot credentials
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// VaultConfig contains HashiCorp Vault connection settings
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	AuthMethod string `mapstructure:"auth_method"` // "token"
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	Namespace  string `mapstructure:"namespace"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	MetricsPath   string `mapstructure:"metrics_path"`
}

// BusConfig contains event bus settings
type BusConfig struct {
	URL            string `mapstructure:"url"` // empty runs the in-process bus only
	SubjectPrefix  string `mapstructure:"subject_prefix"`
	SubscriberSize int    `mapstructure:"subscriber_buffer"` // per-subscriber queue depth
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADESENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "tradesentry")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Exchange defaults
	v.SetDefault("exchange.name", "simulated")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.fees.maker", 0.001)
	v.SetDefault("exchange.fees.taker", 0.001)
	v.SetDefault("exchange.fees.base_slippage", 0.0005)
	v.SetDefault("exchange.fees.market_impact_coef", 0.1)
	v.SetDefault("exchange.fees.max_slippage", 0.003)
	v.SetDefault("exchange.simulator.initial_balance", 10000.0)
	v.SetDefault("exchange.simulator.latency_min", "10ms")
	v.SetDefault("exchange.simulator.latency_max", "100ms")
	v.SetDefault("exchange.simulator.spike_threshold", 0.02)
	v.SetDefault("exchange.simulator.suspend_duration", "5s")

	// AI advisor defaults (disabled unless configured)
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.fallback_model", "gpt-4-turbo")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.timeout", 30000)

	// Risk limit defaults
	v.SetDefault("risk.max_position_pct", 0.10)
	v.SetDefault("risk.max_total_exposure", 0.40)
	v.SetDefault("risk.max_single_symbol_exposure", 0.15)
	v.SetDefault("risk.max_open_positions", 3)
	v.SetDefault("risk.max_leverage", 3.0)
	v.SetDefault("risk.max_stop_loss_pct", 0.10)
	v.SetDefault("risk.min_stop_loss_pct", 0.01)
	v.SetDefault("risk.max_take_profit_pct", 0.30)
	v.SetDefault("risk.max_daily_loss", 0.05)
	v.SetDefault("risk.max_daily_trades", 20)
	v.SetDefault("risk.max_total_drawdown", 0.15)
	v.SetDefault("risk.circuit_breaker_trigger", 0.08)
	v.SetDefault("risk.min_order_size", 0.01)
	v.SetDefault("risk.soft_limits", true)
	v.SetDefault("risk.deny_symbols", []string{})

	// Circuit breaker defaults
	v.SetDefault("breaker.strategy_max_daily_loss", 0.05)
	v.SetDefault("breaker.strategy_max_consecutive_losses", 5)
	v.SetDefault("breaker.account_max_daily_loss", 0.10)
	v.SetDefault("breaker.account_max_drawdown", 0.20)
	v.SetDefault("breaker.system_volatility_threshold", 0.20)
	v.SetDefault("breaker.system_api_failure_threshold", 5)
	v.SetDefault("breaker.system_panic_sell_threshold", 0.15)
	v.SetDefault("breaker.auto_recover_minutes", 60)
	v.SetDefault("breaker.manual_recover", false)
	v.SetDefault("breaker.state_file", "data/circuit_breakers.json")

	// Network defaults
	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.order_timeout", "60s")
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.backoff_base", "1s")
	v.SetDefault("network.backoff_max", "60s")
	v.SetDefault("network.backoff_factor", 2.0)
	v.SetDefault("network.jitter_pct", 0.10)
	v.SetDefault("network.requests_per_minute", 60)
	v.SetDefault("network.burst", 10)
	v.SetDefault("network.sweep_interval", "5m")
	v.SetDefault("network.hanging_order_age", "30m")

	// Agent committee defaults
	v.SetDefault("agents.weights", map[string]float64{
		"market":    0.25,
		"strategy":  0.20,
		"risk":      0.25,
		"onchain":   0.10,
		"sentiment": 0.10,
		"macro":     0.10,
	})
	v.SetDefault("agents.agent_timeout", "2s")
	v.SetDefault("agents.debate_rounds", 3)
	v.SetDefault("agents.min_action_score", 0.1)
	v.SetDefault("agents.risk_veto_score", -0.5)
	v.SetDefault("agents.base_stop_pct", 0.02)

	// Strategy registry defaults: every built-in votes
	v.SetDefault("strategies.disabled", []string{})

	// Trading loop defaults
	v.SetDefault("trading.tick_interval", "0s")
	v.SetDefault("trading.tick_timeout", "30s")
	v.SetDefault("trading.shutdown_timeout", "30s")
	v.SetDefault("trading.start_paused", false)

	// Market data defaults
	v.SetDefault("market.symbols", []string{"BTC-USDT", "ETH-USDT"})
	v.SetDefault("market.timeframe", "5m")
	v.SetDefault("market.timeframes", []string{"5m", "15m", "1h", "4h"})
	v.SetDefault("market.candle_limit", 100)
	v.SetDefault("market.cache_ttl", "1m")
	v.SetDefault("market.fear_greed_url", "https://api.alternative.me/fng/")

	// Storage defaults
	v.SetDefault("storage.database_url", "postgres://postgres@localhost:5432/tradesentry?sslmode=disable")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.pool_size", 10)

	// Gateway defaults
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)

	// Notification defaults
	v.SetDefault("notification.telegram.enabled", false)
	v.SetDefault("notification.min_severity", "warning")

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "tradesentry")

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Bus defaults
	v.SetDefault("bus.url", "")
	v.SetDefault("bus.subject_prefix", "tradesentry.")
	v.SetDefault("bus.subscriber_buffer", 256)
}

// GetAddr returns the gateway listen address
func (c *GatewayConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTimeout returns the advisor timeout as time.Duration
func (c *AIConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// AutoRecoverAfter returns the breaker auto-recovery window as a duration
func (c *BreakerConfig) AutoRecoverAfter() time.Duration {
	return time.Duration(c.AutoRecoverMinutes) * time.Minute
}

// TickEvery returns the trading loop interval, falling back to one bar
// of the primary timeframe when unset.
func (c *TradingConfig) TickEvery(bar time.Duration) time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	if bar > 0 {
		return bar
	}
	return time.Minute
}

// BarDuration converts the configured primary timeframe to a duration.
// Returns zero for unknown timeframes.
func (c *MarketConfig) BarDuration() time.Duration {
	return TimeframeDuration(c.Timeframe)
}

// TimeframeDuration converts a timeframe string ("5m", "1h", ...) to its
// bar period. Returns zero for unknown timeframes.
func TimeframeDuration(timeframe string) time.Duration {
	return timeframes[timeframe]
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}
