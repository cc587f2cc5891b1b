// Package breaker implements the three-tier trading circuit breaker.
// The strategy tier throttles a single misbehaving strategy, the
// account tier halts new exposure, the system tier halts everything.
// Tier state survives restarts: it is persisted on every transition
// and restored before any order is accepted.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/exchange"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/state"
)

// Level identifies a breaker tier
type Level string

const (
	LevelStrategy Level = "STRATEGY"
	LevelAccount  Level = "ACCOUNT"
	LevelSystem   Level = "SYSTEM"
)

// Status is a tier's position in its lifecycle
type Status string

const (
	StatusNormal     Status = "NORMAL"
	StatusWarning    Status = "WARNING"
	StatusTriggered  Status = "TRIGGERED"
	StatusRecovering Status = "RECOVERING"
)

// Trip reasons
const (
	ReasonDailyLoss         = "daily_loss"
	ReasonDrawdown          = "drawdown"
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonHighVolatility    = "high_volatility"
	ReasonPanicSell         = "panic_sell"
	ReasonAPIFailure        = "api_failure"
	ReasonManualHalt        = "manual_halt"
)

// CloseScope says what the engine must flatten after a system trip
const (
	CloseAll  = "all"
	CloseNone = "none"
)

// BlockedError is returned by AllowOrder when a tier is TRIGGERED
type BlockedError struct {
	Level      Level
	Reason     string
	StrategyID string
}

func (e *BlockedError) Error() string {
	if e.Level == LevelStrategy {
		return fmt.Sprintf("circuit breaker %s triggered for strategy %s: %s", e.Level, e.StrategyID, e.Reason)
	}
	return fmt.Sprintf("circuit breaker %s triggered: %s", e.Level, e.Reason)
}

// Code classifies breaker blocks for the API error envelope
func (e *BlockedError) Code() string { return "RISK_CHECK_FAILED" }

// State is one tier's circuit state. Metric tracks the live value of
// the metric named by Reason so recovery can verify it has subsided.
type State struct {
	Level        Level      `json:"level"`
	Status       Status     `json:"status"`
	OwnerKey     string     `json:"owner_key,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	TriggerValue float64    `json:"trigger_value,omitempty"`
	Threshold    float64    `json:"threshold,omitempty"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty"`
	RecoveringAt *time.Time `json:"recovering_at,omitempty"`
	Metric       float64    `json:"metric,omitempty"`

	// Strategy-tier counters, persisted so restarts keep the streak
	ConsecutiveLosses int     `json:"consecutive_losses,omitempty"`
	DailyLoss         float64 `json:"daily_loss,omitempty"`
}

// Snapshot is a point-in-time copy of all tiers
type Snapshot struct {
	Strategy map[string]State `json:"strategy"`
	Account  State            `json:"account"`
	System   State            `json:"system"`
}

// Manager owns all tier state. One writer lock guards every
// transition so a trip is visible to the next AllowOrder call before
// the tripping call returns.
type Manager struct {
	cfg    config.BreakerConfig
	bus    *events.Bus
	logger zerolog.Logger

	mu          sync.RWMutex
	strategies  map[string]*State
	account     *State
	system      *State
	apiFailures int

	recoverCheck time.Duration
	fatal        func(error)
	now          func() time.Time
}

// New restores persisted state from cfg.StateFile. A missing file
// starts clean; an unreadable one is an error, because trading on
// unknown breaker state is how halts get bypassed.
func New(cfg config.BreakerConfig, bus *events.Bus) (*Manager, error) {
	m := &Manager{
		cfg:          cfg,
		bus:          bus,
		logger:       log.With().Str("component", "breaker").Logger(),
		strategies:   make(map[string]*State),
		account:      &State{Level: LevelAccount, Status: StatusNormal},
		system:       &State{Level: LevelSystem, Status: StatusNormal},
		recoverCheck: time.Minute,
		now:          time.Now,
	}

	if err := m.restore(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.updateGaugesLocked()
	m.mu.Unlock()
	return m, nil
}

// SetFatalHandler installs the callback invoked when breaker state
// cannot be persisted. The default only logs; the daemon wires this
// to a hard exit.
func (m *Manager) SetFatalHandler(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fatal = fn
}

// AllowOrder is the gateway's first gate. System trips block
// everything; account and strategy trips block new exposure but let
// reducing orders through so positions can still be worked down.
func (m *Manager) AllowOrder(strategyID string, reduceOnly bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.system.Status == StatusTriggered {
		return &BlockedError{Level: LevelSystem, Reason: m.system.Reason}
	}
	if m.account.Status == StatusTriggered && !reduceOnly {
		return &BlockedError{Level: LevelAccount, Reason: m.account.Reason}
	}
	if s, ok := m.strategies[strategyID]; ok && s.Status == StatusTriggered && !reduceOnly {
		return &BlockedError{Level: LevelStrategy, Reason: s.Reason, StrategyID: strategyID}
	}
	return nil
}

// RecordTrade feeds a realized trade result into the strategy tier.
// The fifth consecutive losing trade trips; so does a daily loss
// beyond the strategy's share of allocated notional.
func (m *Manager) RecordTrade(strategyID string, pnl, allocatedNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.strategyLocked(strategyID)
	if pnl < 0 {
		s.ConsecutiveLosses++
		s.DailyLoss += -pnl
	} else {
		s.ConsecutiveLosses = 0
	}

	maxLosses := m.cfg.StrategyMaxConsecutiveLosses
	if maxLosses > 0 && s.Status != StatusTriggered && s.ConsecutiveLosses >= maxLosses {
		streak := s.ConsecutiveLosses
		// The trip consumes the streak; recovery starts it fresh
		s.ConsecutiveLosses = 0
		s.Metric = 0
		m.setStatusLocked(s, StatusTriggered, ReasonConsecutiveLosses, float64(streak), float64(maxLosses))
		return
	}

	maxDaily := m.cfg.StrategyMaxDailyLoss
	var lossPct, lossRatio float64
	if allocatedNotional > 0 && maxDaily > 0 {
		lossPct = s.DailyLoss / allocatedNotional
		lossRatio = lossPct / maxDaily
	}
	streakRatio := 0.0
	if maxLosses > 0 {
		streakRatio = float64(s.ConsecutiveLosses) / float64(maxLosses)
	}

	// The dominant metric drives the tier status
	if lossRatio >= streakRatio && maxDaily > 0 {
		m.evaluateLocked(s, lossPct, maxDaily, ReasonDailyLoss, false)
	} else if maxLosses > 0 {
		m.evaluateLocked(s, float64(s.ConsecutiveLosses), float64(maxLosses), ReasonConsecutiveLosses, true)
	}

	m.persistLocked()
}

// UpdateAccountMetrics feeds the account tier. Both inputs are
// fractions of day-start equity.
func (m *Manager) UpdateAccountMetrics(dailyLossPct, drawdownPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.account
	if s.Status == StatusTriggered || s.Status == StatusRecovering {
		switch s.Reason {
		case ReasonDailyLoss:
			m.evaluateLocked(s, dailyLossPct, m.cfg.AccountMaxDailyLoss, ReasonDailyLoss, true)
		case ReasonDrawdown:
			m.evaluateLocked(s, drawdownPct, m.cfg.AccountMaxDrawdown, ReasonDrawdown, true)
		}
		// Manual and gateway-initiated trips recover on time alone
		return
	}

	lossRatio := ratio(dailyLossPct, m.cfg.AccountMaxDailyLoss)
	ddRatio := ratio(drawdownPct, m.cfg.AccountMaxDrawdown)
	if ddRatio > lossRatio {
		m.evaluateLocked(s, drawdownPct, m.cfg.AccountMaxDrawdown, ReasonDrawdown, true)
	} else if m.cfg.AccountMaxDailyLoss > 0 {
		m.evaluateLocked(s, dailyLossPct, m.cfg.AccountMaxDailyLoss, ReasonDailyLoss, true)
	}
}

// UpdateMarketMetrics feeds the system tier with volatility
// (returns-stdev over the recent window) and the panic-sell ratio.
// Returns true when this call tripped the tier and all positions
// must be flattened.
func (m *Manager) UpdateMarketMetrics(volatility, sellRatio float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.system
	wasTriggered := s.Status == StatusTriggered

	if s.Status == StatusTriggered || s.Status == StatusRecovering {
		switch s.Reason {
		case ReasonHighVolatility:
			m.evaluateLocked(s, volatility, m.cfg.SystemVolatilityThreshold, ReasonHighVolatility, false)
		case ReasonPanicSell:
			m.evaluateLocked(s, sellRatio, m.cfg.SystemPanicSellThreshold, ReasonPanicSell, false)
		}
		return false
	}

	volRatio := ratio(volatility, m.cfg.SystemVolatilityThreshold)
	panicRatio := ratio(sellRatio, m.cfg.SystemPanicSellThreshold)
	if panicRatio > volRatio {
		m.evaluateLocked(s, sellRatio, m.cfg.SystemPanicSellThreshold, ReasonPanicSell, false)
	} else if m.cfg.SystemVolatilityThreshold > 0 {
		m.evaluateLocked(s, volatility, m.cfg.SystemVolatilityThreshold, ReasonHighVolatility, false)
	}

	return !wasTriggered && s.Status == StatusTriggered
}

// RecordAPIFailure counts a failed venue call against the system tier
func (m *Manager) RecordAPIFailure(error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apiFailures++
	th := m.cfg.SystemAPIFailureThreshold
	if th <= 0 {
		return
	}
	m.evaluateLocked(m.system, float64(m.apiFailures), float64(th), ReasonAPIFailure, true)
}

// RecordAPISuccess resets the consecutive-failure count
func (m *Manager) RecordAPISuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiFailures == 0 {
		return
	}
	m.apiFailures = 0

	s := m.system
	if s.Reason != ReasonAPIFailure {
		return
	}
	switch s.Status {
	case StatusWarning:
		m.setStatusLocked(s, StatusNormal, "", 0, 0)
	case StatusTriggered, StatusRecovering:
		s.Metric = 0
		m.persistLocked()
	}
}

// RecordAPIFailureTrip trips the system tier immediately. The venue
// call protector invokes this when its circuit opens.
func (m *Manager) RecordAPIFailureTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.system
	if s.Status == StatusTriggered {
		return
	}
	s.Metric = float64(m.apiFailures)
	m.setStatusLocked(s, StatusTriggered, ReasonAPIFailure, float64(m.apiFailures), float64(m.cfg.SystemAPIFailureThreshold))
}

// TriggerAccount trips the account tier directly. The risk gateway
// uses this for its drawdown and projected-loss rules.
func (m *Manager) TriggerAccount(reason string, value, threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account.Status == StatusTriggered {
		return
	}
	m.account.Metric = value
	m.setStatusLocked(m.account, StatusTriggered, reason, value, threshold)
}

// EmergencyShutdown trips ACCOUNT and SYSTEM in one persisted step
// and returns the positions the caller must flatten.
func (m *Manager) EmergencyShutdown(reason string, positions []exchange.Position) []exchange.Position {
	if reason == "" {
		reason = ReasonManualHalt
	}

	m.mu.Lock()
	now := m.now()
	for _, s := range []*State{m.account, m.system} {
		if s.Status == StatusTriggered {
			continue
		}
		s.Status = StatusTriggered
		s.Reason = reason
		s.TriggeredAt = &now
		s.RecoveringAt = nil
		metrics.RecordBreakerTrip(string(s.Level), metrics.NormalizeBreakerReason(reason))
	}
	m.updateGaugesLocked()
	m.persistLocked()

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	m.publishLocked(events.TypeBreakerTriggered, m.system, map[string]any{
		"close_scope": CloseAll,
		"symbols":     symbols,
		"emergency":   true,
	})
	m.mu.Unlock()

	m.logger.Error().
		Str("reason", reason).
		Int("positions_to_close", len(positions)).
		Msg("EMERGENCY SHUTDOWN: account and system breakers triggered")

	out := make([]exchange.Position, len(positions))
	copy(out, positions)
	return out
}

// Reset is the operator override that returns a tier to NORMAL
func (m *Manager) Reset(level Level, strategyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s *State
	switch level {
	case LevelStrategy:
		var ok bool
		s, ok = m.strategies[strategyID]
		if !ok {
			return fmt.Errorf("no breaker state for strategy %q", strategyID)
		}
	case LevelAccount:
		s = m.account
	case LevelSystem:
		s = m.system
		m.apiFailures = 0
	default:
		return fmt.Errorf("unknown breaker level %q", level)
	}

	if s.Status == StatusNormal {
		return nil
	}
	s.ConsecutiveLosses = 0
	s.DailyLoss = 0
	s.Metric = 0
	m.setStatusLocked(s, StatusNormal, "", 0, 0)
	m.logger.Warn().
		Str("level", string(level)).
		Str("strategy_id", strategyID).
		Msg("breaker manually reset")
	return nil
}

// ResetDaily clears per-day strategy counters at the day rollover.
// Loss streaks span days and are kept.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.strategies {
		s.DailyLoss = 0
		if s.Status == StatusWarning && s.Reason == ReasonDailyLoss {
			m.setStatusLocked(s, StatusNormal, "", 0, 0)
		}
	}
	m.persistLocked()
}

// States returns a copy of all tier states
func (m *Manager) States() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Strategy: make(map[string]State, len(m.strategies)),
		Account:  *m.account,
		System:   *m.system,
	}
	for id, s := range m.strategies {
		snap.Strategy[id] = *s
	}
	return snap
}

// Persist writes the current tier states to the state file. States
// persist on every transition already; shutdown calls this once more
// so the file reflects the final counters.
func (m *Manager) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

// Tick advances recovery lifecycles. TRIGGERED tiers become
// RECOVERING once the recovery window has elapsed and the tripping
// metric is back below the warning line; RECOVERING tiers return to
// NORMAL after one clean check interval, or re-trip if the metric
// climbs back.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickOneLocked(m.account)
	m.tickOneLocked(m.system)
	for _, s := range m.strategies {
		m.tickOneLocked(s)
	}
}

// Run drives Tick until the context ends
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.mu.Lock()
	m.recoverCheck = interval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Manager) tickOneLocked(s *State) {
	now := m.now()
	switch s.Status {
	case StatusTriggered:
		if m.cfg.ManualRecover || s.TriggeredAt == nil {
			return
		}
		if now.Sub(*s.TriggeredAt) >= m.cfg.AutoRecoverAfter() && belowWarning(s) {
			m.setStatusLocked(s, StatusRecovering, s.Reason, s.Metric, s.Threshold)
		}
	case StatusRecovering:
		if !belowWarning(s) {
			m.setStatusLocked(s, StatusTriggered, s.Reason, s.Metric, s.Threshold)
			return
		}
		if s.RecoveringAt != nil && now.Sub(*s.RecoveringAt) >= m.recoverCheck {
			m.setStatusLocked(s, StatusNormal, "", 0, 0)
		}
	}
}

// evaluateLocked drives one tier metric through the status machine.
// inclusive selects >= vs > for the full crossing.
func (m *Manager) evaluateLocked(s *State, metric, threshold float64, reason string, inclusive bool) {
	if threshold <= 0 {
		return
	}

	if s.Status == StatusTriggered || s.Status == StatusRecovering {
		if s.Reason != reason {
			return
		}
		s.Metric = metric
		if s.Status == StatusRecovering && crossed(metric, threshold, inclusive) {
			m.setStatusLocked(s, StatusTriggered, reason, metric, threshold)
		}
		return
	}

	s.Metric = metric
	switch {
	case crossed(metric, threshold, inclusive):
		m.setStatusLocked(s, StatusTriggered, reason, metric, threshold)
	case metric > threshold*0.5:
		if s.Status != StatusWarning {
			m.setStatusLocked(s, StatusWarning, reason, metric, threshold)
		}
	default:
		if s.Status == StatusWarning && s.Reason == reason {
			m.setStatusLocked(s, StatusNormal, "", 0, 0)
		}
	}
}

// setStatusLocked performs the transition bookkeeping: state fields,
// gauges, persistence, and events.
func (m *Manager) setStatusLocked(s *State, to Status, reason string, value, threshold float64) {
	from := s.Status
	if from == to {
		return
	}
	s.Status = to

	switch to {
	case StatusTriggered:
		now := m.now()
		s.TriggeredAt = &now
		s.RecoveringAt = nil
		s.Reason = reason
		s.TriggerValue = value
		s.Threshold = threshold
	case StatusRecovering:
		now := m.now()
		s.RecoveringAt = &now
	case StatusWarning:
		s.Reason = reason
		s.TriggerValue = value
		s.Threshold = threshold
	case StatusNormal:
		s.Reason = ""
		s.TriggerValue = 0
		s.Threshold = 0
		s.TriggeredAt = nil
		s.RecoveringAt = nil
	}

	m.updateGaugesLocked()
	m.persistLocked()

	evt := m.logger.Info()
	if to == StatusTriggered {
		evt = m.logger.Error()
	}
	evt.Str("level", string(s.Level)).
		Str("strategy_id", s.OwnerKey).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Float64("value", value).
		Float64("threshold", threshold).
		Msg("breaker transition")

	if to == StatusTriggered {
		metrics.RecordBreakerTrip(string(s.Level), metrics.NormalizeBreakerReason(reason))
		m.publishLocked(events.TypeBreakerTriggered, s, map[string]any{
			"close_scope": closeScopeFor(reason),
		})
	}
	if to == StatusNormal && (from == StatusRecovering || from == StatusTriggered) {
		m.publishLocked(events.TypeBreakerRecovered, s, nil)
	}
}

func (m *Manager) publishLocked(typ events.Type, s *State, extra map[string]any) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{
		"level":     string(s.Level),
		"status":    string(s.Status),
		"reason":    s.Reason,
		"value":     s.TriggerValue,
		"threshold": s.Threshold,
	}
	if s.OwnerKey != "" {
		payload["strategy_id"] = s.OwnerKey
	}
	for k, v := range extra {
		payload[k] = v
	}
	m.bus.Publish(events.Event{Type: typ, Payload: payload})
}

func (m *Manager) strategyLocked(strategyID string) *State {
	s, ok := m.strategies[strategyID]
	if !ok {
		s = &State{Level: LevelStrategy, Status: StatusNormal, OwnerKey: strategyID}
		m.strategies[strategyID] = s
	}
	return s
}

func (m *Manager) updateGaugesLocked() {
	metrics.BreakerState.WithLabelValues("account").Set(statusCode(m.account.Status))
	metrics.BreakerState.WithLabelValues("system").Set(statusCode(m.system.Status))

	worst := StatusNormal
	for _, s := range m.strategies {
		if severity(s.Status) > severity(worst) {
			worst = s.Status
		}
	}
	metrics.BreakerState.WithLabelValues("strategy").Set(statusCode(worst))
}

func statusCode(s Status) float64 {
	switch s {
	case StatusWarning:
		return 1
	case StatusTriggered:
		return 2
	case StatusRecovering:
		return 3
	default:
		return 0
	}
}

func severity(s Status) int {
	switch s {
	case StatusWarning:
		return 1
	case StatusRecovering:
		return 2
	case StatusTriggered:
		return 3
	default:
		return 0
	}
}

func belowWarning(s *State) bool {
	if s.Threshold <= 0 {
		return true
	}
	return s.Metric <= s.Threshold*0.5
}

func crossed(metric, threshold float64, inclusive bool) bool {
	if inclusive {
		return metric >= threshold
	}
	return metric > threshold
}

func ratio(metric, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return metric / threshold
}

func closeScopeFor(reason string) string {
	switch reason {
	case ReasonHighVolatility, ReasonPanicSell, ReasonManualHalt:
		return CloseAll
	default:
		return CloseNone
	}
}

type stateFile struct {
	Strategy map[string]*State `json:"strategy"`
	Account  *State            `json:"account"`
	System   *State            `json:"system"`
}

func (m *Manager) restore() error {
	if m.cfg.StateFile == "" {
		return nil
	}
	data, err := os.ReadFile(m.cfg.StateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read breaker state: %w", err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse breaker state %s: %w", m.cfg.StateFile, err)
	}

	if f.Account != nil {
		f.Account.Level = LevelAccount
		m.account = f.Account
	}
	if f.System != nil {
		f.System.Level = LevelSystem
		m.system = f.System
	}
	for id, s := range f.Strategy {
		s.Level = LevelStrategy
		s.OwnerKey = id
		m.strategies[id] = s
	}

	for _, s := range append([]*State{m.account, m.system}, mapValues(m.strategies)...) {
		if s.Status == StatusTriggered {
			m.logger.Warn().
				Str("level", string(s.Level)).
				Str("strategy_id", s.OwnerKey).
				Str("reason", s.Reason).
				Msg("restored TRIGGERED breaker state")
		}
	}
	return nil
}

// persistLocked writes the state file atomically with owner-only
// permissions. Failures are routed to the fatal handler: a breaker
// that cannot persist cannot be trusted across a crash.
func (m *Manager) persistLocked() {
	if m.cfg.StateFile == "" {
		return
	}

	f := stateFile{
		Strategy: m.strategies,
		Account:  m.account,
		System:   m.system,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		m.persistFailedLocked(fmt.Errorf("marshal breaker state: %w", err))
		return
	}

	if err := state.WriteAtomic(m.cfg.StateFile, data, 0600); err != nil {
		m.persistFailedLocked(fmt.Errorf("persist breaker state: %w", err))
	}
}

func (m *Manager) persistFailedLocked(err error) {
	m.logger.Error().Err(err).Msg("breaker state persistence failed")
	if m.fatal != nil {
		m.fatal(err)
	}
}

func mapValues(in map[string]*State) []*State {
	out := make([]*State, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}
