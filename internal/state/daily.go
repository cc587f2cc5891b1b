package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tradesentry/tradesentry/internal/config"
)

// Workflow status values recorded in the daily artefact
const (
	WorkflowStarted   = "started"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// RiskParameters is the operator-facing view of the limits the gateway
// is currently enforcing, recorded alongside the market snapshot.
type RiskParameters struct {
	MaxLeverage           float64 `yaml:"max_leverage"`
	MaxPositionPct        float64 `yaml:"max_position_pct"`
	MaxTotalExposure      float64 `yaml:"max_total_exposure"`
	MaxDailyLoss          float64 `yaml:"max_daily_loss"`
	MaxDailyTrades        int     `yaml:"max_daily_trades"`
	MaxTotalDrawdown      float64 `yaml:"max_total_drawdown"`
	CircuitBreakerTrigger float64 `yaml:"circuit_breaker_trigger"`
	SoftLimits            bool    `yaml:"soft_limits"`
}

// RiskParametersFrom flattens the enforced limit set into the artefact view
func RiskParametersFrom(l config.RiskLimits) RiskParameters {
	return RiskParameters{
		MaxLeverage:           l.MaxLeverage,
		MaxPositionPct:        l.MaxPositionPct,
		MaxTotalExposure:      l.MaxTotalExposure,
		MaxDailyLoss:          l.MaxDailyLoss,
		MaxDailyTrades:        l.MaxDailyTrades,
		MaxTotalDrawdown:      l.MaxTotalDrawdown,
		CircuitBreakerTrigger: l.CircuitBreakerTrigger,
		SoftLimits:            l.SoftLimits,
	}
}

// DailyState is the once-per-UTC-day workflow snapshot
type DailyState struct {
	Date           string         `yaml:"date"`
	FearIndex      int            `yaml:"fear_index"`
	BTCPrice       float64        `yaml:"btc_price"`
	Timestamp      time.Time      `yaml:"timestamp"`
	WorkflowStatus string         `yaml:"workflow_status"`
	RiskParameters RiskParameters `yaml:"risk_parameters"`
}

// DailyFileName returns the artefact name for a date formatted 2006-01-02
func DailyFileName(date string) string {
	return fmt.Sprintf("daily_state_%s.yaml", date)
}

// Writer persists daily artefacts under the data directory
type Writer struct {
	dir    string
	logger zerolog.Logger
}

// NewWriter creates a writer rooted at dataDir
func NewWriter(dataDir string) *Writer {
	return &Writer{
		dir:    dataDir,
		logger: log.With().Str("component", "state").Logger(),
	}
}

// WriteDaily stores the snapshot, overwriting any earlier write for the
// same date. Returns the path written.
func (w *Writer) WriteDaily(s DailyState) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal daily state: %w", err)
	}

	path := filepath.Join(w.dir, DailyFileName(s.Date))
	if err := WriteAtomic(path, data, 0644); err != nil {
		return "", err
	}

	w.logger.Info().
		Str("path", path).
		Str("status", s.WorkflowStatus).
		Int("fear_index", s.FearIndex).
		Msg("daily state written")
	return path, nil
}

// LoadDaily reads the snapshot for a date formatted 2006-01-02
func (w *Writer) LoadDaily(date string) (DailyState, error) {
	path := filepath.Join(w.dir, DailyFileName(date))
	data, err := os.ReadFile(path)
	if err != nil {
		return DailyState{}, fmt.Errorf("read daily state: %w", err)
	}

	var s DailyState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DailyState{}, fmt.Errorf("parse daily state %s: %w", path, err)
	}
	return s, nil
}
