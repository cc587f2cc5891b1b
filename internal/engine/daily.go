package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tradesentry/tradesentry/internal/idempotency"
	"github.com/tradesentry/tradesentry/internal/state"
)

// runDaily executes the maintenance workflow once at startup when
// today's artefact is missing or incomplete, then at every UTC
// midnight.
func (r *Runtime) runDaily(ctx context.Context) error {
	if r.needsDailyRun() {
		if _, err := r.RunDailyWorkflow(ctx); err != nil {
			r.logger.Error().Err(err).Msg("daily workflow failed")
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(untilNextUTCMidnight(r.now())):
			if _, err := r.RunDailyWorkflow(ctx); err != nil {
				r.logger.Error().Err(err).Msg("daily workflow failed")
			}
		}
	}
}

func (r *Runtime) needsDailyRun() bool {
	if r.deps.State == nil {
		return true
	}
	today := r.now().UTC().Format("2006-01-02")
	s, err := r.deps.State.LoadDaily(today)
	if err != nil {
		return true
	}
	return s.WorkflowStatus != state.WorkflowCompleted
}

// RunDailyWorkflow rolls the day ledger, clears the per-day breaker
// counters and writes the daily artefact: the fear & greed reading, a
// BTC reference price and the risk parameters in force. Exported so
// the API can trigger it on demand. Rollovers happen even when an
// artefact input fails; stale limits are a smaller problem than a day
// ledger that never resets.
func (r *Runtime) RunDailyWorkflow(ctx context.Context) (state.DailyState, error) {
	date := r.now().UTC().Format("2006-01-02")
	snap := state.DailyState{
		Date:           date,
		Timestamp:      r.now().UTC(),
		WorkflowStatus: state.WorkflowStarted,
		RiskParameters: state.RiskParametersFrom(r.deps.Gateway.Limits()),
	}
	r.writeDaily(snap)

	var failures []string

	if r.deps.FearGreed != nil {
		idx, err := r.deps.FearGreed.Index(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("fear_greed: %v", err))
		} else {
			snap.FearIndex = idx.Value
		}
	}

	if symbol := r.referenceSymbol(); symbol != "" {
		ticker, err := r.deps.Venue.GetTicker(ctx, symbol)
		if err != nil {
			failures = append(failures, fmt.Sprintf("ticker %s: %v", symbol, err))
		} else {
			snap.BTCPrice = ticker.Last
		}
	}

	r.deps.Gateway.Ledger().Rollover()
	r.deps.Breakers.ResetDaily()

	snap.Timestamp = r.now().UTC()
	if len(failures) > 0 {
		snap.WorkflowStatus = state.WorkflowFailed
		r.writeDaily(snap)
		return snap, fmt.Errorf("daily workflow: %s", strings.Join(failures, "; "))
	}

	snap.WorkflowStatus = state.WorkflowCompleted
	r.writeDaily(snap)
	r.logger.Info().
		Str("date", date).
		Int("fear_index", snap.FearIndex).
		Float64("btc_price", snap.BTCPrice).
		Msg("daily workflow completed")
	return snap, nil
}

func (r *Runtime) writeDaily(s state.DailyState) {
	if r.deps.State == nil {
		return
	}
	if _, err := r.deps.State.WriteDaily(s); err != nil {
		r.logger.Error().Err(err).Str("date", s.Date).Msg("daily artefact write failed")
	}
}

// referenceSymbol picks the artefact's reference market, preferring a
// BTC pair over the first configured symbol.
func (r *Runtime) referenceSymbol() string {
	for _, s := range r.cfg.Market.Symbols {
		if strings.HasPrefix(idempotency.NormalizeSymbol(s), "BTC") {
			return s
		}
	}
	if len(r.cfg.Market.Symbols) > 0 {
		return r.cfg.Market.Symbols[0]
	}
	return ""
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
