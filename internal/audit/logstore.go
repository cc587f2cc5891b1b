package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogStore writes audit records to the structured log instead of
// PostgreSQL. It backs simulated sessions that run without a database;
// the trail survives only as long as the log files do, which is
// acceptable for paper trading and nothing else.
type LogStore struct {
	logger zerolog.Logger
}

// NewLogStore builds the log-backed fallback store.
func NewLogStore() *LogStore {
	return &LogStore{logger: log.With().Str("component", "audit").Logger()}
}

// Append logs one decision record. It never fails, so the gateway's
// fail-closed audit step always passes.
func (s *LogStore) Append(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	evt := s.logger.Info()
	if !rec.Passed {
		evt = s.logger.Warn()
	}
	if raw, err := json.Marshal(rec.AppliedRules); err == nil && len(rec.AppliedRules) > 0 {
		evt = evt.RawJSON("applied_rules", raw)
	}
	evt.
		Str("audit_id", rec.ID).
		Str("order_id", rec.OrderID).
		Str("trace_id", rec.TraceID).
		Str("symbol", rec.Symbol).
		Str("action", rec.Action).
		Bool("passed", rec.Passed).
		Str("blocked_reason", rec.BlockedReason).
		Float64("balance", rec.Balance).
		Float64("exposure", rec.Exposure).
		Msg("audit record")
	return nil
}
