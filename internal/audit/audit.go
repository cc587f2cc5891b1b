// Package audit persists the append-only decision trail of the risk
// gateway plus the durable copy of the domain-event stream. Every
// gateway submission produces exactly one Record, written before any
// exchange call; rows are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/events"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Snapshot captures the decision-relevant fields of an order request
// at one point in the risk pipeline. The Original and Modified
// snapshots on a Record differ exactly where a rule adjusted a value.
type Snapshot struct {
	Side       string  `json:"side"`
	Type       string  `json:"type,omitempty"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price,omitempty"`
	Leverage   float64 `json:"leverage,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	ReduceOnly bool    `json:"reduce_only,omitempty"`
}

// AppliedRule records one limit adjustment: which rule fired, what it
// did to the request, and the before and after values.
type AppliedRule struct {
	Rule      string  `json:"rule"`
	Action    string  `json:"action"`
	Original  float64 `json:"original"`
	ReducedTo float64 `json:"reduced_to"`
}

// Record is one row of the audit trail.
type Record struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"` // client order id; empty when rejected before assignment
	TraceID       string        `json:"trace_id"`
	Symbol        string        `json:"symbol"`
	Action        string        `json:"action"` // BUY | SELL | CLOSE | FLAT
	Original      Snapshot      `json:"original"`
	Modified      Snapshot      `json:"modified"`
	Passed        bool          `json:"passed"`
	BlockedReason string        `json:"blocked_reason,omitempty"`
	AppliedRules  []AppliedRule `json:"applied_rules,omitempty"`
	Balance       float64       `json:"balance"`
	Exposure      float64       `json:"exposure"`
	Timestamp     time.Time     `json:"timestamp"`
}

// RuleNames lists the rules that adjusted the request
func (r Record) RuleNames() []string {
	names := make([]string, len(r.AppliedRules))
	for i, ar := range r.AppliedRules {
		names[i] = ar.Rule
	}
	return names
}

// PgxIface is the slice of pgxpool.Pool the store needs
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store writes audit records and domain events to PostgreSQL. The
// store is stateless and safe for concurrent use; write ordering is
// the database's.
type Store struct {
	db     PgxIface
	logger zerolog.Logger
}

var _ events.EventStore = (*Store)(nil)

// NewStore wraps a pgx pool or compatible handle
func NewStore(db PgxIface) *Store {
	return &Store{
		db:     db,
		logger: log.With().Str("component", "audit").Logger(),
	}
}

// Append writes one decision record. Callers must treat an error as
// fail-closed: the submission that produced the record cannot proceed
// without its audit row.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	original, err := json.Marshal(rec.Original)
	if err != nil {
		return fmt.Errorf("marshal original snapshot: %w", err)
	}
	modified, err := json.Marshal(rec.Modified)
	if err != nil {
		return fmt.Errorf("marshal modified snapshot: %w", err)
	}
	rules, err := json.Marshal(rec.AppliedRules)
	if err != nil {
		return fmt.Errorf("marshal applied rules: %w", err)
	}

	start := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_log (
			id, order_id, trace_id, symbol, action,
			original, modified, passed, blocked_reason, applied_rules,
			balance, exposure, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.OrderID, rec.TraceID, rec.Symbol, rec.Action,
		original, modified, rec.Passed, rec.BlockedReason, rules,
		rec.Balance, rec.Exposure, rec.Timestamp,
	)
	metrics.AuditLogLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.AuditLogFailures.WithLabelValues("decision").Inc()
		s.logger.Error().Err(err).
			Str("trace_id", rec.TraceID).
			Str("symbol", rec.Symbol).
			Msg("audit append failed")
		return fmt.Errorf("append audit record: %w", err)
	}

	line := s.logger.Info()
	if !rec.Passed {
		line = s.logger.Warn()
	}
	line.Str("audit_id", rec.ID).
		Str("order_id", rec.OrderID).
		Str("trace_id", rec.TraceID).
		Str("symbol", rec.Symbol).
		Str("action", rec.Action).
		Bool("passed", rec.Passed).
		Str("blocked_reason", rec.BlockedReason).
		Strs("applied_rules", rec.RuleNames()).
		Msg("audit record")
	return nil
}

// Filter narrows a Query. Zero values are ignored.
type Filter struct {
	Symbol  string
	OrderID string
	TraceID string
	Passed  *bool
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Query returns matching records, newest first. Limit defaults to 100
// and caps at 1000.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT id, order_id, trace_id, symbol, action,
		       original, modified, passed, blocked_reason, applied_rules,
		       balance, exposure, timestamp
		FROM audit_log
		WHERE 1=1`
	args := []any{}

	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if f.TraceID != "" {
		args = append(args, f.TraceID)
		query += fmt.Sprintf(" AND trace_id = $%d", len(args))
	}
	if f.Passed != nil {
		args = append(args, *f.Passed)
		query += fmt.Sprintf(" AND passed = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			original []byte
			modified []byte
			rules    []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.TraceID, &rec.Symbol, &rec.Action,
			&original, &modified, &rec.Passed, &rec.BlockedReason, &rules,
			&rec.Balance, &rec.Exposure, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := json.Unmarshal(original, &rec.Original); err != nil {
			return nil, fmt.Errorf("decode original snapshot: %w", err)
		}
		if err := json.Unmarshal(modified, &rec.Modified); err != nil {
			return nil, fmt.Errorf("decode modified snapshot: %w", err)
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &rec.AppliedRules); err != nil {
				return nil, fmt.Errorf("decode applied rules: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendEvent persists one bus event, satisfying events.EventStore.
// Escalation policy for failures belongs to the persister; the store
// only counts and reports them.
func (s *Store) AppendEvent(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	start := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO events (id, sequence, type, symbol, order_id, trace_id, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID, evt.Sequence, string(evt.Type), evt.Symbol, evt.OrderID, evt.TraceID, payload, evt.Timestamp,
	)
	metrics.AuditLogLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.AuditLogFailures.WithLabelValues("event").Inc()
		return fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return nil
}
