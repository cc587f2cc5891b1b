package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/events"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func clampRecord() Record {
	return Record{
		ID:      "61bdbb4b-8552-4856-b1ba-12f4e24fca77",
		OrderID: "BUY_BTCUSDT_1748779200000_deadbeef",
		TraceID: "trace-1",
		Symbol:  "BTCUSDT",
		Action:  "BUY",
		Original: Snapshot{
			Side:  "BUY",
			Size:  0.25,
			Price: 50000,
		},
		Modified: Snapshot{
			Side:  "BUY",
			Size:  0.02,
			Price: 50000,
		},
		Passed: true,
		AppliedRules: []AppliedRule{
			{Rule: "position_limit", Action: "reduced", Original: 0.25, ReducedTo: 0.02},
		},
		Balance:   10000,
		Exposure:  1000,
		Timestamp: testTime,
	}
}

func TestAppendInsertsDecisionRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := clampRecord()
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(
			rec.ID, rec.OrderID, rec.TraceID, rec.Symbol, rec.Action,
			pgxmock.AnyArg(), pgxmock.AnyArg(), true, "", pgxmock.AnyArg(),
			rec.Balance, rec.Exposure, rec.Timestamp,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	require.NoError(t, store.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAssignsIdentity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := clampRecord()
	rec.ID = ""
	rec.Timestamp = time.Time{}

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(
			pgxmock.AnyArg(), rec.OrderID, rec.TraceID, rec.Symbol, rec.Action,
			pgxmock.AnyArg(), pgxmock.AnyArg(), true, "", pgxmock.AnyArg(),
			rec.Balance, rec.Exposure, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	require.NoError(t, store.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFailsClosed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection refused"))

	store := NewStore(mock)
	err = store.Append(context.Background(), clampRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append audit record")
	require.NoError(t, mock.ExpectationsWereMet())
}

// The audit contract pins the wire shape of the jsonb columns: S1-style
// clamps must surface as original.size / modified.size plus an
// applied_rules entry naming the rule.
func TestSnapshotWireShape(t *testing.T) {
	rec := clampRecord()

	original, err := json.Marshal(rec.Original)
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"BUY","size":0.25,"price":50000}`, string(original))

	modified, err := json.Marshal(rec.Modified)
	require.NoError(t, err)
	assert.JSONEq(t, `{"side":"BUY","size":0.02,"price":50000}`, string(modified))

	rules, err := json.Marshal(rec.AppliedRules)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"rule":"position_limit","action":"reduced","original":0.25,"reduced_to":0.02}]`,
		string(rules))

	assert.Equal(t, []string{"position_limit"}, rec.RuleNames())
}

func auditColumns() []string {
	return []string{
		"id", "order_id", "trace_id", "symbol", "action",
		"original", "modified", "passed", "blocked_reason", "applied_rules",
		"balance", "exposure", "timestamp",
	}
}

func TestQueryDecodesRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(auditColumns()).
		AddRow(
			"a1", "BUY_BTCUSDT_1748779200000_deadbeef", "trace-1", "BTCUSDT", "BUY",
			[]byte(`{"side":"BUY","size":0.25,"price":50000}`),
			[]byte(`{"side":"BUY","size":0.02,"price":50000}`),
			true, "",
			[]byte(`[{"rule":"position_limit","action":"reduced","original":0.25,"reduced_to":0.02}]`),
			10000.0, 1000.0, testTime,
		).
		AddRow(
			"a2", "", "trace-2", "BTCUSDT", "BUY",
			[]byte(`{"side":"BUY","size":1.5,"price":50000}`),
			[]byte(`{"side":"BUY","size":1.5,"price":50000}`),
			false, "RISK_CHECK_FAILED",
			[]byte(`[]`),
			10000.0, 1000.0, testTime.Add(-time.Minute),
		)

	passed := true
	mock.ExpectQuery("SELECT (.+) FROM audit_log").
		WithArgs("BTCUSDT", passed, 50).
		WillReturnRows(rows)

	store := NewStore(mock)
	got, err := store.Query(context.Background(), Filter{Symbol: "BTCUSDT", Passed: &passed, Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 0.25, got[0].Original.Size)
	assert.Equal(t, 0.02, got[0].Modified.Size)
	require.Len(t, got[0].AppliedRules, 1)
	assert.Equal(t, "position_limit", got[0].AppliedRules[0].Rule)
	assert.Equal(t, "reduced", got[0].AppliedRules[0].Action)

	assert.False(t, got[1].Passed)
	assert.Equal(t, "RISK_CHECK_FAILED", got[1].BlockedReason)
	assert.Empty(t, got[1].AppliedRules)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryDefaultAndCappedLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectQuery("SELECT (.+) FROM audit_log").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(auditColumns()))
	_, err = store.Query(context.Background(), Filter{})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM audit_log").
		WithArgs(1000).
		WillReturnRows(pgxmock.NewRows(auditColumns()))
	_, err = store.Query(context.Background(), Filter{Limit: 5000})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTimeWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := testTime.Add(-time.Hour)
	until := testTime

	mock.ExpectQuery("SELECT (.+) FROM audit_log").
		WithArgs("trace-1", since, until, 100).
		WillReturnRows(pgxmock.NewRows(auditColumns()))

	store := NewStore(mock)
	_, err = store.Query(context.Background(), Filter{TraceID: "trace-1", Since: since, Until: until})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	evt := events.Event{
		ID:        "e1",
		Sequence:  42,
		Type:      events.TypeRiskBlocked,
		Symbol:    "BTCUSDT",
		OrderID:   "BUY_BTCUSDT_1748779200000_deadbeef",
		TraceID:   "trace-1",
		Payload:   map[string]any{"reason": "RISK_CHECK_FAILED", "rule": "daily_loss"},
		Timestamp: testTime,
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs("e1", uint64(42), "RISK_BLOCKED", "BTCUSDT", evt.OrderID, "trace-1", pgxmock.AnyArg(), testTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	require.NoError(t, store.AppendEvent(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventSurfacesError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO events").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("relation does not exist"))

	store := NewStore(mock)
	err = store.AppendEvent(context.Background(), events.Event{Type: events.TypeOrderFilled, Timestamp: testTime})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_FILLED")
	require.NoError(t, mock.ExpectationsWereMet())
}
