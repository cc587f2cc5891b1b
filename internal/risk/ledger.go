package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// DayStats is the ledger's view of the current UTC day plus the
// all-time drawdown inputs. LossPct and Drawdown are fractions of
// day-start equity and the high-water mark respectively, both >= 0.
type DayStats struct {
	Day            string
	DayStartEquity float64
	RealizedPnL    float64
	LossPct        float64
	Trades         int
	HighWaterMark  float64
	Drawdown       float64
}

// Ledger tracks the daily account trail the risk rules read: day-start
// equity, realized pnl, submitted-trade count and the equity high-water
// mark. Days roll at UTC midnight; the high-water mark spans days.
type Ledger struct {
	mu             sync.Mutex
	day            string
	dayStartEquity float64
	realizedPnL    float64
	trades         int
	highWaterMark  float64

	now    func() time.Time
	logger zerolog.Logger
}

// NewLedger starts an empty ledger. The first equity observation seeds
// the day baseline and high-water mark.
func NewLedger() *Ledger {
	return &Ledger{
		now:    time.Now,
		logger: log.With().Str("component", "risk-ledger").Logger(),
	}
}

// Stats observes the current equity and returns the day trail. The
// observation seeds the day baseline when fresh and ratchets the
// high-water mark.
func (l *Ledger) Stats(equity float64) DayStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	if l.dayStartEquity == 0 {
		l.dayStartEquity = equity
	}
	if equity > l.highWaterMark {
		l.highWaterMark = equity
	}

	stats := DayStats{
		Day:            l.day,
		DayStartEquity: l.dayStartEquity,
		RealizedPnL:    l.realizedPnL,
		Trades:         l.trades,
		HighWaterMark:  l.highWaterMark,
	}
	if l.realizedPnL < 0 && l.dayStartEquity > 0 {
		stats.LossPct = -l.realizedPnL / l.dayStartEquity
	}
	if l.highWaterMark > 0 && equity < l.highWaterMark {
		stats.Drawdown = (l.highWaterMark - equity) / l.highWaterMark
	}
	return stats
}

// RecordFill books one realized pnl delta into the current day
func (l *Ledger) RecordFill(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	l.realizedPnL += pnl
	metrics.DailyPnL.Set(l.realizedPnL)
}

// CountTrade increments the day's submitted-order count. Duplicate
// submissions that never reach the venue are not counted.
func (l *Ledger) CountTrade() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	l.trades++
}

// Rollover forces the UTC day-boundary check. The daily workflow calls
// it at midnight so the roll is logged on schedule rather than on the
// first request of the new day.
func (l *Ledger) Rollover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
}

func (l *Ledger) rollLocked() {
	today := l.now().UTC().Format("2006-01-02")
	if l.day == today {
		return
	}
	if l.day != "" {
		l.logger.Info().
			Str("closed_day", l.day).
			Float64("realized_pnl", l.realizedPnL).
			Int("trades", l.trades).
			Msg("daily ledger rolled")
	}
	l.day = today
	l.dayStartEquity = 0
	l.realizedPnL = 0
	l.trades = 0
	metrics.DailyPnL.Set(0)
}
