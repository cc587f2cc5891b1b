package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/events"
)

// Storm detection defaults: this many RISK_BLOCKED events inside the
// window raise one WARNING, then the counter arms again after the
// cooldown.
const (
	defaultStormThreshold = 5
	defaultStormWindow    = time.Minute
)

// Watcher turns safety-relevant bus events into operator notifications.
// Individual risk rejections are normal operation; only a rejection
// storm is worth a page.
type Watcher struct {
	bus    *events.Bus
	mgr    *Manager
	logger zerolog.Logger

	stormThreshold int
	stormWindow    time.Duration
	blocks         []time.Time
	lastStorm      time.Time

	now func() time.Time
}

// NewWatcher creates a watcher over the bus with default storm limits
func NewWatcher(bus *events.Bus, mgr *Manager) *Watcher {
	return &Watcher{
		bus:            bus,
		mgr:            mgr,
		logger:         log.With().Str("component", "notify-watch").Logger(),
		stormThreshold: defaultStormThreshold,
		stormWindow:    defaultStormWindow,
		now:            time.Now,
	}
}

// Run consumes events until the context ends
func (w *Watcher) Run(ctx context.Context) {
	sub := w.bus.Subscribe("notify", 256)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			w.handle(ctx, evt)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, evt events.Event) {
	switch evt.Type {
	case events.TypeBreakerTriggered:
		if emergency, _ := evt.Payload["emergency"].(bool); emergency {
			w.mgr.Critical(ctx, "Emergency shutdown",
				"Account and system breakers triggered; open positions are being closed.",
				pick(evt.Payload, "reason", "symbols"))
			return
		}
		w.mgr.Critical(ctx, "Circuit breaker triggered",
			fmt.Sprintf("%v breaker tripped: %v", evt.Payload["level"], evt.Payload["reason"]),
			pick(evt.Payload, "level", "reason", "value", "threshold", "strategy_id", "close_scope"))

	case events.TypeBreakerRecovered:
		w.mgr.Info(ctx, "Circuit breaker recovered",
			fmt.Sprintf("%v breaker back to NORMAL", evt.Payload["level"]),
			pick(evt.Payload, "level", "strategy_id"))

	case events.TypeShutdown:
		w.mgr.Info(ctx, "Trading engine stopped",
			"Graceful shutdown completed.", pick(evt.Payload, "reason"))

	case events.TypeRiskBlocked:
		w.recordBlock(ctx, evt)
	}
}

func (w *Watcher) recordBlock(ctx context.Context, evt events.Event) {
	now := w.now()

	fresh := w.blocks[:0]
	for _, at := range w.blocks {
		if now.Sub(at) < w.stormWindow {
			fresh = append(fresh, at)
		}
	}
	w.blocks = append(fresh, now)

	if len(w.blocks) < w.stormThreshold || now.Sub(w.lastStorm) < w.stormWindow {
		return
	}

	w.lastStorm = now
	count := len(w.blocks)
	w.blocks = w.blocks[:0]

	w.logger.Warn().Int("blocked", count).Msg("risk rejection storm")
	w.mgr.Warning(ctx, "Risk gateway rejecting orders",
		fmt.Sprintf("%d orders blocked in the last %s.", count, w.stormWindow),
		map[string]any{
			"blocked":   count,
			"window":    w.stormWindow.String(),
			"last_rule": evt.Payload["rule"],
			"symbol":    evt.Symbol,
		})
}

func pick(payload map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			out[k] = v
		}
	}
	return out
}
