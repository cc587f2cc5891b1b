package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// SweepReasonHanging is recorded on orders the sweeper gives up on
const SweepReasonHanging = "hanging_sweep"

// Sweeper reconciles the local order table against the venue. Orders
// stuck in a non-terminal state past the hanging threshold are
// cancelled; parked PENDING orders whose venue outcome was never
// learned are probed until resolved.
type Sweeper struct {
	svc          *Service
	interval     time.Duration
	hangingAfter time.Duration

	done    chan struct{}
	stopped chan struct{}
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper over the service's order table
func NewSweeper(svc *Service, interval, hangingAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if hangingAfter <= 0 {
		hangingAfter = 30 * time.Minute
	}
	return &Sweeper{
		svc:          svc,
		interval:     interval,
		hangingAfter: hangingAfter,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		logger:       log.With().Str("component", "sweeper").Logger(),
		now:          time.Now,
	}
}

// Start runs the sweep loop until Stop or context cancellation
func (w *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish
func (w *Sweeper) Stop() {
	close(w.done)
	<-w.stopped
}

// Sweep walks the order table once. It returns how many orders were
// resolved from venue state and how many were cancelled as hanging.
func (w *Sweeper) Sweep(ctx context.Context) (resolved, cancelled int) {
	for _, order := range w.svc.TrackedOrders() {
		if order.Terminal() {
			continue
		}

		age := w.now().Sub(order.CreatedAt)

		// Probe the venue first: the order may have resolved since we
		// last heard about it. absorb() inside GetOrder emits the
		// lifecycle events for any transition it discovers.
		current, err := w.svc.GetOrder(ctx, order.ClientOrderID)
		if err == nil && current.Terminal() {
			resolved++
			continue
		}

		if age < w.hangingAfter {
			continue
		}

		w.logger.Warn().
			Str("client_order_id", order.ClientOrderID).
			Str("status", string(order.Status)).
			Dur("age", age).
			Msg("hanging order, cancelling")

		// The venue cancel must land before the local record flips: an
		// order finalized locally while still live on the venue could
		// fill later with nobody watching. A failed cancel leaves the
		// order non-terminal so this cycle's outcome is retried on the
		// next one.
		swept, cerr := w.svc.sweepCancel(ctx, order.ClientOrderID, SweepReasonHanging)
		if cerr != nil {
			w.logger.Error().Err(cerr).
				Str("client_order_id", order.ClientOrderID).
				Msg("venue cancel failed, retrying next sweep")
			continue
		}
		if swept == nil {
			continue
		}
		metrics.OrdersSweptHanging.Inc()
		cancelled++
	}
	return resolved, cancelled
}
