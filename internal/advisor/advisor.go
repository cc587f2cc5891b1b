// Package advisor attaches a model-written second opinion to trade
// decisions after the fact. Calls to the OpenAI-compatible gateway run
// on their own goroutines with a bounded in-flight count; the decision
// and order paths never wait on the advisor, and a dead gateway costs
// nothing but the commentary.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// maxInFlight bounds concurrent gateway calls. Decisions arriving
// beyond it go without commentary rather than queue.
const maxInFlight = 4

const systemPrompt = `You are the desk commentator for an automated crypto derivatives trading system.
You receive one committee decision as JSON. Reply with JSON only:
{"stance": "agree" | "caution" | "disagree", "comment": "<at most two sentences>"}
Judge whether the stated evidence supports the action and size. Do not invent data.`

// Annotation is one model verdict about one decision.
type Annotation struct {
	TraceID string `json:"trace_id"`
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Model   string `json:"model"`
	Stance  string `json:"stance"`
	Comment string `json:"comment"`
}

// Advisor annotates decisions asynchronously. Build it with New; a
// disabled config yields an advisor whose Annotate is a no-op.
type Advisor struct {
	primary  *Client
	fallback *Client
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup

	// observe, when set, receives every completed annotation.
	observe func(Annotation)
}

// New builds an advisor from the ai config section.
func New(cfg config.AIConfig) *Advisor {
	a := &Advisor{
		logger: log.With().Str("component", "advisor").Logger(),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if !cfg.Enabled {
		return a
	}

	base := ClientConfig{
		Endpoint:    cfg.Endpoint,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.GetTimeout(),
	}
	a.primary = NewClient(base)
	if cfg.FallbackModel != "" && cfg.FallbackModel != cfg.Model {
		fb := base
		fb.Model = cfg.FallbackModel
		a.fallback = NewClient(fb)
	}

	a.slots = make(chan struct{}, maxInFlight)
	// Both models sit behind the same gateway, so one breaker guards
	// them together.
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "advisor-gateway",
		Interval: time.Minute,
		Timeout:  time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("advisor gateway breaker state change")
		},
	})
	return a
}

// Enabled reports whether annotations will be attempted.
func (a *Advisor) Enabled() bool { return a.primary != nil }

// Annotate schedules commentary for d and returns immediately. A full
// slot table, an open breaker, or a disabled advisor all mean the
// decision simply goes without commentary.
func (a *Advisor) Annotate(d agents.TradeDecision) {
	if a.primary == nil {
		return
	}
	select {
	case a.slots <- struct{}{}:
	default:
		a.logger.Debug().Str("trace_id", d.TraceID).Msg("advisor saturated, skipping decision")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()

		ann, err := a.annotate(a.ctx, d)
		if err != nil {
			a.logger.Warn().Err(err).
				Str("trace_id", d.TraceID).
				Str("symbol", d.Symbol).
				Msg("decision left unannotated")
			return
		}
		a.logger.Info().
			Str("trace_id", ann.TraceID).
			Str("symbol", ann.Symbol).
			Str("action", ann.Action).
			Str("model", ann.Model).
			Str("stance", ann.Stance).
			Str("comment", ann.Comment).
			Msg("advisor annotation")
		if a.observe != nil {
			a.observe(ann)
		}
	}()
}

// annotate runs one gateway round synchronously: primary model first,
// fallback model when the primary fails.
func (a *Advisor) annotate(ctx context.Context, d agents.TradeDecision) (Annotation, error) {
	prompt, err := decisionPrompt(d)
	if err != nil {
		return Annotation{}, err
	}

	content, model, err := a.complete(ctx, prompt)
	if err != nil {
		return Annotation{}, err
	}

	ann := Annotation{
		TraceID: d.TraceID,
		Symbol:  d.Symbol,
		Action:  string(d.Action),
		Model:   model,
	}
	var verdict struct {
		Stance  string `json:"stance"`
		Comment string `json:"comment"`
	}
	if perr := ParseJSON(content, &verdict); perr == nil && verdict.Comment != "" {
		ann.Stance = strings.ToLower(strings.TrimSpace(verdict.Stance))
		ann.Comment = verdict.Comment
	} else {
		// Models that ignore the format often still say something useful.
		ann.Stance = "unparsed"
		ann.Comment = strings.TrimSpace(content)
	}
	return ann, nil
}

// complete tries each configured model behind the shared breaker.
func (a *Advisor) complete(ctx context.Context, prompt string) (content, model string, err error) {
	clients := []*Client{a.primary}
	if a.fallback != nil {
		clients = append(clients, a.fallback)
	}

	var lastErr error
	for i, c := range clients {
		start := time.Now()
		out, cerr := a.breaker.Execute(func() (interface{}, error) {
			return c.CompleteWithSystem(ctx, systemPrompt, prompt)
		})
		metrics.RecordAdvisorCall(c.Model(), float64(time.Since(start).Milliseconds()), cerr)
		if cerr == nil {
			return out.(string), c.Model(), nil
		}
		lastErr = cerr
		if errors.Is(cerr, gobreaker.ErrOpenState) || errors.Is(cerr, gobreaker.ErrTooManyRequests) {
			// The gateway is down as a whole; the fallback model lives
			// behind it too.
			break
		}
		if i < len(clients)-1 {
			a.logger.Debug().Err(cerr).Str("model", c.Model()).Msg("model failed, trying fallback")
		}
	}
	return "", "", fmt.Errorf("all advisor models failed: %w", lastErr)
}

// decisionPrompt renders the decision fields worth second-guessing.
func decisionPrompt(d agents.TradeDecision) (string, error) {
	view := map[string]any{
		"symbol":          d.Symbol,
		"action":          d.Action,
		"size_pct_equity": d.Size,
		"leverage":        d.Leverage,
		"price":           d.Price,
		"confidence":      d.Confidence,
		"risk_score":      d.RiskScore,
		"risk_check":      d.RiskCheckPassed,
		"reasons":         d.Reasons,
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	return string(raw), nil
}

// Close cancels in-flight gateway calls and waits for workers to exit.
func (a *Advisor) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}
