package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tradesentry/tradesentry/internal/agents"
	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// ErrUnknownStrategy is returned for toggles and swaps that name a rule
// the registry never saw.
var ErrUnknownStrategy = errors.New("unknown strategy")

var (
	builtinMu sync.RWMutex
	builtin   = make(map[string]Strategy)
)

// Register adds a rule to the process-global table. Built-ins call it
// from init; it panics on a nil rule, an empty name, an unparsable
// version or a duplicate name.
func Register(s Strategy) {
	if s == nil {
		panic("strategy: Register called with nil strategy")
	}
	name := s.Name()
	if name == "" {
		panic("strategy: Register called with empty name")
	}
	if _, err := parseVersion(s.Version()); err != nil {
		panic(fmt.Sprintf("strategy: %s has invalid version %q", name, s.Version()))
	}

	builtinMu.Lock()
	defer builtinMu.Unlock()
	if _, dup := builtin[name]; dup {
		panic("strategy: Register called twice for " + name)
	}
	builtin[name] = s
}

// Builtins returns the registered rules sorted by name.
func Builtins() []Strategy {
	builtinMu.RLock()
	defer builtinMu.RUnlock()

	out := make([]Strategy, 0, len(builtin))
	for _, s := range builtin {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

type entry struct {
	strategy Strategy
	enabled  bool
}

// Registry tracks which rules vote. It is the agents.SignalSource
// behind the strategy analyst and the target of the REST toggles.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  zerolog.Logger
}

var _ agents.SignalSource = (*Registry)(nil)

// NewRegistry builds a registry over the compiled-in rules. Everything
// starts enabled except the names listed in cfg.Disabled.
func NewRegistry(cfg config.StrategiesConfig, logger zerolog.Logger) *Registry {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}

	r := &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With().Str("component", "strategy_registry").Logger(),
	}
	for _, s := range Builtins() {
		enabled := !disabled[s.Name()]
		r.entries[s.Name()] = &entry{strategy: s, enabled: enabled}
		metrics.StrategyEnabled.WithLabelValues(s.Name()).Set(boolGauge(enabled))
		delete(disabled, s.Name())
	}
	for name := range disabled {
		r.logger.Warn().Str("strategy", name).Msg("Disabled strategy is not registered")
	}
	return r
}

// List returns the API view of every rule, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			ID:          e.strategy.Name(),
			Version:     e.strategy.Version(),
			Description: e.strategy.Description(),
			Enabled:     e.enabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a rule by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.strategy, true
}

// Enable turns a rule's vote back on.
func (r *Registry) Enable(name string) error { return r.SetEnabled(name, true) }

// Disable mutes a rule without unregistering it.
func (r *Registry) Disable(name string) error { return r.SetEnabled(name, false) }

// SetEnabled flips one rule's voting flag.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	if e.enabled != enabled {
		e.enabled = enabled
		metrics.StrategyEnabled.WithLabelValues(name).Set(boolGauge(enabled))
		r.logger.Info().
			Str("strategy", name).
			Bool("enabled", enabled).
			Msg("Strategy toggled")
	}
	return nil
}

// EnabledSignalers returns the voting rules in name order; the strategy
// analyst averages their signals.
func (r *Registry) EnabledSignalers() []agents.RuleSignaler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]agents.RuleSignaler, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].strategy)
	}
	return out
}

// Swap replaces a registered rule in place. The replacement must carry
// the same name, keep the major version and be strictly newer; the
// enabled flag carries over.
func (r *Registry) Swap(next Strategy) error {
	if next == nil {
		return errors.New("nil strategy")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[next.Name()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, next.Name())
	}
	if err := CheckUpgrade(e.strategy.Version(), next.Version()); err != nil {
		return fmt.Errorf("swap %s: %w", next.Name(), err)
	}

	r.logger.Info().
		Str("strategy", next.Name()).
		Str("from", e.strategy.Version()).
		Str("to", next.Version()).
		Msg("Strategy replaced")
	e.strategy = next
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
