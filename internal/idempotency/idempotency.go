// Package idempotency guarantees that one trading intent produces at
// most one venue order. Intents are fingerprinted into deterministic
// keys; a key, once reserved, maps to a single client order id for the
// record's lifetime. Cancelling an order never releases its key: a
// cancelled intent stays consumed.
package idempotency

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Action is the intent class encoded into client order ids
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
	ActionFlat  Action = "FLAT"
)

// DefaultTTL keeps a reservation alive for one full UTC day
const DefaultTTL = 24 * time.Hour

// DefaultWindow deduplicates rapid resubmissions of one intent even
// across a minute-bucket boundary
const DefaultWindow = 5 * time.Second

var clientOrderIDPattern = regexp.MustCompile(`^(BUY|SELL|CLOSE|FLAT)_[A-Z0-9]+_\d{13}_[a-f0-9]{8}$`)

// NewClientOrderID builds a venue-safe id of the form
// {ACTION}_{SYMBOL}_{UNIX_MS}_{NONCE8} where SYMBOL is upper case with
// separators stripped and NONCE8 is 8 hex chars of crypto randomness.
func NewClientOrderID(action Action, symbol string, at time.Time) string {
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s_%s_%d_%s", action, NormalizeSymbol(symbol), at.UnixMilli(), hex.EncodeToString(nonce))
}

// ValidateClientOrderID checks an id against the canonical layout
func ValidateClientOrderID(id string) error {
	if !clientOrderIDPattern.MatchString(id) {
		return fmt.Errorf("client order id %q does not match {ACTION}_{SYMBOL}_{UNIX_MS}_{NONCE8}", id)
	}
	return nil
}

// NormalizeSymbol strips separators and upper-cases, so BTC-USDT,
// btc/usdt and BTCUSDT all collapse to one venue symbol.
func NormalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

// Key fingerprints a trading intent. Identical intents inside one
// minute bucket hash identically; the first 32 hex chars of the
// SHA-256 are plenty at trading cardinalities.
func Key(action Action, symbol string, price, size float64, at time.Time) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d",
		action,
		NormalizeSymbol(symbol),
		formatNum(price),
		formatNum(size),
		at.Unix()/60,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:32]
}

// signature is the bucket-free intent fingerprint used by the sliding
// resubmission window
func signature(action Action, symbol string, price, size float64) string {
	return fmt.Sprintf("%s|%s|%s|%s", action, NormalizeSymbol(symbol), formatNum(price), formatNum(size))
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Record is one reserved intent
type Record struct {
	Key           string    `json:"key"`
	ClientOrderID string    `json:"client_order_id"`
	Action        Action    `json:"action"`
	Symbol        string    `json:"symbol"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reservation is the outcome of Reserve. When Duplicate is set the
// caller must not submit: ClientOrderID names the already-submitted
// order to return instead.
type Reservation struct {
	Key           string
	ClientOrderID string
	Duplicate     bool
}

// Manager combines the durable reservation store with the in-process
// sliding window. Store errors propagate: when the safety store is
// unreachable the caller fails closed rather than risking a double
// submission.
type Manager struct {
	store  Store
	ttl    time.Duration
	window time.Duration

	mu     sync.Mutex
	recent map[string]recentEntry

	now    func() time.Time
	logger zerolog.Logger
}

type recentEntry struct {
	clientOrderID string
	at            time.Time
}

// NewManager creates a manager over the given store
func NewManager(store Store, ttl, window time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		window: window,
		recent: make(map[string]recentEntry),
		now:    time.Now,
		logger: log.With().Str("component", "idempotency").Logger(),
	}
}

// Reserve claims an intent. New intents get a fresh client order id;
// duplicates, whether via the sliding window, the key store or a
// concurrent race, come back with the original id and Duplicate set.
func (m *Manager) Reserve(ctx context.Context, action Action, symbol string, price, size float64) (Reservation, error) {
	now := m.now()
	sig := signature(action, symbol, price, size)

	m.mu.Lock()
	if e, ok := m.recent[sig]; ok && now.Sub(e.at) < m.window {
		m.mu.Unlock()
		metrics.IdempotencyDuplicates.Inc()
		m.logger.Debug().
			Str("client_order_id", e.clientOrderID).
			Msg("intent resubmitted inside dedup window")
		return Reservation{ClientOrderID: e.clientOrderID, Duplicate: true}, nil
	}
	m.mu.Unlock()

	key := Key(action, symbol, price, size, now)

	if existing, found, err := m.store.Get(ctx, key); err != nil {
		return Reservation{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if found {
		m.remember(sig, existing.ClientOrderID, now)
		metrics.IdempotencyDuplicates.Inc()
		return Reservation{Key: key, ClientOrderID: existing.ClientOrderID, Duplicate: true}, nil
	}

	rec := Record{
		Key:           key,
		ClientOrderID: NewClientOrderID(action, symbol, now),
		Action:        action,
		Symbol:        NormalizeSymbol(symbol),
		CreatedAt:     now,
	}

	stored, created, err := m.store.PutIfAbsent(ctx, rec, m.ttl)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !created {
		// Lost the race to a concurrent identical intent
		m.remember(sig, stored.ClientOrderID, now)
		metrics.IdempotencyDuplicates.Inc()
		return Reservation{Key: key, ClientOrderID: stored.ClientOrderID, Duplicate: true}, nil
	}

	m.remember(sig, rec.ClientOrderID, now)
	return Reservation{Key: key, ClientOrderID: rec.ClientOrderID}, nil
}

// Lookup returns the reservation for a key, if any
func (m *Manager) Lookup(ctx context.Context, key string) (Record, bool, error) {
	return m.store.Get(ctx, key)
}

func (m *Manager) remember(sig, clientOrderID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent[sig] = recentEntry{clientOrderID: clientOrderID, at: at}

	// Opportunistically shed stale window entries
	if len(m.recent) > 1024 {
		for k, e := range m.recent {
			if at.Sub(e.at) >= m.window {
				delete(m.recent, k)
			}
		}
	}
}

// Run sweeps expired reservations until the context ends. Stores with
// native expiry make Sweep a no-op, so the loop is always safe.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.Sweep(ctx)
			if err != nil {
				m.logger.Warn().Err(err).Msg("idempotency sweep failed")
				continue
			}
			if n > 0 {
				m.logger.Debug().Int("expired", n).Msg("idempotency reservations swept")
			}
		}
	}
}
