package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIError represents a venue or transport failure surfaced by an adapter
type APIError struct {
	Op         string // adapter operation, e.g. "create_order"
	StatusCode int    // HTTP status when known, 0 otherwise
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: api error (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: api error: %s", e.Op, e.Message)
}

// Code returns the wire-level error code
func (e *APIError) Code() string { return "API_ERROR" }

// TimeoutError represents a deadline hit while talking to the venue
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

// Code returns the wire-level error code
func (e *TimeoutError) Code() string { return "TIMEOUT" }

// RateLimitError is returned when the local token bucket is exhausted.
// Callers wait RetryAfter and retry once before surfacing it.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// Code returns the wire-level error code
func (e *RateLimitError) Code() string { return "RATE_LIMIT" }

// SuspendedError is returned while fills are paused after a price spike
type SuspendedError struct {
	Symbol string
	Until  time.Time
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("market %s suspended until %s", e.Symbol, e.Until.Format(time.RFC3339))
}

// Code returns the wire-level error code
func (e *SuspendedError) Code() string { return "MARKET_SUSPENDED" }

// InsufficientBalanceError is returned when the account cannot fund an order
type InsufficientBalanceError struct {
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %.2f, have %.2f", e.Required, e.Available)
}

// Code returns the wire-level error code
func (e *InsufficientBalanceError) Code() string { return "INSUFFICIENT_MARGIN" }

// LookAheadError is returned by deterministic adapters when an order's
// signal was computed from a bar the simulation has not reached yet.
type LookAheadError struct {
	RequestBar int
	CurrentBar int
}

func (e *LookAheadError) Error() string {
	return fmt.Sprintf("look-ahead detected: signal bar %d is beyond simulation bar %d", e.RequestBar, e.CurrentBar)
}

// Code returns the wire-level error code
func (e *LookAheadError) Code() string { return "RISK_CHECK_FAILED" }

// ErrOrderNotFound is returned for lookups of unknown client order ids
var ErrOrderNotFound = errors.New("order not found")

// ErrNotSupported is returned for venue capabilities the active adapter
// does not provide, e.g. funding rates on the simulator.
var ErrNotSupported = errors.New("not supported by venue")

// IsRetryable reports whether an adapter error is worth retrying.
// Typed errors carry the answer; raw venue errors fall back to
// message inspection, including Binance numeric codes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var suspErr *SuspendedError
	if errors.As(err, &suspErr) {
		return false
	}
	var balErr *InsufficientBalanceError
	if errors.As(err, &balErr) {
		return false
	}
	var lookErr *LookAheadError
	if errors.As(err, &lookErr) {
		return false
	}

	errStr := err.Error()

	// Network errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Exchange-specific errors
	if strings.Contains(errStr, "EAPI:1015") || // Too many requests (Binance)
		strings.Contains(errStr, "EAPI:1003") || // Too many requests (Binance)
		strings.Contains(errStr, "-1001") || // Internal error (Binance)
		strings.Contains(errStr, "-1021") { // Timestamp outside of the recvWindow
		return true
	}

	return false
}
