// Package strategy holds the built-in trading rules that vote through
// the strategy analyst. Rules are compiled in and register themselves
// at init, in the manner of database/sql drivers; the Registry decides
// which of them are live, and the REST toggles act on it. Each rule is
// semver-versioned so an in-place replacement can be gated on version
// compatibility.
package strategy

import (
	"github.com/tradesentry/tradesentry/internal/agents"
)

// A Strategy scores one market snapshot in [-1, 1]. Implementations
// must be safe for concurrent use: the coordinator calls every enabled
// rule on every tick, across symbols.
type Strategy interface {
	agents.RuleSignaler

	// Version is the rule's semantic version. Registry.Swap gates
	// in-place replacement on it: same major, strictly newer.
	Version() string

	// Description is a one-line operator-facing summary.
	Description() string
}

// Info is the API view of one registered rule.
type Info struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}
