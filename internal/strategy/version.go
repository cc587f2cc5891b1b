package strategy

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version gating errors returned by CheckUpgrade.
var (
	ErrStaleVersion        = errors.New("version is not newer than the current one")
	ErrIncompatibleVersion = errors.New("version changes the major version")
)

// parseVersion parses a rule version, accepting the short major.minor
// form by retrying with a ".0" patch suffix.
func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		v, err = semver.NewVersion(version + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", version, err)
		}
	}
	return v, nil
}

// CheckUpgrade reports whether next may replace current: both must
// parse, next must keep the major version and be strictly newer.
func CheckUpgrade(current, next string) error {
	cur, err := parseVersion(current)
	if err != nil {
		return fmt.Errorf("current: %w", err)
	}
	nxt, err := parseVersion(next)
	if err != nil {
		return fmt.Errorf("next: %w", err)
	}
	if nxt.Major() != cur.Major() {
		return fmt.Errorf("%w: %s -> %s", ErrIncompatibleVersion, current, next)
	}
	if !nxt.GreaterThan(cur) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleVersion, current, next)
	}
	return nil
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or
// newer than b.
func CompareVersions(a, b string) (int, error) {
	va, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
