package updater

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// parseVersion parses a semantic version, accepting a leading "v"
func parseVersion(raw string) (*version.Version, error) {
	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidVersion, raw, err)
	}
	return v, nil
}

// IsNewer reports whether latest has higher precedence than current.
// Components compare numerically, so 1.10.0 is newer than 1.9.0.
func IsNewer(current, latest string) (bool, error) {
	cur, err := parseVersion(current)
	if err != nil {
		return false, err
	}
	lat, err := parseVersion(latest)
	if err != nil {
		return false, err
	}
	return cur.LessThan(lat), nil
}
