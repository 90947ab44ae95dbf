package cache

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

// Pattern is a key pattern with at most one '*' wildcard, matching a prefix,
// a suffix, or both around the wildcard.
type Pattern struct {
	raw      string
	prefix   string
	suffix   string
	wildcard bool
}

func ParsePattern(p string) (Pattern, error) {
	switch n := strings.Count(p, "*"); n {
	case 0:
		return Pattern{raw: p, prefix: p}, nil
	case 1:
		i := strings.IndexByte(p, '*')
		return Pattern{raw: p, prefix: p[:i], suffix: p[i+1:], wildcard: true}, nil
	default:
		return Pattern{}, fmt.Errorf("%w: pattern %q has %d wildcards, at most one is supported", apperrors.ErrInvalidInput, p, n)
	}
}

// IsWildcard reports whether s contains a '*'.
func IsWildcard(s string) bool {
	return strings.Contains(s, "*")
}

func (p Pattern) String() string {
	return p.raw
}

func (p Pattern) Match(key string) bool {
	if !p.wildcard {
		return key == p.prefix
	}
	return len(key) >= len(p.prefix)+len(p.suffix) &&
		strings.HasPrefix(key, p.prefix) &&
		strings.HasSuffix(key, p.suffix)
}
