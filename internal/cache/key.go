package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Key builds a cache key of the form "<dataType>:<hash>". Parts are
// normalised (lower-cased, whitespace collapsed) before hashing so
// equivalent queries share an entry.
func Key(dataType string, parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = normalize(p)
	}
	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return fmt.Sprintf("%s:%x", dataType, hash[:16])
}

// DataTypeOf returns the data-type tag of a key built by Key or written as
// "<dataType>:<id>".
func DataTypeOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
