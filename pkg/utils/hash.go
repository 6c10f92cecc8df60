package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey builds a stable cache key from its parts. Parts are normalized to
// lower case with surrounding whitespace removed.
func HashKey(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
