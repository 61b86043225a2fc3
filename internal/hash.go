package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex sha256 digest of data. Cache keys addressed by
// caller-supplied identifiers always pass through this so raw user ids and
// API keys never appear in the store's key space.
func HashKey(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// NormalizeAudience turns an audience URL into a key-safe segment: scheme
// and trailing slash dropped, path separators flattened, lowercased.
func NormalizeAudience(audience string) string {
	if i := strings.Index(audience, "://"); i >= 0 {
		audience = audience[i+3:]
	}
	audience = strings.TrimSuffix(audience, "/")
	audience = strings.ReplaceAll(audience, "/", "_")
	return strings.ToLower(audience)
}
