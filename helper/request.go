package helper

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
)

// GetHash returns the unpadded base64url SHA-256 digest of value. The result
// always has 43 characters.
func GetHash(value string) string {
	h := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
