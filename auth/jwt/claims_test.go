package jwt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractClaim(t *testing.T) {
	claims := map[string]interface{}{
		"oid":    "u1",
		"groups": []interface{}{"a", "b"},
		"ver":    1.0,
		"null":   nil,
	}
	assert.Equal(t, "u1", extractClaim(claims, "oid"))
	assert.Equal(t, "a,b", extractClaim(claims, "groups"))
	assert.Equal(t, "1", extractClaim(claims, "ver"))
	assert.Equal(t, "", extractClaim(claims, "null"))
	assert.Equal(t, "", extractClaim(claims, "missing"))
}

func TestExtractExpiry(t *testing.T) {
	want := time.Unix(1_900_000_000, 0)

	for name, v := range map[string]interface{}{
		"float64":     float64(1_900_000_000),
		"int64":       int64(1_900_000_000),
		"int":         1_900_000_000,
		"json.Number": json.Number("1900000000"),
	} {
		t.Run(name, func(t *testing.T) {
			got, ok := extractExpiry(map[string]interface{}{"exp": v})
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}

	_, ok := extractExpiry(map[string]interface{}{"exp": "tomorrow"})
	assert.False(t, ok)
	_, ok = extractExpiry(map[string]interface{}{})
	assert.False(t, ok)
	_, ok = extractExpiry(map[string]interface{}{"exp": float64(0)})
	assert.False(t, ok)
}
