package jwt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// extractClaim extracts a claim value as a string
func extractClaim(claims map[string]interface{}, claimName string) string {
	if value, ok := claims[claimName]; ok {
		switch v := value.(type) {
		case string:
			return v
		case []interface{}:
			strs := make([]string, len(v))
			for i, item := range v {
				strs[i] = fmt.Sprintf("%v", item)
			}
			return strings.Join(strs, ",")
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// extractExpiry reads the numeric exp claim.
func extractExpiry(claims map[string]interface{}) (time.Time, bool) {
	expValue, ok := claims["exp"]
	if !ok {
		return time.Time{}, false
	}

	var expTimestamp int64
	switch v := expValue.(type) {
	case float64:
		expTimestamp = int64(v)
	case int64:
		expTimestamp = v
	case int:
		expTimestamp = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		expTimestamp = n
	default:
		return time.Time{}, false
	}
	if expTimestamp <= 0 {
		return time.Time{}, false
	}
	return time.Unix(expTimestamp, 0), true
}
