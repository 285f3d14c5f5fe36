package helpers

import (
	"fmt"
	"os"
	"strings"
)

// ParseArguments turns key=value pairs into tool arguments. A value prefixed
// with "@" is replaced by the contents of the referenced file (similar to
// curl's @ syntax). Repeated keys collect into a list.
func ParseArguments(pairs []string) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q must be in key=value form", pair)
		}

		if strings.HasPrefix(value, "@") {
			data, err := os.ReadFile(value[1:])
			if err != nil {
				return nil, fmt.Errorf("failed to read file for argument %q: %w", key, err)
			}
			value = string(data)
		}

		switch existing := args[key].(type) {
		case nil:
			args[key] = value
		case []interface{}:
			args[key] = append(existing, value)
		default:
			args[key] = []interface{}{existing, value}
		}
	}
	return args, nil
}
