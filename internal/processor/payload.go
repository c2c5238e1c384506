package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Int64Field reads an integer payload field. Payloads that went through JSON
// carry numbers as float64 or json.Number; callers may also pass numeric
// strings.
func Int64Field(payload map[string]any, key string) (int64, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("payload field %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("payload field %q is not an integer: %v", key, n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("payload field %q: %w", key, err)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("payload field %q: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("payload field %q has unsupported type %T", key, v)
	}
}

// StringField reads a non-empty string payload field.
func StringField(payload map[string]any, key string) (string, error) {
	s, ok := payload[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("payload field %q is required", key)
	}
	return s, nil
}
