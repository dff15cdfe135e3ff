package govern

import (
	"fmt"
	"strings"
)

// argError is a validation failure with a one-line fix for the caller.
type argError struct {
	msg string
	fix string
}

func (e *argError) Error() string { return e.msg }

func missing(key, fix string) error {
	return &argError{msg: key + " is required", fix: fix}
}

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key, fix string) (string, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return "", missing(key, fix)
	}
	s, ok := v.(string)
	if !ok {
		return "", &argError{msg: fmt.Sprintf("%s must be a string, got %T", key, v), fix: fix}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing(key, fix)
	}
	return s, nil
}

// optionalString returns the trimmed string at key, or "".
func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// stringSlice accepts a JSON array of strings or a single comma-separated string.
func stringSlice(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// optionalFloat64 extracts a number from args by key, returning the fallback if not present.
func optionalFloat64(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func optionalBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes" || v == "1"
	}
	return false
}

// objectSlice returns the JSON objects in an array argument.
func objectSlice(args map[string]any, key string) []map[string]any {
	raw, _ := args[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, x := range raw {
		if m, ok := x.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
