package workflows

import (
	"encoding/json"
	"time"
)

// Argument maps arrive as decoded JSON, so numbers are float64 and nested
// structures are map[string]any / []any. These helpers normalize access and
// produce validation StepErrors for missing required fields.

// RequireString returns a non-empty string argument or a validation error.
func RequireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", Validationf("missing required argument %q", key)
	}
	return v, nil
}

// OptionalString returns a string argument or the default.
func OptionalString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionalInt returns an integer argument or the default.
func OptionalInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// OptionalFloat returns a float argument or the default.
func OptionalFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// OptionalBool returns a boolean argument or the default.
func OptionalBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// OptionalStringSlice returns a []string argument, tolerating []any input.
func OptionalStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// OptionalMap returns a nested object argument.
func OptionalMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

// OptionalMapSlice returns a list-of-objects argument.
func OptionalMapSlice(args map[string]any, key string) []map[string]any {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// StepTimeout resolves the per-step deadline from a timeout argument in
// milliseconds, falling back to the runtime default.
func StepTimeout(args map[string]any, def time.Duration) time.Duration {
	if ms := OptionalFloat(args, "timeout", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
