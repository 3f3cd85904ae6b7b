package config

import "encoding/json"

// Options is a loosely typed option bag for parser and backend extras.
//
// JSON object values decode into it as-is, so numbers arrive as float64 (or
// json.Number when a caller decodes with UseNumber). Accessors tolerate both
// and fall back to the given default on a missing key or a type mismatch.
type Options map[string]any

// String returns the string at key, or def when absent or not a string.
func (o Options) String(key, def string) string {
	if o == nil {
		return def
	}
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the integer at key, or def when absent or not numeric.
func (o Options) Int(key string, def int) int {
	if o == nil {
		return def
	}
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// Bool returns the boolean at key, or def when absent or not a boolean.
func (o Options) Bool(key string, def bool) bool {
	if o == nil {
		return def
	}
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Any returns the raw value at key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

// StringMap returns the map at key with string values only. Non-string values
// are dropped. An absent or mistyped key yields an empty map, never nil.
func (o Options) StringMap(key string) map[string]string {
	out := make(map[string]string)
	if o == nil {
		return out
	}
	switch m := o[key].(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}
