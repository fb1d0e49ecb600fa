package settings

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot is an immutable view of the settings table.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

func init() {
	current.Store(&snapshot{values: map[string]json.RawMessage{}})
}

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next[key] = cloneRaw(v)
	}
	current.Store(&snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// DBConfigUpdatedAt returns the newest updated_at seen by the last refresh.
func DBConfigUpdatedAt() time.Time {
	return current.Load().updatedAt
}

// DBConfigValue returns a copy of the raw config value for a key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := current.Load().values[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(val), true
}

// String reads a string setting. Values may be a bare JSON string or {"value": "..."}.
func String(key string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return ""
	}
	return parseString(raw)
}

// Strings reads a list setting. A single string is accepted as a one-element list.
func Strings(key string) []string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return nil
	}
	return parseStrings(raw)
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func unwrapValue(raw json.RawMessage) (json.RawMessage, bool) {
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal != nil || len(wrapper.Value) == 0 {
		return nil, false
	}
	return wrapper.Value, true
}

func parseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		return strings.TrimSpace(s)
	}
	if inner, ok := unwrapValue(raw); ok {
		return parseString(inner)
	}
	return ""
}

func parseStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if errUnmarshal := json.Unmarshal(raw, &values); errUnmarshal == nil {
		out := make([]string, 0, len(values))
		for _, value := range values {
			if value = strings.TrimSpace(value); value != "" {
				out = append(out, value)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	if single := parseString(raw); single != "" {
		return []string{single}
	}
	if inner, ok := unwrapValue(raw); ok {
		return parseStrings(inner)
	}
	return nil
}
