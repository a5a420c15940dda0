package store

import (
	"encoding/json"
	"fmt"
)

// serverValueKey marks a placeholder object replaced by the store at write
// time.
const serverValueKey = ".sv"

// ServerTimestamp returns the placeholder a write uses where the store
// should assign the commit time in milliseconds.
func ServerTimestamp() any {
	return map[string]any{serverValueKey: "timestamp"}
}

// ServerIncrement returns the placeholder a write uses where the store
// should add delta to the number currently stored at that position. An
// absent or non-numeric current value counts as 0.
func ServerIncrement(delta int64) any {
	return map[string]any{serverValueKey: map[string]any{"increment": float64(delta)}}
}

// Encode converts an arbitrary Go value into a plain JSON tree
// (map[string]any / []any / primitives) via a JSON round trip. A nil value
// stays nil, meaning deletion.
func Encode(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return tree, nil
}

// Materialize resolves write-time placeholders in an encoded tree: server
// timestamps become now and server increments are applied to the number
// previously stored at the same position. existing is the value the write
// replaces, nil when there is none. Backends call this at commit time so
// both kinds are assigned by the store, not the client; an increment read
// by one client therefore cannot overwrite another client's.
func Materialize(tree any, now int64, existing any) any {
	switch v := tree.(type) {
	case map[string]any:
		if len(v) == 1 {
			if kind, ok := v[serverValueKey].(string); ok && kind == "timestamp" {
				return float64(now)
			}
			if delta, ok := incrementDelta(v); ok {
				base, _ := existing.(float64)
				return base + delta
			}
		}
		prev, _ := existing.(map[string]any)
		for k, child := range v {
			v[k] = Materialize(child, now, prev[k])
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = Materialize(child, now, nil)
		}
		return v
	default:
		return tree
	}
}

func incrementDelta(v map[string]any) (float64, bool) {
	sv, ok := v[serverValueKey].(map[string]any)
	if !ok || len(sv) != 1 {
		return 0, false
	}
	delta, ok := sv["increment"].(float64)
	return delta, ok
}
