package models

import (
	"encoding/json"
	"maps"
	"sort"
)

// Attributes is a node's keyed document. Values are JSON-compatible.
type Attributes map[string]any

// Clone returns a deep copy made through a JSON round trip, so nested maps and
// slices are never shared between copies.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return maps.Clone(a)
	}
	out := Attributes{}
	if err := json.Unmarshal(b, &out); err != nil {
		return maps.Clone(a)
	}
	return out
}

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyDiff returns base with diff applied. A nil value in diff removes the key.
// Neither argument is modified.
func ApplyDiff(base, diff Attributes) Attributes {
	out := base.Clone()
	for k, v := range diff.Clone() {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Diff returns the patch that turns from into to.
func Diff(from, to Attributes) Attributes {
	d := Attributes{}
	for k, v := range to {
		if old, ok := from[k]; !ok || !Equal(old, v) {
			d[k] = v
		}
	}
	for k := range from {
		if _, ok := to[k]; !ok {
			d[k] = nil
		}
	}
	return d
}

// Equal compares two attribute values by their JSON encoding.
func Equal(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Overlap returns the keys present in both diffs, sorted.
func Overlap(a, b Attributes) []string {
	var keys []string
	for k := range a {
		if _, ok := b[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
