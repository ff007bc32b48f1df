// Package graph defines the shared data model for the versioned graph
// synchronization subsystem: graph state, entity values, deep comparison
// and the change events emitted by the graph engine.
package graph

import (
	"fmt"
	"reflect"
	"slices"
)

// Entity is a JSON-compatible property document describing a node or edge.
// Values are restricted to JSON-plain types; anything else is summarized
// by Sanitize before storage.
type Entity = map[string]any

// Data is a complete graph state: nodes and edges keyed by id, plus
// free-form graph-level metadata.
type Data struct {
	Nodes    map[string]Entity `json:"nodes"`
	Edges    map[string]Entity `json:"edges"`
	Metadata map[string]any    `json:"metadata"`
}

// NewData returns an empty graph state with all maps allocated.
func NewData() Data {
	return Data{
		Nodes:    make(map[string]Entity),
		Edges:    make(map[string]Entity),
		Metadata: make(map[string]any),
	}
}

// CloneEntity returns a deep copy of an entity document.
// Nested maps and slices are copied; scalar values are shared (immutable).
func CloneEntity(e Entity) Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of a graph state. The copy shares no mutable
// structure with the original.
func Clone(d Data) Data {
	out := Data{
		Nodes:    make(map[string]Entity, len(d.Nodes)),
		Edges:    make(map[string]Entity, len(d.Edges)),
		Metadata: make(map[string]any, len(d.Metadata)),
	}
	for id, n := range d.Nodes {
		out.Nodes[id] = CloneEntity(n)
	}
	for id, e := range d.Edges {
		out.Edges[id] = CloneEntity(e)
	}
	for k, v := range d.Metadata {
		out.Metadata[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Sanitize returns a copy of an entity with non-JSON-plain values replaced
// by a "[object:TYPE]" placeholder. This bounds recursion depth and breaks
// circular references before storage, at the cost of losing the original
// value. Callers diffing sanitized entities must treat object-valued
// properties as summarized, not restored verbatim.
func Sanitize(e Entity) Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return fmt.Sprintf("[object:%s]", reflect.TypeOf(v).String())
	}
}

// Equal reports whether two entity documents are deeply equal, ignoring
// the properties named in ignore. Arrays compare by length plus pairwise
// recursive equality; maps compare by key set plus recursive values.
// Numeric values compare by float64 widening, so an int 1 equals a
// JSON-decoded float64 1.
func Equal(a, b Entity, ignore []string) bool {
	if len(a) != len(b) {
		// Ignored properties may account for the size difference.
		if !keysMatch(a, b, ignore) {
			return false
		}
	}
	for k, av := range a {
		if slices.Contains(ignore, k) {
			continue
		}
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(av, bv) {
			return false
		}
	}
	for k := range b {
		if slices.Contains(ignore, k) {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

func keysMatch(a, b Entity, ignore []string) bool {
	count := func(m Entity) int {
		n := 0
		for k := range m {
			if !slices.Contains(ignore, k) {
				n++
			}
		}
		return n
	}
	return count(a) == count(b)
}

// ValueEqual reports deep equality of two JSON-compatible values.
func ValueEqual(a, b any) bool {
	return valueEqual(a, b)
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, inner := range av {
			other, ok := bv[k]
			if !ok || !valueEqual(inner, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// DataEqual reports whether two graph states are deeply equal on all
// primitive-valued properties, ignoring the given entity properties.
func DataEqual(a, b Data, ignore []string) bool {
	if len(a.Nodes) != len(b.Nodes) || len(a.Edges) != len(b.Edges) || len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for id, an := range a.Nodes {
		bn, ok := b.Nodes[id]
		if !ok || !Equal(an, bn, ignore) {
			return false
		}
	}
	for id, ae := range a.Edges {
		be, ok := b.Edges[id]
		if !ok || !Equal(ae, be, ignore) {
			return false
		}
	}
	for k, av := range a.Metadata {
		bv, ok := b.Metadata[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}
