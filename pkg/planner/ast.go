// Package planner turns a declarative pattern-match query AST into a
// cost-estimated execution plan, choosing between index lookups and
// sequential scans, with plan caching.
package planner

import (
	"encoding/json"
	"sort"
)

// Operator compares a property against a predicate value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpContains Operator = "contains"
)

// Predicate is one condition in a where clause.
type Predicate struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Pattern selects entities by type and exact property values.
type Pattern struct {
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Query is the pre-parsed match AST supplied by the query front end.
// The planner never parses query text.
type Query struct {
	Type    string      `json:"type"` // currently always "match"
	Pattern Pattern     `json:"pattern"`
	Where   []Predicate `json:"where,omitempty"`
	Return  []string    `json:"return,omitempty"`
}

// canonicalKey serializes a query deterministically for use as a plan
// cache key: map keys sorted, predicate order preserved.
func canonicalKey(q Query) string {
	type canonProp struct {
		K string `json:"k"`
		V any    `json:"v"`
	}
	props := make([]canonProp, 0, len(q.Pattern.Properties))
	for k, v := range q.Pattern.Properties {
		props = append(props, canonProp{K: k, V: v})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].K < props[j].K })

	canon := struct {
		Type    string      `json:"type"`
		PType   string      `json:"ptype"`
		Props   []canonProp `json:"props"`
		Where   []Predicate `json:"where"`
		Returns []string    `json:"returns"`
	}{q.Type, q.Pattern.Type, props, q.Where, q.Return}

	raw, err := json.Marshal(canon)
	if err != nil {
		// Query values are JSON-compatible by contract; a marshal failure
		// just disables caching for this query.
		return ""
	}
	return string(raw)
}
