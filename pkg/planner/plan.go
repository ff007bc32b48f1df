package planner

import (
	"fmt"
	"sort"
	"strings"
)

// NodeType identifies a plan operator.
type NodeType string

const (
	NodeIndexLookup    NodeType = "index_lookup"
	NodeSequentialScan NodeType = "sequential_scan"
	NodeFilter         NodeType = "filter"
)

// PlanNode is one operator in an execution plan tree. Cost and cardinality
// are estimates; Metadata carries operator-specific detail (index
// property, predicate count, scanned type).
type PlanNode struct {
	Type                 NodeType       `json:"type"`
	EstimatedCost        float64        `json:"estimated_cost"`
	EstimatedCardinality float64        `json:"estimated_cardinality"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Children             []*PlanNode    `json:"children,omitempty"`
}

// TotalCost is the node's own cost plus the recursive sum of all
// descendant costs (post-order accumulation).
func (p *PlanNode) TotalCost() float64 {
	if p == nil {
		return 0
	}
	total := p.EstimatedCost
	for _, child := range p.Children {
		total += child.TotalCost()
	}
	return total
}

// Explain renders a plan as an indented, human-readable tree. Meant for
// debugging and tests, not execution.
func Explain(p *PlanNode) string {
	if p == nil {
		return "(no plan)\n"
	}
	var b strings.Builder
	explainNode(&b, p, 0)
	return b.String()
}

func explainNode(b *strings.Builder, p *PlanNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s [cost=%.2f rows=%.1f]", indent, p.Type, p.EstimatedCost, p.EstimatedCardinality)

	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, p.Metadata[k])
	}
	b.WriteByte('\n')

	for _, child := range p.Children {
		explainNode(b, child, depth+1)
	}
}
