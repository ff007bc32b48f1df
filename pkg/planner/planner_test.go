package planner

import (
	"errors"
	"testing"
)

func TestOptimizeRejectsNonMatchQueries(t *testing.T) {
	p := New(Config{})

	_, err := p.Optimize(Query{Type: "create"})
	if !errors.Is(err, ErrUnsupportedQuery) {
		t.Errorf("expected ErrUnsupportedQuery, got %v", err)
	}
}

func TestOptimizeFallsBackToSequentialScan(t *testing.T) {
	p := New(Config{})

	plan, err := p.Optimize(Query{
		Type:    "match",
		Pattern: Pattern{Type: "person", Properties: map[string]any{"name": "alice"}},
	})
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	// One residual predicate, so the scan is wrapped in a filter.
	if plan.Type != NodeFilter {
		t.Fatalf("expected filter root, got %s", plan.Type)
	}
	if len(plan.Children) != 1 || plan.Children[0].Type != NodeSequentialScan {
		t.Errorf("expected sequential scan child, got %+v", plan.Children)
	}
}

func TestOptimizePrefersIndexLookup(t *testing.T) {
	p := New(Config{})
	p.RegisterIndex("name")

	plan, err := p.Optimize(Query{
		Type:    "match",
		Pattern: Pattern{Type: "person", Properties: map[string]any{"name": "alice"}},
	})
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	// The single property is covered by the index, so no filter remains.
	if plan.Type != NodeIndexLookup {
		t.Fatalf("expected index lookup root, got %s", plan.Type)
	}
	if plan.Metadata["property"] != "name" {
		t.Errorf("expected lookup on name, got %v", plan.Metadata)
	}
	if len(plan.Children) != 0 {
		t.Errorf("expected leaf node, got %d children", len(plan.Children))
	}
}

func TestOptimizeAfterDropIndexRevertsToScan(t *testing.T) {
	p := New(Config{})
	p.RegisterIndex("name")

	q := Query{Type: "match", Pattern: Pattern{Properties: map[string]any{"name": "alice"}}}
	plan, err := p.Optimize(q)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if plan.Type != NodeIndexLookup {
		t.Fatalf("expected index lookup, got %s", plan.Type)
	}

	p.DropIndex("name")
	plan, err = p.Optimize(q)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if plan.Type == NodeIndexLookup {
		t.Error("expected index plan gone after drop")
	}
}

func TestPushDownPredicates(t *testing.T) {
	p := New(Config{})
	p.RegisterIndex("name")

	// The equality predicate is pushed into the pattern, making the index
	// usable; the range predicate stays as a residual filter.
	plan, err := p.Optimize(Query{
		Type:    "match",
		Pattern: Pattern{Type: "person"},
		Where: []Predicate{
			{Property: "name", Operator: OpEq, Value: "alice"},
			{Property: "age", Operator: OpGt, Value: 30},
		},
	})
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	if plan.Type != NodeFilter {
		t.Fatalf("expected filter root for residual predicate, got %s", plan.Type)
	}
	if plan.Metadata["predicates"] != 1 {
		t.Errorf("expected 1 residual predicate, got %v", plan.Metadata)
	}
	if len(plan.Children) != 1 || plan.Children[0].Type != NodeIndexLookup {
		t.Errorf("expected index lookup under filter, got %+v", plan.Children)
	}
}

func TestStatsDriveCardinality(t *testing.T) {
	p := New(Config{})
	p.RegisterIndex("name")
	p.UpdateStats(Stats{
		TotalNodes:          10000,
		DistinctIndexValues: map[string]int64{"name": 100},
	})

	plan, err := p.Optimize(Query{
		Type:    "match",
		Pattern: Pattern{Properties: map[string]any{"name": "alice"}},
	})
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	// total/distinct = 10000/100 rows expected out of the lookup.
	if plan.Type != NodeIndexLookup || plan.EstimatedCardinality != 100 {
		t.Errorf("expected index lookup with cardinality 100, got %+v", plan)
	}
}

func TestTotalCostSumsChildren(t *testing.T) {
	plan := &PlanNode{
		EstimatedCost: 1,
		Children: []*PlanNode{
			{EstimatedCost: 2},
			{EstimatedCost: 3, Children: []*PlanNode{{EstimatedCost: 4}}},
		},
	}
	if got := plan.TotalCost(); got != 10 {
		t.Errorf("expected total cost 10, got %f", got)
	}
}

func TestPlanCacheHitAndEviction(t *testing.T) {
	p := New(Config{MaxPlanCacheSize: 2})

	q1 := Query{Type: "match", Pattern: Pattern{Type: "a"}}
	q2 := Query{Type: "match", Pattern: Pattern{Type: "b"}}
	q3 := Query{Type: "match", Pattern: Pattern{Type: "c"}}

	first, err := p.Optimize(q1)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	second, err := p.Optimize(q1)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if first != second {
		t.Error("expected identical query to return the cached plan")
	}

	stats := p.CacheStats()
	if stats.Hits != 1 || stats.Size != 1 {
		t.Errorf("expected 1 hit and size 1, got %+v", stats)
	}

	// Filling past capacity evicts the least recently used plan.
	p.Optimize(q2)
	p.Optimize(q3)
	stats = p.CacheStats()
	if stats.Size != 2 || stats.Evictions != 1 {
		t.Errorf("expected size 2 with 1 eviction, got %+v", stats)
	}
}

func TestPlanCachePurgedOnIndexAndStatsChange(t *testing.T) {
	p := New(Config{MaxPlanCacheSize: 8})
	q := Query{Type: "match", Pattern: Pattern{Properties: map[string]any{"name": "alice"}}}

	scanPlan, err := p.Optimize(q)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	// Registering an index must invalidate the cached scan plan.
	p.RegisterIndex("name")
	if got := p.CacheStats().Size; got != 0 {
		t.Errorf("expected cache purged after RegisterIndex, got size %d", got)
	}

	indexed, err := p.Optimize(q)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if indexed == scanPlan {
		t.Error("expected a fresh plan after index registration")
	}
	if indexed.Type != NodeIndexLookup {
		t.Errorf("expected index lookup after registration, got %s", indexed.Type)
	}

	p.UpdateStats(Stats{TotalNodes: 5})
	if got := p.CacheStats().Size; got != 0 {
		t.Errorf("expected cache purged after UpdateStats, got size %d", got)
	}
}

func TestPlanCacheDisabledByDefault(t *testing.T) {
	p := New(Config{})
	q := Query{Type: "match", Pattern: Pattern{Type: "a"}}

	p.Optimize(q)
	p.Optimize(q)
	if got := p.CacheStats(); got.Size != 0 || got.Hits != 0 {
		t.Errorf("expected no caching with zero capacity, got %+v", got)
	}
}
