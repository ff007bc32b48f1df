package planner

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestExplainNilPlan(t *testing.T) {
	if got := Explain(nil); got != "(no plan)\n" {
		t.Errorf("expected no-plan placeholder, got %q", got)
	}
}

func TestExplainGolden(t *testing.T) {
	p := New(Config{})
	p.RegisterIndex("name")
	p.UpdateStats(Stats{
		TotalNodes:          10000,
		DistinctIndexValues: map[string]int64{"name": 100},
	})

	plan, err := p.Optimize(Query{
		Type:    "match",
		Pattern: Pattern{Type: "person", Properties: map[string]any{"name": "alice"}},
		Where:   []Predicate{{Property: "age", Operator: OpGt, Value: 30}},
	})
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "optimized_plan", []byte(Explain(plan)))
}
