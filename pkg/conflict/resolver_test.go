package conflict

import (
	"errors"
	"testing"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
)

var (
	t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func changeSets() (*ChangeSet, *ChangeSet) {
	local := &ChangeSet{
		Nodes: map[string]EntityChange{
			"n1": {Value: graph.Entity{"name": "local"}, Version: 2, Timestamp: t0},
			"n2": {Value: graph.Entity{"name": "same"}, Version: 2, Timestamp: t0},
			"n3": {Value: graph.Entity{"name": "only-local"}, Version: 2, Timestamp: t0},
		},
		Edges: map[string]EntityChange{
			"e1": {Deleted: true, Version: 2, Timestamp: t0},
		},
	}
	remote := &ChangeSet{
		Nodes: map[string]EntityChange{
			"n1": {Value: graph.Entity{"name": "remote"}, Version: 3, Timestamp: t1},
			"n2": {Value: graph.Entity{"name": "same"}, Version: 3, Timestamp: t1},
		},
		Edges: map[string]EntityChange{
			"e1": {Value: graph.Entity{"weight": 2.0}, Version: 3, Timestamp: t1},
		},
	}
	return local, remote
}

func TestDetectConflictsRequiresBothSets(t *testing.T) {
	r := NewResolver()

	if _, err := r.DetectConflicts(nil, &ChangeSet{}); !errors.Is(err, ErrMissingChangeSet) {
		t.Errorf("expected ErrMissingChangeSet, got %v", err)
	}
	if _, err := r.DetectConflicts(&ChangeSet{}, nil); !errors.Is(err, ErrMissingChangeSet) {
		t.Errorf("expected ErrMissingChangeSet, got %v", err)
	}
}

func TestDetectConflicts(t *testing.T) {
	r := NewResolver()
	local, remote := changeSets()

	conflicts, err := r.DetectConflicts(local, remote)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	// n1: both modified with differing values -> update conflict.
	// n2: differing versions but identical values -> convergent, skipped.
	// n3: only local touched it -> no conflict.
	// e1: deleted locally, modified remotely -> delete conflict.
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d: %+v", len(conflicts), conflicts)
	}

	byID := make(map[string]Conflict)
	for _, c := range conflicts {
		byID[c.EntityID] = c
	}
	if c := byID["n1"]; c.Type != TypeNodeUpdate {
		t.Errorf("expected node update conflict for n1, got %+v", c)
	}
	if c := byID["e1"]; c.Type != TypeEdgeDelete {
		t.Errorf("expected edge delete conflict for e1, got %+v", c)
	}

	if got := r.Stats().ConflictsDetected; got != 2 {
		t.Errorf("expected 2 conflicts counted, got %d", got)
	}
}

func TestDetectConflictsSymmetry(t *testing.T) {
	r := NewResolver()
	local, remote := changeSets()

	forward, err := r.DetectConflicts(local, remote)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	backward, err := r.DetectConflicts(remote, local)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(forward) != len(backward) {
		t.Fatalf("expected symmetric detection, got %d vs %d", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i].EntityID != backward[i].EntityID {
			t.Errorf("expected same entity at %d, got %s vs %s", i, forward[i].EntityID, backward[i].EntityID)
		}
		if !graph.Equal(forward[i].LocalValue, backward[i].RemoteValue, nil) {
			t.Errorf("expected local/remote roles swapped for %s", forward[i].EntityID)
		}
	}
}

func TestDetectConflictsSameVersionSkipped(t *testing.T) {
	r := NewResolver()
	local := &ChangeSet{Nodes: map[string]EntityChange{
		"n1": {Value: graph.Entity{"name": "a"}, Version: 2, Timestamp: t0},
	}}
	remote := &ChangeSet{Nodes: map[string]EntityChange{
		"n1": {Value: graph.Entity{"name": "b"}, Version: 2, Timestamp: t1},
	}}

	conflicts, err := r.DetectConflicts(local, remote)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected same-version changes not to conflict, got %+v", conflicts)
	}
}

func TestResolveLastWriteWins(t *testing.T) {
	r := NewResolver()

	conflicts := []Conflict{{
		EntityID:        "n1",
		Type:            TypeNodeUpdate,
		LocalValue:      graph.Entity{"name": "local"},
		RemoteValue:     graph.Entity{"name": "remote"},
		LocalTimestamp:  t0,
		RemoteTimestamp: t1,
	}}

	resolutions, err := r.ResolveConflicts(conflicts, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}
	if resolutions[0].Strategy != "remote" || resolutions[0].ResolvedValue["name"] != "remote" {
		t.Errorf("expected newer remote value to win, got %+v", resolutions[0])
	}
}

func TestResolveLastWriteWinsTieFavorsLocal(t *testing.T) {
	r := NewResolver()

	conflicts := []Conflict{{
		EntityID:        "n1",
		Type:            TypeNodeUpdate,
		LocalValue:      graph.Entity{"name": "local"},
		RemoteValue:     graph.Entity{"name": "remote"},
		LocalTimestamp:  t0,
		RemoteTimestamp: t0,
	}}

	resolutions, err := r.ResolveConflicts(conflicts, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolutions[0].Strategy != "local" || resolutions[0].ResolvedValue["name"] != "local" {
		t.Errorf("expected equal timestamps to favor local, got %+v", resolutions[0])
	}
}

func TestResolveManualQueues(t *testing.T) {
	r := NewResolver()

	conflicts := []Conflict{{
		EntityID:    "n1",
		Type:        TypeNodeUpdate,
		LocalValue:  graph.Entity{"name": "local"},
		RemoteValue: graph.Entity{"name": "remote"},
	}}

	resolutions, err := r.ResolveConflicts(conflicts, StrategyManual)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolutions[0].Resolved() {
		t.Errorf("expected manual resolution to stay unresolved, got %+v", resolutions[0])
	}

	pending := r.UnresolvedConflicts()
	if len(pending) != 1 || pending[0].EntityID != "n1" {
		t.Fatalf("expected n1 queued, got %+v", pending)
	}

	res, err := r.ManualResolve("n1", graph.Entity{"name": "merged"}, "human decision")
	if err != nil {
		t.Fatalf("manual resolve failed: %v", err)
	}
	if !res.Resolved() || res.ResolvedValue["name"] != "merged" {
		t.Errorf("expected materialized resolution, got %+v", res)
	}
	if got := r.UnresolvedConflicts(); len(got) != 0 {
		t.Errorf("expected empty queue after manual resolve, got %+v", got)
	}

	if _, err := r.ManualResolve("n1", graph.Entity{}, "again"); err == nil {
		t.Error("expected error for already-resolved entity")
	}
}

func TestResolveCustom(t *testing.T) {
	r := NewResolver().WithResolverFunc(func(c Conflict) (graph.Entity, string, error) {
		merged := graph.CloneEntity(c.LocalValue)
		for k, v := range c.RemoteValue {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
		return merged, "merged both sides", nil
	})

	conflicts := []Conflict{{
		EntityID:    "n1",
		Type:        TypeNodeUpdate,
		LocalValue:  graph.Entity{"name": "local"},
		RemoteValue: graph.Entity{"name": "remote", "extra": true},
	}}

	resolutions, err := r.ResolveConflicts(conflicts, StrategyCustom)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	got := resolutions[0]
	if got.Strategy != "custom" || got.ResolvedValue["name"] != "local" || got.ResolvedValue["extra"] != true {
		t.Errorf("expected merged value from custom resolver, got %+v", got)
	}
}

func TestResolveCustomWithoutFuncFallsBackToManual(t *testing.T) {
	r := NewResolver()

	conflicts := []Conflict{{EntityID: "n1", Type: TypeNodeUpdate}}
	resolutions, err := r.ResolveConflicts(conflicts, StrategyCustom)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolutions[0].Resolved() {
		t.Errorf("expected fallback to manual, got %+v", resolutions[0])
	}
}

func TestResolveCustomError(t *testing.T) {
	wantErr := errors.New("cannot decide")
	r := NewResolver().WithResolverFunc(func(Conflict) (graph.Entity, string, error) {
		return nil, "", wantErr
	})

	_, err := r.ResolveConflicts([]Conflict{{EntityID: "n1", Type: TypeNodeUpdate}}, StrategyCustom)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped resolver error, got %v", err)
	}
}

func TestResolveUnknownStrategyDegradesToManual(t *testing.T) {
	r := NewResolver()

	resolutions, err := r.ResolveConflicts([]Conflict{{EntityID: "n1", Type: TypeNodeUpdate}}, Strategy("bogus"))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolutions[0].Strategy != "manual" {
		t.Errorf("expected manual fallback, got %+v", resolutions[0])
	}
}

func TestApplyResolutions(t *testing.T) {
	r := NewResolver()

	state := graph.NewData()
	state.Nodes["n1"] = graph.Entity{"name": "old"}
	state.Nodes["n2"] = graph.Entity{"name": "keep"}
	state.Edges["e1"] = graph.Entity{"weight": 1.0}

	resolutions := []Resolution{
		{EntityID: "n1", Type: TypeNodeUpdate, ResolvedValue: graph.Entity{"name": "new"}, Strategy: "remote"},
		{EntityID: "e1", Type: TypeEdgeDelete, ResolvedValue: nil, Strategy: "remote"},
		{EntityID: "n2", Type: TypeNodeUpdate, ResolvedValue: nil, Strategy: "manual"}, // unresolved, skipped
	}

	out := r.ApplyResolutions(state, resolutions)

	if out.Nodes["n1"]["name"] != "new" {
		t.Errorf("expected n1 updated, got %+v", out.Nodes["n1"])
	}
	if _, ok := out.Edges["e1"]; ok {
		t.Error("expected e1 deleted")
	}
	if out.Nodes["n2"]["name"] != "keep" {
		t.Errorf("expected unresolved n2 untouched, got %+v", out.Nodes["n2"])
	}

	// The input state must not be mutated.
	if state.Nodes["n1"]["name"] != "old" {
		t.Errorf("expected input state unchanged, got %+v", state.Nodes["n1"])
	}
}

func TestStatsAndClear(t *testing.T) {
	r := NewResolver()
	local, remote := changeSets()

	conflicts, _ := r.DetectConflicts(local, remote)
	r.ResolveConflicts(conflicts, StrategyManual)

	stats := r.Stats()
	if stats.ConflictsDetected != 2 || stats.ConflictsResolved != 0 || stats.Unresolved != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	r.Clear()
	stats = r.Stats()
	if stats.ConflictsDetected != 0 || stats.Unresolved != 0 {
		t.Errorf("expected cleared stats, got %+v", stats)
	}
}
