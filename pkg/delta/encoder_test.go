package delta

import (
	"errors"
	"testing"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
	"github.com/graphvault/graphvault/pkg/snapshot"
)

func snap(id string, version int64, data graph.Data) *snapshot.Snapshot {
	return &snapshot.Snapshot{ID: id, Version: version, Timestamp: time.Now(), Data: data}
}

func baseData() graph.Data {
	d := graph.NewData()
	d.Nodes["a"] = graph.Entity{"name": "alpha", "count": 1}
	d.Nodes["b"] = graph.Entity{"name": "beta"}
	d.Edges["e1"] = graph.Entity{"source": "a", "target": "b", "weight": 1.0}
	d.Metadata["rev"] = 1
	return d
}

func TestEncodeRequiresBothSnapshots(t *testing.T) {
	enc := NewEncoder(Options{})

	if _, err := enc.Encode(nil, snap("s2", 2, baseData())); !errors.Is(err, ErrMissingSnapshot) {
		t.Errorf("expected ErrMissingSnapshot, got %v", err)
	}
	if _, err := enc.Encode(snap("s1", 1, baseData()), nil); !errors.Is(err, ErrMissingSnapshot) {
		t.Errorf("expected ErrMissingSnapshot, got %v", err)
	}
}

func TestEncodeIdenticalSnapshots(t *testing.T) {
	enc := NewEncoder(Options{})

	d, err := enc.Encode(snap("s1", 1, baseData()), snap("s2", 2, baseData()))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !d.Empty() || d.ChangeCount != 0 {
		t.Errorf("expected empty delta for identical data, got %+v", d.Changes)
	}
}

func TestEncodeAddRemoveModify(t *testing.T) {
	enc := NewEncoder(Options{})

	from := baseData()
	to := graph.Clone(from)
	to.Nodes["c"] = graph.Entity{"name": "gamma"} // add
	delete(to.Nodes, "b")                         // remove
	to.Nodes["a"]["count"] = 2                    // modify
	to.Edges["e1"]["weight"] = 2.5                // modify
	to.Metadata["rev"] = 2                        // modify
	to.Metadata["by"] = "sync"                    // add

	d, err := enc.Encode(snap("s1", 1, from), snap("s2", 2, to))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if d.ChangeCount != 6 {
		t.Fatalf("expected 6 changes, got %d: %+v", d.ChangeCount, d.Changes)
	}

	byKey := make(map[string]Change)
	for _, c := range d.Changes {
		byKey[string(c.Category)+"/"+c.ID] = c
	}
	if c := byKey["node/c"]; c.Type != ChangeAdd {
		t.Errorf("expected node c added, got %+v", c)
	}
	if c := byKey["node/b"]; c.Type != ChangeRemove {
		t.Errorf("expected node b removed, got %+v", c)
	}
	if c := byKey["node/a"]; c.Type != ChangeModify {
		t.Errorf("expected node a modified, got %+v", c)
	}
	if c := byKey["edge/e1"]; c.Type != ChangeModify {
		t.Errorf("expected edge e1 modified, got %+v", c)
	}
	if c := byKey["metadata/rev"]; c.Type != ChangeModify {
		t.Errorf("expected metadata rev modified, got %+v", c)
	}
	if c := byKey["metadata/by"]; c.Type != ChangeAdd {
		t.Errorf("expected metadata by added, got %+v", c)
	}
}

func TestEncodeIgnoreProperties(t *testing.T) {
	enc := NewEncoder(Options{IgnoreProperties: []string{"updatedAt"}})

	from := baseData()
	to := graph.Clone(from)
	to.Nodes["a"]["updatedAt"] = "2026-01-02"

	d, err := enc.Encode(snap("s1", 1, from), snap("s2", 2, to))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !d.Empty() {
		t.Errorf("expected ignored property to produce no changes, got %+v", d.Changes)
	}
}

func TestEncodePropertyChanges(t *testing.T) {
	enc := NewEncoder(Options{TrackPropertyChanges: true})

	from := baseData()
	to := graph.Clone(from)
	to.Nodes["a"]["count"] = 2
	to.Nodes["a"]["role"] = "hub"
	delete(to.Nodes["a"], "name")

	d, err := enc.Encode(snap("s1", 1, from), snap("s2", 2, to))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if d.ChangeCount != 1 {
		t.Fatalf("expected 1 change, got %d", d.ChangeCount)
	}

	pc := d.Changes[0].PropertyChanges
	if pc == nil {
		t.Fatal("expected property-level changes")
	}
	if got := pc["count"]; got.Old != 1 || got.New != 2 {
		t.Errorf("expected count 1 -> 2, got %+v", got)
	}
	if got := pc["role"]; got.Old != nil || got.New != "hub" {
		t.Errorf("expected role added, got %+v", got)
	}
	if got := pc["name"]; got.Old != "alpha" || got.New != nil {
		t.Errorf("expected name removed, got %+v", got)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	for _, track := range []bool{false, true} {
		enc := NewEncoder(Options{TrackPropertyChanges: track})

		from := baseData()
		to := graph.Clone(from)
		to.Nodes["c"] = graph.Entity{"name": "gamma"}
		delete(to.Nodes, "b")
		to.Nodes["a"]["count"] = 2
		to.Edges["e2"] = graph.Entity{"source": "a", "target": "c"}
		to.Metadata["rev"] = 2

		fromSnap := snap("s1", 1, from)
		toSnap := snap("s2", 2, to)

		d, err := enc.Encode(fromSnap, toSnap)
		if err != nil {
			t.Fatalf("track=%v: encode failed: %v", track, err)
		}
		rebuilt, err := enc.Apply(fromSnap, d)
		if err != nil {
			t.Fatalf("track=%v: apply failed: %v", track, err)
		}

		if !graph.DataEqual(rebuilt.Data, to, nil) {
			t.Errorf("track=%v: expected rebuilt state to equal target\ngot:  %+v\nwant: %+v", track, rebuilt.Data, to)
		}
		if rebuilt.ID != "s2" {
			t.Errorf("track=%v: expected rebuilt id s2, got %s", track, rebuilt.ID)
		}

		// The base snapshot must be untouched.
		if from.Nodes["a"]["count"] != 1 {
			t.Errorf("track=%v: base snapshot was mutated: %+v", track, from.Nodes["a"])
		}
	}
}

func TestApplyBaseMismatchIsNotAnError(t *testing.T) {
	enc := NewEncoder(Options{})

	from := baseData()
	to := graph.Clone(from)
	to.Metadata["rev"] = 2

	d, err := enc.Encode(snap("s1", 1, from), snap("s2", 2, to))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	other := snap("s9", 9, baseData())
	rebuilt, err := enc.Apply(other, d)
	if err != nil {
		t.Fatalf("expected mismatched base to apply anyway, got %v", err)
	}
	if rebuilt.Data.Metadata["rev"] != 2 {
		t.Errorf("expected delta applied, got %+v", rebuilt.Data.Metadata)
	}
}

func TestEncoderCache(t *testing.T) {
	enc := NewEncoder(Options{MaxCacheEntries: 2})

	s1 := snap("s1", 1, baseData())
	s2 := snap("s2", 2, baseData())
	s3 := snap("s3", 3, baseData())

	d1, _ := enc.Encode(s1, s2)
	d1again, _ := enc.Encode(s1, s2)
	if d1 != d1again {
		t.Error("expected second encode of same pair to hit the cache")
	}
	if enc.CacheSize() != 1 {
		t.Errorf("expected 1 cached delta, got %d", enc.CacheSize())
	}

	// Filling past the bound evicts the oldest entry.
	enc.Encode(s2, s3)
	enc.Encode(s1, s3)
	if enc.CacheSize() != 2 {
		t.Errorf("expected cache bounded at 2, got %d", enc.CacheSize())
	}

	enc.InvalidateCache()
	if enc.CacheSize() != 0 {
		t.Errorf("expected empty cache after invalidate, got %d", enc.CacheSize())
	}
}

func TestEncoderCacheDisabled(t *testing.T) {
	enc := NewEncoder(Options{})

	s1 := snap("s1", 1, baseData())
	s2 := snap("s2", 2, baseData())
	enc.Encode(s1, s2)
	if enc.CacheSize() != 0 {
		t.Errorf("expected caching disabled by default, got %d entries", enc.CacheSize())
	}
}
