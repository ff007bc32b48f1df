// Package delta computes minimal change sets between two graph snapshots
// and replays them onto a base snapshot to reconstruct the target.
package delta

import (
	"encoding/json"
	"time"
)

// ChangeType classifies a single delta change. The set is closed.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
	ChangeModify ChangeType = "modify"
)

// Category identifies which part of the graph a change touches.
type Category string

const (
	CategoryNode     Category = "node"
	CategoryEdge     Category = "edge"
	CategoryMetadata Category = "metadata"
)

// PropertyChange records a single property's before/after values for a
// property-level modify change.
type PropertyChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Change is one entry in a delta. A modify change carries either whole
// old/new values or, when property tracking is enabled, a per-property map
// (OldValue/NewValue stay nil in that case).
type Change struct {
	Type            ChangeType                `json:"type"`
	Category        Category                  `json:"category"`
	ID              string                    `json:"id"`
	OldValue        any                       `json:"old_value,omitempty"`
	NewValue        any                       `json:"new_value,omitempty"`
	PropertyChanges map[string]PropertyChange `json:"property_changes,omitempty"`
}

// Delta is the minimal ordered change set transforming one snapshot into
// another. Applying Changes in order to the from-snapshot reproduces the
// to-snapshot on all primitive-valued properties.
type Delta struct {
	FromSnapshotID string    `json:"from_snapshot_id"`
	ToSnapshotID   string    `json:"to_snapshot_id"`
	Timestamp      time.Time `json:"timestamp"`
	Changes        []Change  `json:"changes"`
	ChangeCount    int       `json:"change_count"`
	EstimatedSize  int64     `json:"estimated_size"`
}

// Empty reports whether the delta contains no changes.
func (d *Delta) Empty() bool {
	return d == nil || len(d.Changes) == 0
}

func estimateSize(changes []Change) int64 {
	raw, err := json.Marshal(changes)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}
