// Package conflict detects and resolves divergence between two change sets
// describing edits made independently since a common ancestor.
package conflict

import (
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
)

// Type classifies a detected conflict.
type Type string

const (
	TypeNodeUpdate Type = "node-update"
	TypeEdgeUpdate Type = "edge-update"
	TypeNodeDelete Type = "node-delete"
	TypeEdgeDelete Type = "edge-delete"
)

// Strategy selects how conflicts are resolved.
type Strategy string

const (
	// StrategyLastWriteWins picks the side with the strictly greater
	// timestamp; ties favor local.
	StrategyLastWriteWins Strategy = "last-write-wins"

	// StrategyManual queues conflicts for explicit resolution via
	// ManualResolve.
	StrategyManual Strategy = "manual"

	// StrategyCustom delegates to a caller-supplied resolver function.
	StrategyCustom Strategy = "custom"
)

// EntityChange describes one side's edit to a single entity since the
// common ancestor.
type EntityChange struct {
	Value     graph.Entity `json:"value,omitempty"`
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Deleted   bool         `json:"deleted,omitempty"`
}

// ChangeSet is one actor's accumulated edits: entity id to change, for
// nodes and edges separately.
type ChangeSet struct {
	Nodes map[string]EntityChange `json:"nodes,omitempty"`
	Edges map[string]EntityChange `json:"edges,omitempty"`
}

// Conflict records a divergence on a single entity. A conflict exists iff
// both sides changed the same entity to different version/value since
// their common ancestor.
type Conflict struct {
	EntityID        string       `json:"entity_id"`
	Type            Type         `json:"type"`
	LocalValue      graph.Entity `json:"local_value,omitempty"`
	RemoteValue     graph.Entity `json:"remote_value,omitempty"`
	LocalTimestamp  time.Time    `json:"local_timestamp"`
	RemoteTimestamp time.Time    `json:"remote_timestamp"`
	LocalVersion    int64        `json:"local_version"`
	RemoteVersion   int64        `json:"remote_version"`
}

// Resolution is the outcome for one conflict. Strategy "manual" with a nil
// ResolvedValue represents deferred, unresolved state; ApplyResolutions
// skips such entries.
type Resolution struct {
	EntityID      string       `json:"entity_id"`
	Type          Type         `json:"type"`
	ResolvedValue graph.Entity `json:"resolved_value,omitempty"`
	Strategy      string       `json:"strategy"` // local, remote, manual
	Reason        string       `json:"reason,omitempty"`
}

// Resolved reports whether the resolution carries a materialized value.
func (r Resolution) Resolved() bool {
	return r.Strategy != "manual" || r.ResolvedValue != nil
}

// ResolverFunc is a caller-supplied custom resolver. It receives the
// conflict and returns the winning value plus a free-form reason.
type ResolverFunc func(Conflict) (graph.Entity, string, error)

// Stats tracks resolver activity. Counters only grow; Clear resets them.
type Stats struct {
	ConflictsDetected int64 `json:"conflicts_detected"`
	ConflictsResolved int64 `json:"conflicts_resolved"`
	Unresolved        int   `json:"unresolved"`
}
