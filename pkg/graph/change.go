package graph

import "time"

// EventType identifies a graph mutation notification emitted by the graph
// engine. The set is closed; switches over it should be exhaustive.
type EventType string

const (
	EventNodeAdded   EventType = "node-added"
	EventNodeRemoved EventType = "node-removed"
	EventNodeUpdated EventType = "node-updated"
	EventEdgeAdded   EventType = "edge-added"
	EventEdgeRemoved EventType = "edge-removed"
	EventEdgeUpdated EventType = "edge-updated"
)

// IsNodeEvent reports whether the event concerns a node.
func (t EventType) IsNodeEvent() bool {
	switch t {
	case EventNodeAdded, EventNodeRemoved, EventNodeUpdated:
		return true
	case EventEdgeAdded, EventEdgeRemoved, EventEdgeUpdated:
		return false
	}
	return false
}

// IsEdgeEvent reports whether the event concerns an edge.
func (t EventType) IsEdgeEvent() bool {
	switch t {
	case EventEdgeAdded, EventEdgeRemoved, EventEdgeUpdated:
		return true
	case EventNodeAdded, EventNodeRemoved, EventNodeUpdated:
		return false
	}
	return false
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t.IsNodeEvent() || t.IsEdgeEvent()
}

// ChangeEvent is a single mutation notification. NodeID is set for node
// events; EdgeID for edge events. Edge events additionally carry the edge
// endpoints in SourceID/TargetID when the producer knows them, which is
// what allows endpoint-based cache invalidation.
type ChangeEvent struct {
	Type      EventType      `json:"type"`
	NodeID    string         `json:"node_id,omitempty"`
	EdgeID    string         `json:"edge_id,omitempty"`
	SourceID  string         `json:"source_id,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EntityID returns the id of the entity the event concerns.
func (e ChangeEvent) EntityID() string {
	if e.Type.IsEdgeEvent() {
		return e.EdgeID
	}
	return e.NodeID
}
