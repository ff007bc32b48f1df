// Package snapshot provides durable, versioned storage of full graph
// snapshots with dual indexing by sequential version and by timestamp,
// a pluggable persistence backend, and an age/count retention policy.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
)

// Snapshot is a complete, immutable graph state at a point in time.
// Version numbers are strictly increasing and unique; timestamps are not
// guaranteed unique. Once stored, a snapshot is read-only.
type Snapshot struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Data      graph.Data     `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Size      int64          `json:"size"`
}

// Record is the JSON-portable form a backend persists. It is identical to
// Snapshot today but kept as a separate name so the durable identity
// contract (id + version) is explicit at the storage boundary.
type Record = Snapshot

// ErrMissingData indicates Store was called without graph data.
var ErrMissingData = errors.New("snapshot data is required")

// StorageError wraps a persistence-backend failure. In-memory indexes are
// never updated when a StorageError is returned, so the store stays
// consistent with the last successful backend operation.
type StorageError struct {
	Op  string // backend operation: save, load, list, delete, clear
	ID  string // snapshot id, if known
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage %s failed for snapshot %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
