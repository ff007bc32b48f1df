package delta

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
	"github.com/graphvault/graphvault/pkg/snapshot"
)

// ErrMissingSnapshot indicates Encode or Apply was called without both
// snapshot arguments.
var ErrMissingSnapshot = errors.New("both snapshots are required")

// Options configures an Encoder.
type Options struct {
	// TrackPropertyChanges records modify changes as per-property maps
	// instead of whole before/after values. Reduces payload size for large
	// entities with small edits.
	TrackPropertyChanges bool

	// IgnoreProperties lists entity properties excluded from comparison.
	IgnoreProperties []string

	// MaxCacheEntries bounds the encoded-delta cache. 0 disables caching.
	MaxCacheEntries int `validate:"min=0"`
}

// Encoder computes deltas between snapshots and replays them. It operates
// on snapshot data passed by value and shares no mutable state with the
// store. Safe for concurrent use.
type Encoder struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*Delta // keyed fromID|toID
	order []string          // insertion order for eviction
}

// NewEncoder creates an encoder with the given options.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{
		opts:  opts,
		cache: make(map[string]*Delta),
	}
}

// WithLogger sets the logger and returns the encoder for chaining.
// A nil logger disables logging.
func (e *Encoder) WithLogger(logger *slog.Logger) *Encoder {
	e.logger = logger
	return e
}

// Encode diffs two snapshots into a minimal change set. Nodes, edges and
// metadata are diffed independently: keys present only in to become adds,
// only in from become removes, and keys in both with unequal values become
// modifies. Encode(s, s) yields zero changes.
func (e *Encoder) Encode(from, to *snapshot.Snapshot) (*Delta, error) {
	if from == nil || to == nil {
		return nil, ErrMissingSnapshot
	}

	cacheKey := from.ID + "|" + to.ID
	if cached := e.lookup(cacheKey); cached != nil {
		return cached, nil
	}

	var changes []Change
	changes = append(changes, e.diffEntities(CategoryNode, from.Data.Nodes, to.Data.Nodes)...)
	changes = append(changes, e.diffEntities(CategoryEdge, from.Data.Edges, to.Data.Edges)...)
	changes = append(changes, e.diffMetadata(from.Data.Metadata, to.Data.Metadata)...)

	d := &Delta{
		FromSnapshotID: from.ID,
		ToSnapshotID:   to.ID,
		Timestamp:      time.Now(),
		Changes:        changes,
		ChangeCount:    len(changes),
		EstimatedSize:  estimateSize(changes),
	}

	e.remember(cacheKey, d)
	return d, nil
}

// diffEntities diffs one id-keyed entity map. Keys are walked in sorted
// order so change ordering is deterministic.
func (e *Encoder) diffEntities(cat Category, from, to map[string]graph.Entity) []Change {
	var changes []Change

	for _, id := range sortedKeys(to) {
		after := to[id]
		before, existed := from[id]
		if !existed {
			changes = append(changes, Change{
				Type:     ChangeAdd,
				Category: cat,
				ID:       id,
				NewValue: graph.CloneEntity(after),
			})
			continue
		}
		if graph.Equal(before, after, e.opts.IgnoreProperties) {
			continue
		}
		changes = append(changes, e.modifyChange(cat, id, before, after))
	}

	for _, id := range sortedKeys(from) {
		if _, kept := to[id]; !kept {
			changes = append(changes, Change{
				Type:     ChangeRemove,
				Category: cat,
				ID:       id,
				OldValue: graph.CloneEntity(from[id]),
			})
		}
	}

	return changes
}

func (e *Encoder) modifyChange(cat Category, id string, before, after graph.Entity) Change {
	c := Change{Type: ChangeModify, Category: cat, ID: id}
	if !e.opts.TrackPropertyChanges {
		c.OldValue = graph.CloneEntity(before)
		c.NewValue = graph.CloneEntity(after)
		return c
	}

	c.PropertyChanges = make(map[string]PropertyChange)
	for prop, afterVal := range after {
		if ignored(prop, e.opts.IgnoreProperties) {
			continue
		}
		beforeVal, existed := before[prop]
		if !existed || !graph.ValueEqual(beforeVal, afterVal) {
			c.PropertyChanges[prop] = PropertyChange{Old: beforeVal, New: afterVal}
		}
	}
	for prop, beforeVal := range before {
		if ignored(prop, e.opts.IgnoreProperties) {
			continue
		}
		if _, kept := after[prop]; !kept {
			c.PropertyChanges[prop] = PropertyChange{Old: beforeVal, New: nil}
		}
	}
	return c
}

func (e *Encoder) diffMetadata(from, to map[string]any) []Change {
	var changes []Change

	for _, key := range sortedKeys(to) {
		after := to[key]
		before, existed := from[key]
		if !existed {
			changes = append(changes, Change{Type: ChangeAdd, Category: CategoryMetadata, ID: key, NewValue: after})
			continue
		}
		if !graph.ValueEqual(before, after) {
			changes = append(changes, Change{Type: ChangeModify, Category: CategoryMetadata, ID: key, OldValue: before, NewValue: after})
		}
	}
	for _, key := range sortedKeys(from) {
		if _, kept := to[key]; !kept {
			changes = append(changes, Change{Type: ChangeRemove, Category: CategoryMetadata, ID: key, OldValue: from[key]})
		}
	}

	return changes
}

// Apply replays a delta onto a base snapshot and returns the reconstructed
// target state. The base is cloned first; the base snapshot is never
// mutated. A mismatch between the delta's from-id and the base's id is
// logged as a warning, not a failure.
func (e *Encoder) Apply(base *snapshot.Snapshot, d *Delta) (*snapshot.Snapshot, error) {
	if base == nil || d == nil {
		return nil, ErrMissingSnapshot
	}

	if d.FromSnapshotID != "" && d.FromSnapshotID != base.ID && e.logger != nil {
		e.logger.Warn("delta base mismatch, applying anyway",
			"delta_from", d.FromSnapshotID, "base_id", base.ID)
	}

	data := graph.Clone(base.Data)
	if data.Nodes == nil {
		data.Nodes = make(map[string]graph.Entity)
	}
	if data.Edges == nil {
		data.Edges = make(map[string]graph.Entity)
	}
	if data.Metadata == nil {
		data.Metadata = make(map[string]any)
	}

	for _, c := range d.Changes {
		if err := applyChange(data, c); err != nil {
			return nil, err
		}
	}

	return &snapshot.Snapshot{
		ID:        d.ToSnapshotID,
		Timestamp: d.Timestamp,
		Data:      data,
	}, nil
}

func applyChange(data graph.Data, c Change) error {
	switch c.Category {
	case CategoryNode:
		applyEntityChange(data.Nodes, c)
	case CategoryEdge:
		applyEntityChange(data.Edges, c)
	case CategoryMetadata:
		switch c.Type {
		case ChangeAdd, ChangeModify:
			data.Metadata[c.ID] = c.NewValue
		case ChangeRemove:
			delete(data.Metadata, c.ID)
		}
	default:
		return fmt.Errorf("unknown change category %q", c.Category)
	}
	return nil
}

func applyEntityChange(entities map[string]graph.Entity, c Change) {
	switch c.Type {
	case ChangeAdd:
		entities[c.ID] = asEntity(c.NewValue)
	case ChangeRemove:
		delete(entities, c.ID)
	case ChangeModify:
		if c.PropertyChanges == nil {
			entities[c.ID] = asEntity(c.NewValue)
			return
		}
		// Merge property-level changes, creating the entity first if the
		// delta is malformed and references an absent one.
		target, ok := entities[c.ID]
		if !ok {
			target = make(graph.Entity)
			entities[c.ID] = target
		}
		for prop, pc := range c.PropertyChanges {
			if pc.New == nil {
				delete(target, prop)
				continue
			}
			target[prop] = pc.New
		}
	}
}

func asEntity(v any) graph.Entity {
	switch val := v.(type) {
	case graph.Entity:
		return graph.CloneEntity(val)
	case nil:
		return make(graph.Entity)
	default:
		return graph.Entity{"value": val}
	}
}

// InvalidateCache drops all cached deltas.
func (e *Encoder) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*Delta)
	e.order = nil
}

// CacheSize returns the number of cached deltas.
func (e *Encoder) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func (e *Encoder) lookup(key string) *Delta {
	if e.opts.MaxCacheEntries <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache[key]
}

func (e *Encoder) remember(key string, d *Delta) {
	if e.opts.MaxCacheEntries <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cache[key]; !exists {
		e.order = append(e.order, key)
	}
	e.cache[key] = d
	for len(e.order) > e.opts.MaxCacheEntries {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.cache, oldest)
	}
}

func ignored(prop string, ignore []string) bool {
	for _, p := range ignore {
		if p == prop {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
