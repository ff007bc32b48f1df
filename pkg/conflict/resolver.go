package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/graphvault/graphvault/pkg/graph"
)

// ErrMissingChangeSet indicates DetectConflicts was called without both
// change sets.
var ErrMissingChangeSet = errors.New("both change sets are required")

// Resolver detects conflicts between change sets and resolves them with a
// configurable strategy. Its conflict and resolution bookkeeping is
// private; ManualResolve is the only external mutator. Safe for
// concurrent use.
type Resolver struct {
	logger   *slog.Logger
	resolver ResolverFunc

	mu         sync.Mutex
	unresolved map[string]Conflict
	detected   int64
	resolved   int64
}

// NewResolver creates a resolver. A custom resolver function may be
// attached with WithResolverFunc.
func NewResolver() *Resolver {
	return &Resolver{unresolved: make(map[string]Conflict)}
}

// WithLogger sets the logger and returns the resolver for chaining.
// A nil logger disables logging.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// WithResolverFunc sets the custom resolution function used by
// StrategyCustom and returns the resolver for chaining.
func (r *Resolver) WithResolverFunc(fn ResolverFunc) *Resolver {
	r.resolver = fn
	return r
}

// DetectConflicts compares two change sets. For each entity present in
// both sides, a conflict is recorded unless versions match or values are
// deeply equal. An entity deleted on one side and modified on the other is
// a delete conflict. Detection is symmetric: swapping the arguments
// reports the same entity ids with local/remote roles exchanged.
func (r *Resolver) DetectConflicts(local, remote *ChangeSet) ([]Conflict, error) {
	if local == nil || remote == nil {
		return nil, ErrMissingChangeSet
	}

	var conflicts []Conflict
	conflicts = append(conflicts, detectCategory(local.Nodes, remote.Nodes, TypeNodeUpdate, TypeNodeDelete)...)
	conflicts = append(conflicts, detectCategory(local.Edges, remote.Edges, TypeEdgeUpdate, TypeEdgeDelete)...)

	r.mu.Lock()
	r.detected += int64(len(conflicts))
	r.mu.Unlock()

	if r.logger != nil && len(conflicts) > 0 {
		r.logger.Debug("conflicts detected", "count", len(conflicts))
	}
	return conflicts, nil
}

func detectCategory(local, remote map[string]EntityChange, updateType, deleteType Type) []Conflict {
	var conflicts []Conflict
	for _, id := range sortedIDs(local) {
		lc := local[id]
		rc, both := remote[id]
		if !both {
			continue
		}

		c := Conflict{
			EntityID:        id,
			LocalValue:      lc.Value,
			RemoteValue:     rc.Value,
			LocalTimestamp:  lc.Timestamp,
			RemoteTimestamp: rc.Timestamp,
			LocalVersion:    lc.Version,
			RemoteVersion:   rc.Version,
		}

		switch {
		case lc.Deleted != rc.Deleted:
			// Deleted on one side, modified on the other.
			c.Type = deleteType
			conflicts = append(conflicts, c)
		case lc.Deleted && rc.Deleted:
			// Both deleted: convergent, nothing to resolve.
		case lc.Version == rc.Version:
			// Same version means same ancestor edit.
		case graph.Equal(lc.Value, rc.Value, nil):
			// Different versions but identical values: convergent.
		default:
			c.Type = updateType
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

// ResolveConflicts produces one resolution per conflict using the given
// strategy. Unknown strategies degrade to manual with a logged warning
// rather than failing, since conflict handling is off the critical path.
func (r *Resolver) ResolveConflicts(conflicts []Conflict, strategy Strategy) ([]Resolution, error) {
	switch strategy {
	case StrategyLastWriteWins, StrategyManual, StrategyCustom:
	default:
		if r.logger != nil {
			r.logger.Warn("unknown resolution strategy, falling back to manual", "strategy", string(strategy))
		}
		strategy = StrategyManual
	}

	resolutions := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		res, err := r.resolveOne(c, strategy)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}

	r.mu.Lock()
	for i, res := range resolutions {
		if res.Resolved() {
			r.resolved++
			delete(r.unresolved, conflictKey(conflicts[i]))
		} else {
			r.unresolved[conflictKey(conflicts[i])] = conflicts[i]
		}
	}
	r.mu.Unlock()

	return resolutions, nil
}

func (r *Resolver) resolveOne(c Conflict, strategy Strategy) (Resolution, error) {
	res := Resolution{EntityID: c.EntityID, Type: c.Type}

	switch strategy {
	case StrategyLastWriteWins:
		// Strictly greater remote timestamp wins; ties favor local.
		if c.RemoteTimestamp.After(c.LocalTimestamp) {
			res.ResolvedValue = graph.CloneEntity(c.RemoteValue)
			res.Strategy = "remote"
			res.Reason = "remote change is newer"
		} else {
			res.ResolvedValue = graph.CloneEntity(c.LocalValue)
			res.Strategy = "local"
			res.Reason = "local change is newer or concurrent"
		}
	case StrategyCustom:
		if r.resolver == nil {
			res.Strategy = "manual"
			res.Reason = "no custom resolver configured"
			return res, nil
		}
		value, reason, err := r.resolver(c)
		if err != nil {
			return Resolution{}, fmt.Errorf("custom resolver failed for %s: %w", c.EntityID, err)
		}
		res.ResolvedValue = value
		res.Strategy = "custom"
		res.Reason = reason
	case StrategyManual:
		res.Strategy = "manual"
		res.Reason = "queued for manual resolution"
	}

	return res, nil
}

// ManualResolve materializes a value for a previously deferred conflict
// and removes it from the unresolved queue. Returns the resolution, or an
// error when no such conflict is pending.
func (r *Resolver) ManualResolve(entityID string, value graph.Entity, reason string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	var found *Conflict
	for k, c := range r.unresolved {
		if c.EntityID == entityID {
			key, found = k, &c
			break
		}
	}
	if found == nil {
		return Resolution{}, fmt.Errorf("no unresolved conflict for entity %s", entityID)
	}

	delete(r.unresolved, key)
	r.resolved++

	return Resolution{
		EntityID:      entityID,
		Type:          found.Type,
		ResolvedValue: graph.CloneEntity(value),
		Strategy:      "manual",
		Reason:        reason,
	}, nil
}

// UnresolvedConflicts returns the conflicts still awaiting manual
// resolution, ordered by entity id.
func (r *Resolver) UnresolvedConflicts() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Conflict, 0, len(r.unresolved))
	for _, c := range r.unresolved {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// ApplyResolutions applies every materialized resolution onto a deep clone
// of the given graph state. Manual resolutions without a value are left
// untouched in the output; they stay in the unresolved queue.
func (r *Resolver) ApplyResolutions(state graph.Data, resolutions []Resolution) graph.Data {
	out := graph.Clone(state)
	if out.Nodes == nil {
		out.Nodes = make(map[string]graph.Entity)
	}
	if out.Edges == nil {
		out.Edges = make(map[string]graph.Entity)
	}

	for _, res := range resolutions {
		if !res.Resolved() {
			continue
		}
		switch res.Type {
		case TypeNodeUpdate:
			out.Nodes[res.EntityID] = graph.CloneEntity(res.ResolvedValue)
		case TypeEdgeUpdate:
			out.Edges[res.EntityID] = graph.CloneEntity(res.ResolvedValue)
		case TypeNodeDelete:
			if res.ResolvedValue == nil {
				delete(out.Nodes, res.EntityID)
			} else {
				out.Nodes[res.EntityID] = graph.CloneEntity(res.ResolvedValue)
			}
		case TypeEdgeDelete:
			if res.ResolvedValue == nil {
				delete(out.Edges, res.EntityID)
			} else {
				out.Edges[res.EntityID] = graph.CloneEntity(res.ResolvedValue)
			}
		}
	}
	return out
}

// Stats returns the monotonic detection/resolution counters plus the
// current unresolved queue depth.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ConflictsDetected: r.detected,
		ConflictsResolved: r.resolved,
		Unresolved:        len(r.unresolved),
	}
}

// Clear resets counters and drops pending unresolved conflicts.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unresolved = make(map[string]Conflict)
	r.detected = 0
	r.resolved = 0
}

func conflictKey(c Conflict) string {
	return string(c.Type) + ":" + c.EntityID
}

func sortedIDs(m map[string]EntityChange) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
