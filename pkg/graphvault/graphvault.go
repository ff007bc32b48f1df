// Package graphvault wires the snapshot store, delta encoder, conflict
// resolver, query planner and cache invalidator into one versioned graph
// synchronization system.
package graphvault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/graphvault/graphvault/pkg/conflict"
	"github.com/graphvault/graphvault/pkg/delta"
	"github.com/graphvault/graphvault/pkg/graph"
	"github.com/graphvault/graphvault/pkg/invalidator"
	"github.com/graphvault/graphvault/pkg/metrics"
	"github.com/graphvault/graphvault/pkg/notify"
	"github.com/graphvault/graphvault/pkg/planner"
	"github.com/graphvault/graphvault/pkg/snapshot"
)

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// Config holds configuration for all subsystems. Zero values select
// sensible defaults; see each component's config for details.
type Config struct {
	Snapshot    snapshot.Config
	Delta       delta.Options
	Planner     planner.Config
	Invalidator invalidator.Config
}

// System is the main entry point. Every System owns its own component
// instances; two Systems share nothing except a Backend the caller
// passes to both.
type System struct {
	config      Config
	backend     snapshot.Backend
	store       *snapshot.Store
	encoder     *delta.Encoder
	resolver    *conflict.Resolver
	planner     *planner.Planner
	invalidator *invalidator.Invalidator
	logger      *slog.Logger
	metrics     metrics.Collector
}

// New creates a system over the given snapshot backend.
func New(cfg Config, backend snapshot.Backend) (*System, error) {
	if backend == nil {
		backend = snapshot.NewMemoryBackend()
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &System{
		config:      cfg,
		backend:     backend,
		store:       snapshot.New(backend, cfg.Snapshot),
		encoder:     delta.NewEncoder(cfg.Delta),
		resolver:    conflict.NewResolver(),
		planner:     planner.New(cfg.Planner),
		invalidator: invalidator.New(cfg.Invalidator),
		metrics:     metrics.NewNoopCollector(),
	}, nil
}

// WithLogger sets the logger on the system and all components, returning
// the system for chaining. A nil logger disables logging.
func (s *System) WithLogger(logger *slog.Logger) *System {
	s.logger = logger
	s.store.WithLogger(logger)
	s.encoder.WithLogger(logger)
	s.resolver.WithLogger(logger)
	s.planner.WithLogger(logger)
	s.invalidator.WithLogger(logger)
	return s
}

// WithMetrics sets the metrics collector and returns the system for
// chaining. A nil collector restores the no-op default.
func (s *System) WithMetrics(collector metrics.Collector) *System {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	s.metrics = collector
	return s
}

// WithObserver routes invalidation notifications to the given observer
// and returns the system for chaining.
func (s *System) WithObserver(obs notify.Observer) *System {
	s.invalidator.WithObserver(obs)
	return s
}

// WithResolverFunc installs the custom conflict resolution function and
// returns the system for chaining.
func (s *System) WithResolverFunc(fn conflict.ResolverFunc) *System {
	s.resolver.WithResolverFunc(fn)
	return s
}

// CommitResult reports one Commit: the stored snapshot and the delta
// from the previous latest snapshot (nil for the first commit).
type CommitResult struct {
	Snapshot *snapshot.Snapshot
	Delta    *delta.Delta
}

// Commit stores a new graph version, encodes the delta against the
// previous latest snapshot, and feeds the resulting change events to the
// invalidator.
func (s *System) Commit(ctx context.Context, data graph.Data, opts snapshot.StoreOptions) (*CommitResult, error) {
	start := time.Now()

	prev, err := s.store.Latest(ctx)
	if err != nil {
		s.recordFailure(ctx, "commit", err)
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	snap, err := s.store.Store(ctx, data, opts)
	if err != nil {
		s.recordFailure(ctx, "commit", err)
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	s.metrics.RecordStage(ctx, "commit", "persist", time.Since(start).Milliseconds())

	result := &CommitResult{Snapshot: snap}
	if prev != nil {
		diffStart := time.Now()
		d, err := s.encoder.Encode(prev, snap)
		if err != nil {
			s.recordFailure(ctx, "commit", err)
			return nil, fmt.Errorf("failed to encode delta: %w", err)
		}
		result.Delta = d
		s.metrics.RecordStage(ctx, "commit", "diff", time.Since(diffStart).Milliseconds())

		for _, ev := range changeEvents(d) {
			s.invalidator.ProcessChange(ev)
		}
	}

	s.metrics.RecordOperation(ctx, "commit", "success", time.Since(start).Milliseconds())
	s.metrics.SetResourceCount(ctx, "snapshots", int64(s.store.Stats().Count))
	return result, nil
}

// changeEvents translates a delta into invalidation change events.
// Metadata changes have no dependent cache entries and are skipped. Edge
// events carry endpoint ids when the edge value names them, so
// endpoint-node invalidation can fire.
func changeEvents(d *delta.Delta) []graph.ChangeEvent {
	events := make([]graph.ChangeEvent, 0, len(d.Changes))
	for _, c := range d.Changes {
		ev := graph.ChangeEvent{Timestamp: d.Timestamp}
		switch c.Category {
		case delta.CategoryNode:
			ev.NodeID = c.ID
			switch c.Type {
			case delta.ChangeAdd:
				ev.Type = graph.EventNodeAdded
			case delta.ChangeRemove:
				ev.Type = graph.EventNodeRemoved
			case delta.ChangeModify:
				ev.Type = graph.EventNodeUpdated
			}
		case delta.CategoryEdge:
			ev.EdgeID = c.ID
			switch c.Type {
			case delta.ChangeAdd:
				ev.Type = graph.EventEdgeAdded
			case delta.ChangeRemove:
				ev.Type = graph.EventEdgeRemoved
			case delta.ChangeModify:
				ev.Type = graph.EventEdgeUpdated
			}
			ev.SourceID, ev.TargetID = edgeEndpoints(c)
		default:
			continue
		}
		events = append(events, ev)
	}
	return events
}

func edgeEndpoints(c delta.Change) (source, target string) {
	value := c.NewValue
	if value == nil {
		value = c.OldValue
	}
	entity, ok := value.(graph.Entity)
	if !ok {
		return "", ""
	}
	source, _ = entity["source"].(string)
	target, _ = entity["target"].(string)
	return source, target
}

// ReconcileResult reports one Reconcile: the detected conflicts and the
// resolutions produced for them.
type ReconcileResult struct {
	Conflicts   []conflict.Conflict
	Resolutions []conflict.Resolution
}

// Reconcile detects conflicts between two concurrent change sets and
// resolves them with the given strategy. Unresolved conflicts remain
// queued on the resolver for ManualResolve.
func (s *System) Reconcile(ctx context.Context, local, remote *conflict.ChangeSet, strategy conflict.Strategy) (*ReconcileResult, error) {
	start := time.Now()

	conflicts, err := s.resolver.DetectConflicts(local, remote)
	if err != nil {
		s.recordFailure(ctx, "reconcile", err)
		return nil, fmt.Errorf("failed to detect conflicts: %w", err)
	}

	resolutions, err := s.resolver.ResolveConflicts(conflicts, strategy)
	if err != nil {
		s.recordFailure(ctx, "reconcile", err)
		return nil, fmt.Errorf("failed to resolve conflicts: %w", err)
	}

	s.metrics.RecordOperation(ctx, "reconcile", "success", time.Since(start).Milliseconds())
	return &ReconcileResult{Conflicts: conflicts, Resolutions: resolutions}, nil
}

// Plan optimizes a match query into an execution plan.
func (s *System) Plan(q planner.Query) (*planner.PlanNode, error) {
	ctx := context.Background()
	start := time.Now()

	plan, err := s.planner.Optimize(q)
	if err != nil {
		s.recordFailure(ctx, "plan", err)
		return nil, err
	}

	s.metrics.RecordOperation(ctx, "plan", "success", time.Since(start).Milliseconds())
	s.metrics.SetResourceCount(ctx, "cached_plans", int64(s.planner.CacheStats().Size))
	return plan, nil
}

// SystemStats aggregates per-component statistics.
type SystemStats struct {
	Snapshots            snapshot.Stats     `json:"snapshots"`
	Conflicts            conflict.Stats     `json:"conflicts"`
	PlanCache            planner.CacheStats `json:"plan_cache"`
	DeltaCacheSize       int                `json:"delta_cache_size"`
	PendingInvalidations int                `json:"pending_invalidations"`
}

// Stats reports current statistics and refreshes the resource gauges.
func (s *System) Stats(ctx context.Context) SystemStats {
	stats := SystemStats{
		Snapshots:            s.store.Stats(),
		Conflicts:            s.resolver.Stats(),
		PlanCache:            s.planner.CacheStats(),
		DeltaCacheSize:       s.encoder.CacheSize(),
		PendingInvalidations: s.invalidator.PendingCount(),
	}
	s.metrics.SetResourceCount(ctx, "snapshots", int64(stats.Snapshots.Count))
	s.metrics.SetResourceCount(ctx, "cached_plans", int64(stats.PlanCache.Size))
	s.metrics.SetResourceCount(ctx, "pending_invalidations", int64(stats.PendingInvalidations))
	return stats
}

// Close flushes pending invalidations and closes the backend.
func (s *System) Close() error {
	s.invalidator.Flush()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close backend: %w", err)
	}
	return nil
}

func (s *System) recordFailure(ctx context.Context, operation string, err error) {
	s.metrics.RecordError(ctx, operation, ClassifyError(err))
	s.metrics.RecordOperation(ctx, operation, "error", 0)
}

// GetStore returns the snapshot store.
func (s *System) GetStore() *snapshot.Store {
	return s.store
}

// GetEncoder returns the delta encoder.
func (s *System) GetEncoder() *delta.Encoder {
	return s.encoder
}

// GetResolver returns the conflict resolver.
func (s *System) GetResolver() *conflict.Resolver {
	return s.resolver
}

// GetPlanner returns the query planner.
func (s *System) GetPlanner() *planner.Planner {
	return s.planner
}

// GetInvalidator returns the cache invalidator.
func (s *System) GetInvalidator() *invalidator.Invalidator {
	return s.invalidator
}
