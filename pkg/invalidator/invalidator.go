// Package invalidator keeps dependent caches coherent with graph
// mutations. Caches register themselves and their keys' node/edge
// dependencies explicitly; rule matching maps each change to affected
// keys, and a configurable delivery strategy controls when callbacks fire.
package invalidator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
	"github.com/graphvault/graphvault/pkg/notify"
)

// Delivery selects when invalidation callbacks fire.
type Delivery string

const (
	// DeliverImmediate invalidates synchronously inside ProcessChange.
	DeliverImmediate Delivery = "immediate"

	// DeliverBatched accumulates changes for a fixed window from the first
	// pending change, deduplicates per entity id (latest wins), then
	// flushes.
	DeliverBatched Delivery = "batched"

	// DeliverDeferred debounces: each change restarts the delay, so a
	// burst produces a single flush after it quiets down.
	DeliverDeferred Delivery = "deferred"
)

// Config controls an Invalidator.
type Config struct {
	Strategy Delivery `validate:"omitempty,oneof=immediate batched deferred"`

	// BatchWindow is the accumulation window for DeliverBatched
	// (default 100ms).
	BatchWindow time.Duration `validate:"min=0"`

	// DeferDelay is the debounce delay for DeliverDeferred
	// (default 500ms).
	DeferDelay time.Duration `validate:"min=0"`

	// MaxPendingChanges forces a flush when the pending set grows past
	// this bound (default 1000).
	MaxPendingChanges int `validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = DeliverImmediate
	}
	if c.BatchWindow == 0 {
		c.BatchWindow = 100 * time.Millisecond
	}
	if c.DeferDelay == 0 {
		c.DeferDelay = 500 * time.Millisecond
	}
	if c.MaxPendingChanges == 0 {
		c.MaxPendingChanges = 1000
	}
}

// Deps lists the graph entities a cache key depends on.
type Deps struct {
	Nodes []string
	Edges []string
}

// Rule maps a change to affected cache keys. Rules run in descending
// priority order; every matching rule's selected keys are unioned per
// change before callbacks fire.
type Rule struct {
	ID       string
	Priority int
	Matches  func(graph.ChangeEvent) bool
	Select   func(graph.ChangeEvent) []string
}

// CallbackFunc receives the affected keys of one cache, exactly once per
// flush cycle.
type CallbackFunc func(keys []string)

type keyRef struct {
	cacheID string
	key     string
}

// Invalidator owns the rule list and the dependency index. Registration
// is explicit: nothing is inferred from cache contents. Safe for
// concurrent use; callbacks are invoked outside the internal lock.
type Invalidator struct {
	cfg      Config
	logger   *slog.Logger
	observer notify.Observer

	mu        sync.Mutex
	caches    map[string]CallbackFunc
	cacheKeys map[string]map[string]struct{} // cache id -> registered keys
	nodeDeps  map[string]map[keyRef]struct{} // node id -> dependent keys
	edgeDeps  map[string]map[keyRef]struct{} // edge id -> dependent keys
	rules     []Rule                         // sorted by descending priority
	pending   map[string]graph.ChangeEvent   // entity id -> latest change
	timer     *time.Timer
}

// New creates an invalidator with the built-in dependency rules
// installed: direct node dependency, direct edge dependency, and
// edge-change-invalidates-endpoint-nodes.
func New(cfg Config) *Invalidator {
	cfg.applyDefaults()
	inv := &Invalidator{
		cfg:       cfg,
		observer:  notify.NoopObserver{},
		caches:    make(map[string]CallbackFunc),
		cacheKeys: make(map[string]map[string]struct{}),
		nodeDeps:  make(map[string]map[keyRef]struct{}),
		edgeDeps:  make(map[string]map[keyRef]struct{}),
		pending:   make(map[string]graph.ChangeEvent),
	}
	inv.installBuiltinRules()
	return inv
}

// WithLogger sets the logger and returns the invalidator for chaining.
// A nil logger disables logging.
func (inv *Invalidator) WithLogger(logger *slog.Logger) *Invalidator {
	inv.logger = logger
	return inv
}

// WithObserver sets the notification observer and returns the invalidator
// for chaining. A nil observer disables notifications.
func (inv *Invalidator) WithObserver(obs notify.Observer) *Invalidator {
	if obs == nil {
		obs = notify.NoopObserver{}
	}
	inv.observer = obs
	return inv
}

func (inv *Invalidator) installBuiltinRules() {
	inv.rules = []Rule{
		{
			ID:       "node-dependency",
			Priority: 100,
			Matches:  func(ev graph.ChangeEvent) bool { return ev.Type.IsNodeEvent() },
			Select:   func(ev graph.ChangeEvent) []string { return inv.keysForNode(ev.NodeID) },
		},
		{
			ID:       "edge-dependency",
			Priority: 100,
			Matches:  func(ev graph.ChangeEvent) bool { return ev.Type.IsEdgeEvent() },
			Select:   func(ev graph.ChangeEvent) []string { return inv.keysForEdge(ev.EdgeID) },
		},
		{
			// An edge change affects entries cached against either endpoint
			// node, not just the edge itself.
			ID:       "edge-endpoints",
			Priority: 90,
			Matches: func(ev graph.ChangeEvent) bool {
				return ev.Type.IsEdgeEvent() && (ev.SourceID != "" || ev.TargetID != "")
			},
			Select: func(ev graph.ChangeEvent) []string {
				keys := inv.keysForNode(ev.SourceID)
				return append(keys, inv.keysForNode(ev.TargetID)...)
			},
		},
	}
}

func (inv *Invalidator) keysForNode(nodeID string) []string {
	if nodeID == "" {
		return nil
	}
	var keys []string
	for ref := range inv.nodeDeps[nodeID] {
		keys = append(keys, ref.key)
	}
	return keys
}

func (inv *Invalidator) keysForEdge(edgeID string) []string {
	if edgeID == "" {
		return nil
	}
	var keys []string
	for ref := range inv.edgeDeps[edgeID] {
		keys = append(keys, ref.key)
	}
	return keys
}

// RegisterCache registers a cache and its invalidation callback.
// Re-registering an id replaces the callback but keeps registered keys.
func (inv *Invalidator) RegisterCache(id string, fn CallbackFunc) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.caches[id] = fn
	if inv.cacheKeys[id] == nil {
		inv.cacheKeys[id] = make(map[string]struct{})
	}
}

// UnregisterCache removes a cache and all its key registrations.
func (inv *Invalidator) UnregisterCache(id string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.caches, id)
	delete(inv.cacheKeys, id)
	for _, deps := range []map[string]map[keyRef]struct{}{inv.nodeDeps, inv.edgeDeps} {
		for entityID, refs := range deps {
			for ref := range refs {
				if ref.cacheID == id {
					delete(refs, ref)
				}
			}
			if len(refs) == 0 {
				delete(deps, entityID)
			}
		}
	}
}

// RegisterCacheKey records a cache entry's explicit node/edge
// dependencies. The owning cache must already be registered.
func (inv *Invalidator) RegisterCacheKey(cacheID, key string, deps Deps) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.cacheKeys[cacheID] == nil {
		inv.cacheKeys[cacheID] = make(map[string]struct{})
	}
	inv.cacheKeys[cacheID][key] = struct{}{}

	ref := keyRef{cacheID: cacheID, key: key}
	for _, nodeID := range deps.Nodes {
		if inv.nodeDeps[nodeID] == nil {
			inv.nodeDeps[nodeID] = make(map[keyRef]struct{})
		}
		inv.nodeDeps[nodeID][ref] = struct{}{}
	}
	for _, edgeID := range deps.Edges {
		if inv.edgeDeps[edgeID] == nil {
			inv.edgeDeps[edgeID] = make(map[keyRef]struct{})
		}
		inv.edgeDeps[edgeID][ref] = struct{}{}
	}
}

// UnregisterCacheKey removes a cache entry and its dependency links.
func (inv *Invalidator) UnregisterCacheKey(cacheID, key string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if keys, ok := inv.cacheKeys[cacheID]; ok {
		delete(keys, key)
	}
	ref := keyRef{cacheID: cacheID, key: key}
	for _, deps := range []map[string]map[keyRef]struct{}{inv.nodeDeps, inv.edgeDeps} {
		for entityID, refs := range deps {
			delete(refs, ref)
			if len(refs) == 0 {
				delete(deps, entityID)
			}
		}
	}
}

// AddRule installs a custom rule, keeping the rule list in descending
// priority order.
func (inv *Invalidator) AddRule(rule Rule) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.rules = append(inv.rules, rule)
	sort.SliceStable(inv.rules, func(i, j int) bool {
		return inv.rules[i].Priority > inv.rules[j].Priority
	})
}

// RemoveRule removes a rule by id.
func (inv *Invalidator) RemoveRule(id string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for i, rule := range inv.rules {
		if rule.ID == id {
			inv.rules = append(inv.rules[:i], inv.rules[i+1:]...)
			return
		}
	}
}

// ProcessChange dispatches one mutation per the configured delivery
// strategy. Invalid events are dropped with a warning.
func (inv *Invalidator) ProcessChange(ev graph.ChangeEvent) {
	if !ev.Type.Valid() {
		if inv.logger != nil {
			inv.logger.Warn("dropping change with unknown event type", "type", string(ev.Type))
		}
		return
	}

	switch inv.cfg.Strategy {
	case DeliverImmediate:
		inv.flushChanges([]graph.ChangeEvent{ev})
	case DeliverBatched:
		inv.enqueue(ev, false)
	case DeliverDeferred:
		inv.enqueue(ev, true)
	}
}

// enqueue adds a change to the pending set, deduplicating by entity id
// (the latest timestamped change wins). reset restarts the timer on every
// change (deferred); otherwise the window runs from the first pending
// change (batched).
func (inv *Invalidator) enqueue(ev graph.ChangeEvent, reset bool) {
	inv.mu.Lock()

	id := ev.EntityID()
	if prev, ok := inv.pending[id]; !ok || !ev.Timestamp.Before(prev.Timestamp) {
		inv.pending[id] = ev
	}

	overflow := len(inv.pending) >= inv.cfg.MaxPendingChanges

	delay := inv.cfg.BatchWindow
	if reset {
		delay = inv.cfg.DeferDelay
	}
	if reset && inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}
	if inv.timer == nil && !overflow {
		inv.timer = time.AfterFunc(delay, inv.Flush)
	}
	inv.mu.Unlock()

	if overflow {
		inv.Flush()
	}
}

// Flush forces immediate processing of all pending changes and cancels
// any scheduled timer.
func (inv *Invalidator) Flush() {
	inv.mu.Lock()
	if inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}
	if len(inv.pending) == 0 {
		inv.mu.Unlock()
		return
	}
	changes := make([]graph.ChangeEvent, 0, len(inv.pending))
	for _, ev := range inv.pending {
		changes = append(changes, ev)
	}
	inv.pending = make(map[string]graph.ChangeEvent)
	inv.mu.Unlock()

	// Stable order keeps callback batches deterministic.
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Timestamp.Equal(changes[j].Timestamp) {
			return changes[i].EntityID() < changes[j].EntityID()
		}
		return changes[i].Timestamp.Before(changes[j].Timestamp)
	})

	inv.flushChanges(changes)
}

// Clear cancels pending timers and drops accumulated changes without
// processing them.
func (inv *Invalidator) Clear() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}
	inv.pending = make(map[string]graph.ChangeEvent)
}

// PendingCount returns the number of deduplicated pending changes.
func (inv *Invalidator) PendingCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.pending)
}

// flushChanges runs rule matching for every change, unions the selected
// keys, groups them by owning cache, and invokes each cache's callback
// exactly once. Callbacks run outside the lock.
func (inv *Invalidator) flushChanges(changes []graph.ChangeEvent) {
	if len(changes) == 0 {
		return
	}

	inv.mu.Lock()
	selected := make(map[string]struct{})
	for _, ev := range changes {
		for _, rule := range inv.rules {
			if rule.Matches == nil || !rule.Matches(ev) {
				continue
			}
			for _, key := range rule.Select(ev) {
				selected[key] = struct{}{}
			}
		}
	}

	// A key may be registered in multiple caches; each owner gets it.
	byCache := make(map[string][]string)
	for key := range selected {
		for cacheID, keys := range inv.cacheKeys {
			if _, ok := keys[key]; ok {
				byCache[cacheID] = append(byCache[cacheID], key)
			}
		}
	}
	callbacks := make(map[string]CallbackFunc, len(byCache))
	for cacheID := range byCache {
		sort.Strings(byCache[cacheID])
		callbacks[cacheID] = inv.caches[cacheID]
	}
	inv.mu.Unlock()

	if len(byCache) == 0 {
		return
	}

	total := 0
	for cacheID, keys := range byCache {
		if fn := callbacks[cacheID]; fn != nil {
			fn(keys)
		}
		total += len(keys)
	}

	if inv.logger != nil {
		inv.logger.Debug("caches invalidated", "caches", len(byCache), "keys", total)
	}

	n := &notify.Notification{
		Timestamp: time.Now(),
		Change:    changes[len(changes)-1],
		Keys:      byCache,
		KeyCount:  total,
	}
	if err := inv.observer.Notify(context.Background(), n); err != nil && inv.logger != nil {
		inv.logger.Warn("notification delivery failed", "error", err)
	}
}

// Drain consumes change events from a typed channel in arrival order
// until the channel closes or the context is canceled. This decouples
// delivery timing from the mutation source; batching and deferral stay a
// consumer-side concern.
func (inv *Invalidator) Drain(ctx context.Context, events <-chan graph.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			inv.ProcessChange(ev)
		}
	}
}
