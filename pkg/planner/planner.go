package planner

import (
	"errors"
	"log/slog"
	"math"
	"sync"
)

// Per-row cost factors. Constants are tuned relatively, not absolutely:
// index lookups are logarithmic, scans and filters linear.
const (
	indexCostFactor  = 1.0
	scanCostFactor   = 1.0
	filterCostFactor = 0.1
)

// ErrUnsupportedQuery indicates the AST's query type is not "match".
var ErrUnsupportedQuery = errors.New("unsupported query type")

// Config controls the planner.
type Config struct {
	// MaxPlanCacheSize bounds the plan cache. 0 disables caching.
	MaxPlanCacheSize int `validate:"min=0"`
}

// Stats carries graph statistics used for cardinality estimation.
type Stats struct {
	TotalNodes          int64            `json:"total_nodes"`
	NodeCountByType     map[string]int64 `json:"node_count_by_type,omitempty"`
	DistinctIndexValues map[string]int64 `json:"distinct_index_values,omitempty"`
}

// CacheStats reports plan cache activity.
type CacheStats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Planner converts match queries into cost-estimated execution plans. It
// owns its plan cache and index registry independently of graph data.
// Safe for concurrent use.
type Planner struct {
	logger *slog.Logger

	mu      sync.Mutex
	cfg     Config
	indexes map[string]bool
	stats   Stats
	cache   *planCache
}

// New creates a planner with an empty index registry and default
// statistics (zero nodes).
func New(cfg Config) *Planner {
	return &Planner{
		cfg:     cfg,
		indexes: make(map[string]bool),
		cache:   newPlanCache(cfg.MaxPlanCacheSize),
	}
}

// WithLogger sets the logger and returns the planner for chaining.
// A nil logger disables logging.
func (p *Planner) WithLogger(logger *slog.Logger) *Planner {
	p.logger = logger
	return p
}

// RegisterIndex declares an index on a node property, making index-lookup
// plans available for it. The plan cache is invalidated since cached scan
// plans may no longer be the cheapest choice.
func (p *Planner) RegisterIndex(property string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indexes[property] = true
	p.cache.purge()
}

// DropIndex removes an index registration and invalidates the plan cache.
func (p *Planner) DropIndex(property string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.indexes, property)
	p.cache.purge()
}

// UpdateStats replaces the graph statistics and invalidates the entire
// plan cache: stale cost estimates are worse than a cache miss.
func (p *Planner) UpdateStats(stats Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = stats
	p.cache.purge()
	if p.logger != nil {
		p.logger.Debug("planner statistics updated", "total_nodes", stats.TotalNodes)
	}
}

// Optimize produces the cheapest estimated plan for a match query in
// three phases: logical optimization (predicate pushdown), physical plan
// generation (index-lookup candidates plus a sequential-scan fallback),
// and cost-based selection over total plan cost.
func (p *Planner) Optimize(q Query) (*PlanNode, error) {
	if q.Type != "" && q.Type != "match" {
		return nil, ErrUnsupportedQuery
	}

	key := canonicalKey(q)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached := p.cache.get(key); cached != nil {
		return cached, nil
	}

	logical := pushDownPredicates(q)
	logical = reorderJoins(logical)
	logical = eliminateDeadOperations(logical)

	candidates := p.physicalPlans(logical)

	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.TotalCost() < best.TotalCost() {
			best = candidate
		}
	}

	p.cache.put(key, best)
	return best, nil
}

// pushDownPredicates moves simple equality predicates from the where
// clause into the pattern's property filter, eliminating redundant
// post-filters.
func pushDownPredicates(q Query) Query {
	out := q
	out.Pattern.Properties = make(map[string]any, len(q.Pattern.Properties))
	for k, v := range q.Pattern.Properties {
		out.Pattern.Properties[k] = v
	}
	out.Where = nil

	for _, pred := range q.Where {
		if pred.Operator == OpEq {
			if _, exists := out.Pattern.Properties[pred.Property]; !exists {
				out.Pattern.Properties[pred.Property] = pred.Value
				continue
			}
		}
		out.Where = append(out.Where, pred)
	}
	return out
}

// reorderJoins is an extension point for multi-pattern queries; a single
// match pattern has nothing to reorder.
func reorderJoins(q Query) Query { return q }

// eliminateDeadOperations is an extension point for removing operations
// whose output is never returned; currently a no-op.
func eliminateDeadOperations(q Query) Query { return q }

// physicalPlans generates candidate plans for a logically optimized
// query. Caller holds p.mu.
func (p *Planner) physicalPlans(q Query) []*PlanNode {
	plans := []*PlanNode{p.scanPlan(q)}

	for prop := range q.Pattern.Properties {
		if p.indexes[prop] {
			plans = append(plans, p.indexPlan(q, prop))
		}
	}
	return plans
}

// defaultTotalNodes is assumed until UpdateStats supplies real counts, so
// cost comparison stays meaningful on a fresh planner.
const defaultTotalNodes = 1000

func (p *Planner) totalNodes() float64 {
	if p.stats.TotalNodes > 0 {
		return float64(p.stats.TotalNodes)
	}
	return defaultTotalNodes
}

// scanPlan is the sequential-scan fallback, always available.
func (p *Planner) scanPlan(q Query) *PlanNode {
	card := p.totalNodes()
	meta := map[string]any{}
	if q.Pattern.Type != "" {
		meta["node_type"] = q.Pattern.Type
		if byType, ok := p.stats.NodeCountByType[q.Pattern.Type]; ok {
			card = float64(byType)
		}
	}

	scan := &PlanNode{
		Type:                 NodeSequentialScan,
		EstimatedCost:        card * scanCostFactor,
		EstimatedCardinality: card,
		Metadata:             meta,
	}

	return wrapFilter(scan, len(q.Pattern.Properties)+len(q.Where))
}

// indexPlan looks up one indexed pattern property, filtering on whatever
// remains.
func (p *Planner) indexPlan(q Query, property string) *PlanNode {
	card := p.totalNodes()
	if distinct, ok := p.stats.DistinctIndexValues[property]; ok && distinct > 0 {
		card = p.totalNodes() / float64(distinct)
	}

	lookup := &PlanNode{
		Type:                 NodeIndexLookup,
		EstimatedCost:        math.Log2(card+1) * indexCostFactor,
		EstimatedCardinality: card,
		Metadata:             map[string]any{"property": property},
	}

	remaining := len(q.Pattern.Properties) - 1 + len(q.Where)
	return wrapFilter(lookup, remaining)
}

// wrapFilter layers a filter node over an access-path node when residual
// predicates exist. Filter selectivity defaults to 0.5 per predicate
// absent better statistics.
func wrapFilter(input *PlanNode, predicates int) *PlanNode {
	if predicates <= 0 {
		return input
	}
	selectivity := math.Pow(0.5, float64(predicates))
	return &PlanNode{
		Type:                 NodeFilter,
		EstimatedCost:        input.EstimatedCardinality * filterCostFactor,
		EstimatedCardinality: input.EstimatedCardinality * selectivity,
		Metadata:             map[string]any{"predicates": predicates},
		Children:             []*PlanNode{input},
	}
}

// CacheStats returns plan cache counters.
func (p *Planner) CacheStats() CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return CacheStats{
		Size:      p.cache.len(),
		Hits:      p.cache.hits,
		Misses:    p.cache.misses,
		Evictions: p.cache.evictions,
	}
}
