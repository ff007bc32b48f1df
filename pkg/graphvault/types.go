package graphvault

import (
	"github.com/graphvault/graphvault/pkg/conflict"
	"github.com/graphvault/graphvault/pkg/graph"
	"github.com/graphvault/graphvault/pkg/planner"
	"github.com/graphvault/graphvault/pkg/snapshot"
)

// Type re-exports for caller convenience

// Data is re-exported from graph package
type Data = graph.Data

// Entity is re-exported from graph package
type Entity = graph.Entity

// Snapshot is re-exported from snapshot package
type Snapshot = snapshot.Snapshot

// StoreOptions is re-exported from snapshot package
type StoreOptions = snapshot.StoreOptions

// Query is re-exported from planner package
type Query = planner.Query

// PlanNode is re-exported from planner package
type PlanNode = planner.PlanNode

// ChangeSet is re-exported from conflict package
type ChangeSet = conflict.ChangeSet

// Strategy is re-exported from conflict package
type Strategy = conflict.Strategy

// Strategy constants re-exported from conflict package
const (
	StrategyLastWriteWins = conflict.StrategyLastWriteWins
	StrategyManual        = conflict.StrategyManual
	StrategyCustom        = conflict.StrategyCustom
)
