// Package notify carries invalidation notifications from the cache
// invalidator to external observers. This is the hook consuming caches use
// to learn they must refresh; what they do with it is out of scope here.
package notify

import (
	"context"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
)

// Notification records one completed invalidation: the triggering change
// and the cache keys that were invalidated, grouped by cache.
type Notification struct {
	// Timestamp is when the invalidation flush completed.
	Timestamp time.Time `json:"timestamp"`

	// Change is the graph mutation that triggered the invalidation. For a
	// batched flush this is the latest change of the flush cycle.
	Change graph.ChangeEvent `json:"change"`

	// Keys maps cache id to the keys invalidated in that cache.
	Keys map[string][]string `json:"keys"`

	// KeyCount is the total number of invalidated keys across caches.
	KeyCount int `json:"key_count"`
}

// Observer receives invalidation notifications.
// Implementations must be safe for concurrent use.
type Observer interface {
	// Notify delivers one notification. Returns error if delivery fails.
	Notify(ctx context.Context, n *Notification) error

	// Close flushes any buffered notifications and releases resources.
	Close() error
}

// NoopObserver discards all notifications. Used when no observer is
// configured.
type NoopObserver struct{}

// Notify does nothing.
func (NoopObserver) Notify(context.Context, *Notification) error { return nil }

// Close does nothing.
func (NoopObserver) Close() error { return nil }

// FuncObserver adapts a plain function into an Observer, for callers that
// just want a callback.
type FuncObserver func(*Notification)

// Notify invokes the wrapped function.
func (f FuncObserver) Notify(_ context.Context, n *Notification) error {
	f(n)
	return nil
}

// Close does nothing.
func (f FuncObserver) Close() error { return nil }
