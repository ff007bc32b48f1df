package metrics

import "context"

// NoopCollector is a no-op implementation used when metrics collection is
// disabled. It is the default collector until WithMetrics installs a real
// one.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing when metrics are disabled
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordStage does nothing when metrics are disabled
func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

// RecordError does nothing when metrics are disabled
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

// SetResourceCount does nothing when metrics are disabled
func (n *NoopCollector) SetResourceCount(ctx context.Context, resource string, count int64) {
}
