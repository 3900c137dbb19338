package metricstore

import "context"

// Source answers read-only aggregate queries over emitted LLM request metrics.
// Both analysis engines consume it; neither writes through it.
type Source interface {
	// Aggregate returns the scalar aggregate of a metric over a window.
	// Returns errors.ErrNoData when no samples exist in range.
	Aggregate(ctx context.Context, metric string, w Window) (float64, error)

	// Breakdown returns the aggregate decomposed by a categorical dimension,
	// one row per dimension value observed in the window.
	Breakdown(ctx context.Context, metric string, w Window, dimension string) ([]BreakdownRow, error)
}
