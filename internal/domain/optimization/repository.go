package optimization

import (
	"context"
	"time"
)

// Ledger is the append-oriented store of recommendations and results.
// Records are never deleted; the only in-place update is the guarded
// pending -> implemented transition.
type Ledger interface {
	// CreateRecommendation appends a new pending recommendation
	CreateRecommendation(ctx context.Context, rec *Recommendation) error

	// GetRecommendation returns a recommendation by id.
	// Returns errors.ErrNotFound for unknown ids.
	GetRecommendation(ctx context.Context, id string) (*Recommendation, error)

	// ListRecommendations returns all recommendations, newest first
	ListRecommendations(ctx context.Context) ([]*Recommendation, error)

	// MarkImplemented transitions a pending recommendation to implemented,
	// storing the baseline snapshot. The transition is compare-and-swap on
	// status: a second call for the same id returns errors.ErrInvalidState
	// and leaves the record untouched.
	MarkImplemented(ctx context.Context, id string, baseline BaselineMetrics, implementedAt time.Time) (*Recommendation, error)

	// AppendResult appends an immutable measurement result
	AppendResult(ctx context.Context, res *Result) error

	// ResultsOverlapping returns results whose measurement period overlaps
	// [since, now], joined with recommendation title and category
	ResultsOverlapping(ctx context.Context, since time.Time) ([]ResultRecord, error)
}
