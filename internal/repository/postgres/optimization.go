package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"argus/internal/domain/optimization"
	"argus/internal/metrics"
	"argus/pkg/errors"
)

// Compile-time check
var _ optimization.Ledger = (*OptimizationRepository)(nil)

// OptimizationRepository implements optimization.Ledger using sqlx.
// Recommendations get exactly one in-place update (the guarded status
// transition); results are insert-only.
type OptimizationRepository struct {
	db *sqlx.DB
}

// NewOptimizationRepository creates a new optimization ledger repository
func NewOptimizationRepository(db *sqlx.DB) *OptimizationRepository {
	return &OptimizationRepository{db: db}
}

// CreateRecommendation appends a new pending recommendation
func (r *OptimizationRepository) CreateRecommendation(ctx context.Context, rec *optimization.Recommendation) error {
	query := `
		INSERT INTO optimization_recommendations (
			id, title, description, category, priority,
			estimated_savings_per_request, estimated_savings_percentage,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Description, rec.Category, rec.Priority,
		rec.EstimatedSavingsPerRequest, rec.EstimatedSavingsPercentage,
		rec.Status, rec.CreatedAt,
	)
	observeWrite("recommendation", err)

	return errors.Wrap(err, "insert recommendation")
}

// GetRecommendation retrieves a recommendation by id
func (r *OptimizationRepository) GetRecommendation(ctx context.Context, id string) (*optimization.Recommendation, error) {
	var rec optimization.Recommendation

	query := `SELECT * FROM optimization_recommendations WHERE id = $1`

	err := r.db.GetContext(ctx, &rec, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "recommendation %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get recommendation %s", id)
	}

	return &rec, nil
}

// ListRecommendations returns all recommendations, newest first
func (r *OptimizationRepository) ListRecommendations(ctx context.Context) ([]*optimization.Recommendation, error) {
	var recs []*optimization.Recommendation

	query := `SELECT * FROM optimization_recommendations ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, errors.Wrap(err, "list recommendations")
	}

	return recs, nil
}

// MarkImplemented performs the pending -> implemented transition as a
// compare-and-swap on status. Concurrent calls for the same id serialize on
// the row; exactly one wins.
func (r *OptimizationRepository) MarkImplemented(ctx context.Context, id string, baseline optimization.BaselineMetrics, implementedAt time.Time) (*optimization.Recommendation, error) {
	query := `
		UPDATE optimization_recommendations
		SET status = $2, baseline_metrics = $3, implemented_at = $4
		WHERE id = $1 AND status = $5`

	res, err := r.db.ExecContext(ctx, query,
		id, optimization.StatusImplemented, baseline, implementedAt, optimization.StatusPending,
	)
	if err != nil {
		observeWrite("recommendation", err)
		return nil, errors.Wrapf(err, "mark recommendation %s implemented", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "rows affected")
	}

	observeWrite("recommendation", nil)

	if affected == 0 {
		// Lost the CAS: either the id is unknown or it was already implemented
		rec, err := r.GetRecommendation(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrInvalidState, "recommendation %s already %s", id, rec.Status)
	}

	return r.GetRecommendation(ctx, id)
}

// AppendResult appends an immutable measurement result
func (r *OptimizationRepository) AppendResult(ctx context.Context, res *optimization.Result) error {
	query := `
		INSERT INTO optimization_results (
			id, recommendation_id, period_days, measured_from, measured_to,
			before_cost, after_cost, actual_savings, roi_percentage,
			request_count, confidence_score, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := r.db.ExecContext(ctx, query,
		res.ID, res.RecommendationID, res.PeriodDays, res.MeasuredFrom, res.MeasuredTo,
		res.BeforeCost, res.AfterCost, res.ActualSavings, res.ROIPercentage,
		res.RequestCount, res.ConfidenceScore, res.CreatedAt,
	)
	observeWrite("result", err)

	return errors.Wrap(err, "insert result")
}

// observeWrite records a ledger write attempt by record kind and outcome
func observeWrite(record string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LedgerWrites.WithLabelValues(record, status).Inc()
}

// ResultsOverlapping returns results whose measurement period overlaps
// [since, now], joined with recommendation reporting fields
func (r *OptimizationRepository) ResultsOverlapping(ctx context.Context, since time.Time) ([]optimization.ResultRecord, error) {
	var records []optimization.ResultRecord

	query := `
		SELECT
			res.id, res.recommendation_id, res.period_days,
			res.measured_from, res.measured_to,
			res.before_cost, res.after_cost, res.actual_savings, res.roi_percentage,
			res.request_count, res.confidence_score, res.created_at,
			rec.title, rec.category
		FROM optimization_results res
		JOIN optimization_recommendations rec ON rec.id = res.recommendation_id
		WHERE res.measured_to >= $1
		ORDER BY res.created_at ASC, res.id ASC`

	if err := r.db.SelectContext(ctx, &records, query, since); err != nil {
		return nil, errors.Wrap(err, "query overlapping results")
	}

	return records, nil
}
