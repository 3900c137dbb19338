package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/domain/optimization"
	"argus/internal/metrics"
	"argus/internal/testsupport"
	pkgerrors "argus/pkg/errors"
)

const ledgerSchema = `
	CREATE TABLE IF NOT EXISTS optimization_recommendations (
		id                            UUID PRIMARY KEY,
		title                         TEXT NOT NULL,
		description                   TEXT NOT NULL DEFAULT '',
		category                      TEXT NOT NULL,
		priority                      TEXT NOT NULL DEFAULT 'medium',
		status                        TEXT NOT NULL DEFAULT 'pending',
		estimated_savings_per_request DOUBLE PRECISION NOT NULL DEFAULT 0,
		estimated_savings_percentage  DOUBLE PRECISION NOT NULL,
		baseline_metrics              JSONB,
		implemented_at                TIMESTAMPTZ,
		created_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS optimization_results (
		id                UUID PRIMARY KEY,
		recommendation_id UUID NOT NULL REFERENCES optimization_recommendations (id),
		before_cost       NUMERIC(18, 6) NOT NULL,
		after_cost        NUMERIC(18, 6) NOT NULL,
		actual_savings    NUMERIC(18, 6) NOT NULL,
		roi_percentage    NUMERIC(18, 6),
		measured_from     TIMESTAMPTZ NOT NULL,
		measured_to       TIMESTAMPTZ NOT NULL,
		period_days       INTEGER NOT NULL,
		request_count     BIGINT NOT NULL DEFAULT 0,
		confidence_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

func setupLedger(t *testing.T) *OptimizationRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	helper := testsupport.NewTestPostgres(t)
	helper.Rollback() // repository works on the raw handle, not the tx

	db := helper.DB()
	if _, err := db.Exec(ledgerSchema); err != nil {
		t.Fatalf("failed to create ledger schema: %v", err)
	}

	return NewOptimizationRepository(db)
}

func pendingRecommendation() *optimization.Recommendation {
	return &optimization.Recommendation{
		ID:                         uuid.NewString(),
		Title:                      "Cache frequent prompts",
		Description:                "Top 20 prompts account for half the volume",
		Category:                   "caching",
		Priority:                   optimization.PriorityHigh,
		EstimatedSavingsPercentage: 40,
		Status:                     optimization.StatusPending,
		CreatedAt:                  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func cleanupRecommendation(t *testing.T, repo *OptimizationRepository, id string) {
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = repo.db.ExecContext(ctx, "DELETE FROM optimization_results WHERE recommendation_id = $1", id)
		_, _ = repo.db.ExecContext(ctx, "DELETE FROM optimization_recommendations WHERE id = $1", id)
	})
}

func TestOptimizationRepository_CreateAndGet(t *testing.T) {
	repo := setupLedger(t)
	ctx := context.Background()

	rec := pendingRecommendation()
	cleanupRecommendation(t, repo, rec.ID)

	require.NoError(t, repo.CreateRecommendation(ctx, rec))

	got, err := repo.GetRecommendation(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, optimization.StatusPending, got.Status)
	assert.Nil(t, got.Baseline)
	assert.Nil(t, got.ImplementedAt)
}

func TestOptimizationRepository_GetUnknown(t *testing.T) {
	repo := setupLedger(t)

	_, err := repo.GetRecommendation(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestOptimizationRepository_MarkImplemented(t *testing.T) {
	repo := setupLedger(t)
	ctx := context.Background()

	rec := pendingRecommendation()
	cleanupRecommendation(t, repo, rec.ID)
	require.NoError(t, repo.CreateRecommendation(ctx, rec))

	baseline := optimization.BaselineMetrics{
		CostPerRequest: 0.008,
		RequestCount:   7000,
		PeriodStart:    time.Now().UTC().Add(-7 * 24 * time.Hour).Truncate(time.Microsecond),
	}
	implementedAt := time.Now().UTC().Truncate(time.Microsecond)

	got, err := repo.MarkImplemented(ctx, rec.ID, baseline, implementedAt)
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusImplemented, got.Status)
	require.NotNil(t, got.Baseline)
	assert.Equal(t, baseline.CostPerRequest, got.Baseline.CostPerRequest)
	assert.Equal(t, baseline.RequestCount, got.Baseline.RequestCount)
	require.NotNil(t, got.ImplementedAt)

	// Second transition loses the compare-and-swap
	_, err = repo.MarkImplemented(ctx, rec.ID, baseline, implementedAt)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)

	// Record untouched by the losing attempt
	again, err := repo.GetRecommendation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Baseline.PeriodStart.Unix(), again.Baseline.PeriodStart.Unix())
}

func TestOptimizationRepository_MarkImplementedUnknown(t *testing.T) {
	repo := setupLedger(t)

	_, err := repo.MarkImplemented(context.Background(), uuid.NewString(), optimization.BaselineMetrics{
		PeriodStart: time.Now().UTC(),
	}, time.Now().UTC())
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestOptimizationRepository_WriteCounters(t *testing.T) {
	repo := setupLedger(t)
	ctx := context.Background()

	rec := pendingRecommendation()
	cleanupRecommendation(t, repo, rec.ID)

	recBefore := testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("recommendation", "success"))
	resBefore := testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("result", "success"))
	errBefore := testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("result", "error"))

	require.NoError(t, repo.CreateRecommendation(ctx, rec))

	baseline := optimization.BaselineMetrics{
		CostPerRequest: 0.008,
		PeriodStart:    time.Now().UTC().Add(-7 * 24 * time.Hour),
	}
	_, err := repo.MarkImplemented(ctx, rec.ID, baseline, time.Now().UTC())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.AppendResult(ctx, &optimization.Result{
		ID:               uuid.NewString(),
		RecommendationID: rec.ID,
		PeriodDays:       7,
		MeasuredFrom:     now.Add(-7 * 24 * time.Hour),
		MeasuredTo:       now,
		BeforeCost:       decimal.NewFromFloat(56.0),
		AfterCost:        decimal.NewFromFloat(33.6),
		ActualSavings:    decimal.NewFromFloat(22.4),
		CreatedAt:        now,
	}))

	// Insert and CAS update each count as a recommendation write
	assert.InDelta(t, recBefore+2, testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("recommendation", "success")), 0.001)
	assert.InDelta(t, resBefore+1, testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("result", "success")), 0.001)

	// A failed insert lands in the error bucket
	err = repo.AppendResult(ctx, &optimization.Result{
		ID:               uuid.NewString(),
		RecommendationID: uuid.NewString(), // violates the fk
		MeasuredFrom:     now,
		MeasuredTo:       now,
		CreatedAt:        now,
	})
	require.Error(t, err)
	assert.InDelta(t, errBefore+1, testutil.ToFloat64(metrics.LedgerWrites.WithLabelValues("result", "error")), 0.001)
}

func TestOptimizationRepository_ResultsOverlapping(t *testing.T) {
	repo := setupLedger(t)
	ctx := context.Background()

	rec := pendingRecommendation()
	cleanupRecommendation(t, repo, rec.ID)
	require.NoError(t, repo.CreateRecommendation(ctx, rec))

	now := time.Now().UTC().Truncate(time.Microsecond)
	baseline := optimization.BaselineMetrics{
		CostPerRequest: 0.008,
		PeriodStart:    now.Add(-60 * 24 * time.Hour),
	}
	_, err := repo.MarkImplemented(ctx, rec.ID, baseline, now.Add(-45*24*time.Hour))
	require.NoError(t, err)

	result := func(measuredTo time.Time, savings float64, createdAt time.Time) *optimization.Result {
		return &optimization.Result{
			ID:               uuid.NewString(),
			RecommendationID: rec.ID,
			PeriodDays:       7,
			MeasuredFrom:     measuredTo.Add(-7 * 24 * time.Hour),
			MeasuredTo:       measuredTo,
			BeforeCost:       decimal.NewFromFloat(56.0),
			AfterCost:        decimal.NewFromFloat(56.0 - savings),
			ActualSavings:    decimal.NewFromFloat(savings),
			CreatedAt:        createdAt,
		}
	}

	recent := result(now.Add(-24*time.Hour), 22.4, now.Add(-24*time.Hour))
	old := result(now.Add(-40*24*time.Hour), 5.0, now.Add(-40*24*time.Hour))

	require.NoError(t, repo.AppendResult(ctx, old))
	require.NoError(t, repo.AppendResult(ctx, recent))

	records, err := repo.ResultsOverlapping(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	ids := make(map[string]bool, len(records))
	for _, r := range records {
		ids[r.ID] = true
		if r.ID == recent.ID {
			assert.Equal(t, rec.Title, r.RecommendationTitle)
			assert.Equal(t, rec.Category, r.RecommendationCategory)
			assert.True(t, r.ActualSavings.Equal(decimal.NewFromFloat(22.4)))
			assert.Nil(t, r.ROIPercentage)
		}
	}

	assert.True(t, ids[recent.ID], "recent result should overlap the window")
	assert.False(t, ids[old.ID], "old result should fall outside the window")
}
