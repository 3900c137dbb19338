package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"golang.org/x/time/rate"

	"argus/internal/domain/metricstore"
	"argus/internal/metrics"
	"argus/pkg/errors"
)

// Compile-time check
var _ metricstore.Source = (*MetricSource)(nil)

// metricExprs maps exposed metric names to aggregate expressions over the
// llm_requests table. Sum for additive metrics, average for per-request ones.
var metricExprs = map[string]string{
	"cost_usd":          "sum(cost_usd)",
	"cost_per_request":  "avg(cost_usd)",
	"latency_ms":        "avg(latency_ms)",
	"prompt_tokens":     "sum(prompt_tokens)",
	"completion_tokens": "sum(completion_tokens)",
	"total_tokens":      "sum(prompt_tokens + completion_tokens)",
	"request_count":     "toFloat64(count())",
	"quality_score":     "avg(quality_score)",
}

// dimensions that may appear in a GROUP BY. Guards against interpolating
// caller input into SQL.
var breakdownDimensions = map[string]bool{
	"endpoint":     true,
	"model":        true,
	"request_type": true,
}

// MetricSource implements metricstore.Source over the llm_requests table.
// All queries pass through a client-side rate limiter since attribution
// fans out 2 + 2*len(dimensions) queries per call.
type MetricSource struct {
	conn    driver.Conn
	limiter *rate.Limiter
}

// NewMetricSource creates a metric source with the given query budget.
func NewMetricSource(conn driver.Conn, queriesPerMinute int) *MetricSource {
	rps := float64(queriesPerMinute) / 60.0

	burst := queriesPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &MetricSource{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Aggregate returns the scalar aggregate of a metric over a window
func (s *MetricSource) Aggregate(ctx context.Context, metric string, w metricstore.Window) (float64, error) {
	expr, err := exprFor(metric)
	if err != nil {
		return 0, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrap(err, "metric query rate limiter")
	}

	query := fmt.Sprintf(`
		SELECT %s AS value, count() AS samples
		FROM llm_requests
		WHERE timestamp >= ? AND timestamp < ?`, expr)

	start := time.Now()

	var value float64
	var samples uint64
	row := s.conn.QueryRow(ctx, query, w.Start, w.End)
	if err := row.Scan(&value, &samples); err != nil {
		metrics.MetricStoreQueries.WithLabelValues("aggregate", "error").Inc()
		return 0, mapQueryErr(err, metric)
	}

	metrics.MetricStoreQueries.WithLabelValues("aggregate", "success").Inc()
	metrics.MetricStoreQueryDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())

	if samples == 0 {
		return 0, errors.Wrapf(errors.ErrNoData, "metric %s in [%s, %s)", metric, w.Start, w.End)
	}

	return value, nil
}

// Breakdown returns the aggregate grouped by a categorical dimension.
// Dimension values with no samples in the window are omitted.
func (s *MetricSource) Breakdown(ctx context.Context, metric string, w metricstore.Window, dimension string) ([]metricstore.BreakdownRow, error) {
	expr, err := exprFor(metric)
	if err != nil {
		return nil, err
	}

	if !breakdownDimensions[dimension] {
		return nil, errors.NewValidationError("dimension", "unknown breakdown dimension", dimension)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "metric query rate limiter")
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS value,
			%s AS aggregate,
			count() AS sample_count
		FROM llm_requests
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY value
		ORDER BY aggregate DESC`, dimension, expr)

	start := time.Now()

	var rows []metricstore.BreakdownRow
	if err := s.conn.Select(ctx, &rows, query, w.Start, w.End); err != nil {
		metrics.MetricStoreQueries.WithLabelValues("breakdown", "error").Inc()
		return nil, mapQueryErr(err, metric)
	}

	metrics.MetricStoreQueries.WithLabelValues("breakdown", "success").Inc()
	metrics.MetricStoreQueryDuration.WithLabelValues("breakdown").Observe(time.Since(start).Seconds())

	return rows, nil
}

func exprFor(metric string) (string, error) {
	expr, ok := metricExprs[metric]
	if !ok {
		return "", errors.NewValidationError("metric_name", "unknown metric", metric)
	}
	return expr, nil
}

// mapQueryErr converts deadline errors into the typed query timeout error so
// callers never mistake a timeout for missing data
func mapQueryErr(err error, metric string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(errors.ErrQueryTimeout, "metric %s: %v", metric, err)
	}
	return errors.Wrapf(err, "query metric %s", metric)
}
