package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/internal/domain/attribution"
	"argus/internal/testsupport"
)

func setupLog(t *testing.T) *AttributionLog {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	configs := testsupport.LoadDatabaseConfigsFromEnv(t)
	client := testsupport.NewRedisClient(t, configs.Redis)

	return NewAttributionLog(client)
}

func sampleAttribution(metric string, ts time.Time) *attribution.Attribution {
	return &attribution.Attribution{
		MetricName:       metric,
		AnomalyTimestamp: ts,
		BaselineValue:    0.008,
		AnomalousValue:   0.015,
		ChangePercentage: 87.5,
		PrimaryCause: &attribution.Factor{
			Dimension:              "endpoint",
			Name:                   "/api/stress",
			ContributionPercentage: 85.7,
			Confidence:             0.77,
			SampleCount:            450,
		},
		AffectedResources: map[string][]string{"endpoint": {"/api/stress"}},
		Summary:           "Anomaly caused by 300.0% increase in endpoint '/api/stress' (Confidence: 77%)",
	}
}

func TestAttributionLog_AppendAndRecent(t *testing.T) {
	log := setupLog(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	first := sampleAttribution("cost_per_request", ts)
	second := sampleAttribution("latency_ms", ts.Add(time.Hour))

	require.NoError(t, log.Append(ctx, first))
	require.NoError(t, log.Append(ctx, second))

	recent, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first
	assert.Equal(t, "latency_ms", recent[0].MetricName)
	assert.Equal(t, "cost_per_request", recent[1].MetricName)

	require.NotNil(t, recent[1].PrimaryCause)
	assert.Equal(t, "/api/stress", recent[1].PrimaryCause.Name)
	assert.True(t, recent[1].AnomalyTimestamp.Equal(ts))
}

func TestAttributionLog_TrimsToCap(t *testing.T) {
	log := setupLog(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	for i := 0; i < maxLogged+20; i++ {
		att := sampleAttribution(fmt.Sprintf("metric_%d", i), ts)
		require.NoError(t, log.Append(ctx, att))
	}

	recent, err := log.Recent(ctx, 0) // zero limit falls back to the cap
	require.NoError(t, err)
	assert.Len(t, recent, maxLogged)

	// The oldest entries were trimmed away
	assert.Equal(t, fmt.Sprintf("metric_%d", maxLogged+19), recent[0].MetricName)
}
