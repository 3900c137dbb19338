package attribution

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/internal/domain/attribution"
	"argus/internal/domain/metricstore"
	pkgerrors "argus/pkg/errors"
	"argus/pkg/logger"
)

// MockSource is a mock for metricstore.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Aggregate(ctx context.Context, metric string, w metricstore.Window) (float64, error) {
	args := m.Called(ctx, metric, w)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockSource) Breakdown(ctx context.Context, metric string, w metricstore.Window, dimension string) ([]metricstore.BreakdownRow, error) {
	args := m.Called(ctx, metric, w, dimension)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]metricstore.BreakdownRow), args.Error(1)
}

func testLogger() *logger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLogger.Sugar()}
}

var (
	baselineWindow = metricstore.Window{
		Start: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC),
	}
	anomalyWindow = metricstore.Window{
		Start: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 10, 14, 15, 0, 0, time.UTC),
	}
)

func request(dimensions ...string) attribution.Request {
	return attribution.Request{
		MetricName:       "cost_per_request",
		AnomalyTimestamp: anomalyWindow.Start,
		BaselineWindow:   baselineWindow,
		AnomalyWindow:    anomalyWindow,
		Dimensions:       dimensions,
	}
}

func TestService_Attribute_RanksEndpointSpike(t *testing.T) {
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_per_request", baselineWindow).Return(0.008, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_per_request", anomalyWindow).Return(0.015, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_per_request", baselineWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/api/stress", Aggregate: 0.002, SampleCount: 400},
			{Value: "/api/qa", Aggregate: 0.006, SampleCount: 600},
		}, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_per_request", anomalyWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/api/stress", Aggregate: 0.008, SampleCount: 450},
			{Value: "/api/qa", Aggregate: 0.007, SampleCount: 550},
		}, nil)

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), request("endpoint"))
	require.NoError(t, err)

	assert.InDelta(t, 87.5, att.ChangePercentage, 1e-9)
	assert.False(t, att.LowConfidence)

	require.NotNil(t, att.PrimaryCause)
	assert.Equal(t, "endpoint", att.PrimaryCause.Dimension)
	assert.Equal(t, "/api/stress", att.PrimaryCause.Name)
	assert.InDelta(t, 300.0, att.PrimaryCause.ChangePercentage, 1e-9)
	assert.InDelta(t, 0.006/0.007*100, att.PrimaryCause.ContributionPercentage, 1e-9)

	require.Len(t, att.ContributingFactors, 1)
	assert.Equal(t, "/api/qa", att.ContributingFactors[0].Name)
	assert.InDelta(t, 0.001/0.007*100, att.ContributingFactors[0].ContributionPercentage, 1e-9)

	assert.Equal(t, []string{"/api/qa", "/api/stress"}, att.AffectedResources["endpoint"])

	assert.Contains(t, att.Summary, "increase in endpoint '/api/stress'")

	mockSource.AssertExpectations(t)
}

func TestService_Attribute_ContributionsNeverFabricated(t *testing.T) {
	// A value present only in the anomaly window must not yield Inf or NaN
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(10.0, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(18.0, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", baselineWindow, "model").
		Return([]metricstore.BreakdownRow{
			{Value: "gpt-4o", Aggregate: 10.0, SampleCount: 500},
		}, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", anomalyWindow, "model").
		Return([]metricstore.BreakdownRow{
			{Value: "gpt-4o", Aggregate: 10.0, SampleCount: 480},
			{Value: "o3-preview", Aggregate: 8.0, SampleCount: 40},
		}, nil)

	req := request("model")
	req.MetricName = "cost_usd"

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, att.PrimaryCause)
	assert.Equal(t, "o3-preview", att.PrimaryCause.Name)
	assert.InDelta(t, 100.0, att.PrimaryCause.ChangePercentage, 1e-9)
	assert.InDelta(t, 100.0, att.PrimaryCause.ContributionPercentage, 1e-9)

	for _, f := range append([]attribution.Factor{*att.PrimaryCause}, att.ContributingFactors...) {
		assert.False(t, math.IsInf(f.ChangePercentage, 0), "factor %s", f.Name)
		assert.False(t, math.IsNaN(f.ChangePercentage), "factor %s", f.Name)
		assert.False(t, math.IsNaN(f.ContributionPercentage), "factor %s", f.Name)
	}
}

func TestService_Attribute_ContributionsSumWithinDimension(t *testing.T) {
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(100.0, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(150.0, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", baselineWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/a", Aggregate: 40.0, SampleCount: 400},
			{Value: "/b", Aggregate: 35.0, SampleCount: 300},
			{Value: "/c", Aggregate: 25.0, SampleCount: 300},
		}, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", anomalyWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/a", Aggregate: 70.0, SampleCount: 420},
			{Value: "/b", Aggregate: 50.0, SampleCount: 310},
			{Value: "/c", Aggregate: 30.0, SampleCount: 290},
		}, nil)

	req := request("endpoint")
	req.MetricName = "cost_usd"

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, att.PrimaryCause)

	sum := att.PrimaryCause.ContributionPercentage
	for _, f := range att.ContributingFactors {
		sum += f.ContributionPercentage
	}
	assert.LessOrEqual(t, sum, 100.0+1e-9)
}

func TestService_Attribute_InsufficientData(t *testing.T) {
	t.Run("no baseline data", func(t *testing.T) {
		mockSource := new(MockSource)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).
			Return(0.0, pkgerrors.Wrap(pkgerrors.ErrNoData, "metric cost_usd"))

		req := request("endpoint")
		req.MetricName = "cost_usd"

		svc := NewService(mockSource, nil, Config{}, testLogger())

		_, err := svc.Attribute(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientData)
	})

	t.Run("zero baseline", func(t *testing.T) {
		mockSource := new(MockSource)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(0.0, nil)

		req := request("endpoint")
		req.MetricName = "cost_usd"

		svc := NewService(mockSource, nil, Config{}, testLogger())

		_, err := svc.Attribute(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientData)
	})

	t.Run("no aggregate change", func(t *testing.T) {
		mockSource := new(MockSource)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(10.0, nil)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(10.0, nil)

		req := request("endpoint")
		req.MetricName = "cost_usd"

		svc := NewService(mockSource, nil, Config{}, testLogger())

		_, err := svc.Attribute(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientData)
	})
}

func TestService_Attribute_Validation(t *testing.T) {
	svc := NewService(new(MockSource), nil, Config{}, testLogger())

	t.Run("empty metric name", func(t *testing.T) {
		req := request("endpoint")
		req.MetricName = ""

		_, err := svc.Attribute(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("no dimensions", func(t *testing.T) {
		_, err := svc.Attribute(context.Background(), request())
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("unset windows", func(t *testing.T) {
		req := request("endpoint")
		req.BaselineWindow = metricstore.Window{}

		_, err := svc.Attribute(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestService_Attribute_FailFastOnBreakdownError(t *testing.T) {
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(10.0, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(20.0, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", mock.Anything, "endpoint").
		Return(nil, pkgerrors.Wrap(pkgerrors.ErrQueryTimeout, "metric cost_usd"))
	mockSource.On("Breakdown", mock.Anything, "cost_usd", mock.Anything, "model").
		Return([]metricstore.BreakdownRow{}, nil).Maybe()

	req := request("endpoint", "model")
	req.MetricName = "cost_usd"

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), req)
	assert.ErrorIs(t, err, pkgerrors.ErrQueryTimeout)
	assert.Nil(t, att)
}

func TestService_Attribute_OppositeMovers(t *testing.T) {
	t.Run("excluded when the aggregate clearly moved", func(t *testing.T) {
		mockSource := new(MockSource)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(100.0, nil)
		mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(150.0, nil)
		mockSource.On("Breakdown", mock.Anything, "cost_usd", baselineWindow, "endpoint").
			Return([]metricstore.BreakdownRow{
				{Value: "/up", Aggregate: 50.0, SampleCount: 500},
				{Value: "/down", Aggregate: 50.0, SampleCount: 500},
			}, nil)
		mockSource.On("Breakdown", mock.Anything, "cost_usd", anomalyWindow, "endpoint").
			Return([]metricstore.BreakdownRow{
				{Value: "/up", Aggregate: 110.0, SampleCount: 600},
				{Value: "/down", Aggregate: 40.0, SampleCount: 400},
			}, nil)

		req := request("endpoint")
		req.MetricName = "cost_usd"

		svc := NewService(mockSource, nil, Config{}, testLogger())

		att, err := svc.Attribute(context.Background(), req)
		require.NoError(t, err)

		require.NotNil(t, att.PrimaryCause)
		assert.Equal(t, "/up", att.PrimaryCause.Name)
		assert.Empty(t, att.ContributingFactors)
		assert.NotContains(t, att.AffectedResources["endpoint"], "/down")
	})

	t.Run("retained when the aggregate barely moved", func(t *testing.T) {
		// Averaged metric, mix shift: every endpoint got cheaper while the
		// aggregate crept up. Direction is noise here, so the least-negative
		// mover still surfaces as primary instead of an empty attribution.
		mockSource := new(MockSource)
		mockSource.On("Aggregate", mock.Anything, "cost_per_request", baselineWindow).Return(0.008, nil)
		mockSource.On("Aggregate", mock.Anything, "cost_per_request", anomalyWindow).Return(0.00805, nil)
		mockSource.On("Breakdown", mock.Anything, "cost_per_request", baselineWindow, "endpoint").
			Return([]metricstore.BreakdownRow{
				{Value: "/a", Aggregate: 0.0080, SampleCount: 500},
				{Value: "/b", Aggregate: 0.0080, SampleCount: 500},
			}, nil)
		mockSource.On("Breakdown", mock.Anything, "cost_per_request", anomalyWindow, "endpoint").
			Return([]metricstore.BreakdownRow{
				{Value: "/a", Aggregate: 0.0075, SampleCount: 500},
				{Value: "/b", Aggregate: 0.0078, SampleCount: 500},
			}, nil)

		svc := NewService(mockSource, nil, Config{}, testLogger())

		att, err := svc.Attribute(context.Background(), request("endpoint"))
		require.NoError(t, err)

		require.NotNil(t, att.PrimaryCause)
		assert.Equal(t, "/b", att.PrimaryCause.Name)
		assert.True(t, att.LowConfidence)
	})
}

func TestService_Attribute_DeterministicTieBreak(t *testing.T) {
	rows := func(a, b float64, count uint64) []metricstore.BreakdownRow {
		return []metricstore.BreakdownRow{
			{Value: "/alpha", Aggregate: a, SampleCount: count},
			{Value: "/beta", Aggregate: b, SampleCount: count},
		}
	}

	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(100.0, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(140.0, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", baselineWindow, "endpoint").
		Return(rows(50.0, 50.0, 500), nil)
	mockSource.On("Breakdown", mock.Anything, "cost_usd", anomalyWindow, "endpoint").
		Return(rows(70.0, 70.0, 500), nil)

	req := request("endpoint")
	req.MetricName = "cost_usd"

	svc := NewService(mockSource, nil, Config{}, testLogger())

	for i := 0; i < 5; i++ {
		att, err := svc.Attribute(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, att.PrimaryCause)
		assert.Equal(t, "/alpha", att.PrimaryCause.Name)
	}
}

func TestService_Attribute_LowConfidence(t *testing.T) {
	// Per-value deltas explain almost none of the aggregate change, which
	// happens with averaged metrics when the traffic mix shifts
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_per_request", baselineWindow).Return(0.008, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_per_request", anomalyWindow).Return(0.015, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_per_request", baselineWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/a", Aggregate: 0.0080, SampleCount: 500},
			{Value: "/b", Aggregate: 0.0081, SampleCount: 500},
		}, nil)
	mockSource.On("Breakdown", mock.Anything, "cost_per_request", anomalyWindow, "endpoint").
		Return([]metricstore.BreakdownRow{
			{Value: "/a", Aggregate: 0.0084, SampleCount: 500},
			{Value: "/b", Aggregate: 0.0084, SampleCount: 500},
		}, nil)

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), request("endpoint"))
	require.NoError(t, err)

	assert.True(t, att.LowConfidence)
	require.NotNil(t, att.PrimaryCause)
	assert.Less(t, att.PrimaryCause.ContributionPercentage, 10.0)
	assert.Empty(t, att.ContributingFactors)
}

func TestService_Attribute_MultipleDimensions(t *testing.T) {
	mockSource := new(MockSource)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", baselineWindow).Return(100.0, nil)
	mockSource.On("Aggregate", mock.Anything, "cost_usd", anomalyWindow).Return(200.0, nil)

	for _, w := range []metricstore.Window{baselineWindow, anomalyWindow} {
		factor := 1.0
		if w == anomalyWindow {
			factor = 2.0
		}
		mockSource.On("Breakdown", mock.Anything, "cost_usd", w, "endpoint").
			Return([]metricstore.BreakdownRow{
				{Value: "/chat", Aggregate: 100.0 * factor, SampleCount: 1000},
			}, nil)
		mockSource.On("Breakdown", mock.Anything, "cost_usd", w, "model").
			Return([]metricstore.BreakdownRow{
				{Value: "gpt-4o", Aggregate: 100.0 * factor, SampleCount: 1000},
			}, nil)
	}

	req := request("endpoint", "model")
	req.MetricName = "cost_usd"

	svc := NewService(mockSource, nil, Config{}, testLogger())

	att, err := svc.Attribute(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, att.AffectedResources, 2)
	assert.Equal(t, []string{"/chat"}, att.AffectedResources["endpoint"])
	assert.Equal(t, []string{"gpt-4o"}, att.AffectedResources["model"])

	mockSource.AssertExpectations(t)
}
