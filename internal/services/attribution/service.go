package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"argus/internal/domain/attribution"
	"argus/internal/domain/metricstore"
	"argus/internal/metrics"
	"argus/pkg/errors"
	"argus/pkg/logger"
)

// flatAggregateShare is the relative aggregate change below which the
// aggregate trend is considered noise; opposite-moving factors are then
// retained instead of excluded
const flatAggregateShare = 0.01

// Config tunes the anomaly attribution engine
type Config struct {
	// MinContributionPct is the share of the aggregate delta a factor must
	// explain to be listed as contributing
	MinContributionPct float64
}

// Service is the anomaly attribution engine. Stateless; every call is a
// fresh computation against the metric store.
type Service struct {
	source metricstore.Source
	scorer ConfidenceScorer
	cfg    Config
	log    *logger.Logger
}

// NewService creates a new attribution engine. A nil scorer selects the
// default confidence heuristic.
func NewService(source metricstore.Source, scorer ConfidenceScorer, cfg Config, log *logger.Logger) *Service {
	if scorer == nil {
		scorer = DefaultConfidenceScorer
	}
	if cfg.MinContributionPct <= 0 {
		cfg.MinContributionPct = 10
	}

	return &Service{
		source: source,
		scorer: scorer,
		cfg:    cfg,
		log:    log,
	}
}

// dimensionBreakdown holds both windows' rows for one dimension
type dimensionBreakdown struct {
	dimension string
	baseline  []metricstore.BreakdownRow
	anomaly   []metricstore.BreakdownRow
}

// Attribute explains which dimension values drove the change of an
// aggregate metric between the baseline and anomaly windows. Fail-fast: any
// failed underlying query aborts the call, never a partial attribution.
func (s *Service) Attribute(ctx context.Context, req attribution.Request) (*attribution.Attribution, error) {
	if req.MetricName == "" {
		return nil, errors.NewValidationError("metric_name", "must not be empty", req.MetricName)
	}
	if len(req.Dimensions) == 0 {
		return nil, errors.NewValidationError("dimensions", "must not be empty", req.Dimensions)
	}
	if req.BaselineWindow.IsZero() || req.AnomalyWindow.IsZero() {
		return nil, errors.NewValidationError("windows", "baseline and anomaly windows must be set", nil)
	}

	baseline, err := s.source.Aggregate(ctx, req.MetricName, req.BaselineWindow)
	if err != nil {
		if errors.Is(err, errors.ErrNoData) {
			return nil, errors.Wrapf(errors.ErrInsufficientData, "no baseline for %s", req.MetricName)
		}
		return nil, err
	}
	if baseline == 0 {
		// A ratio against zero is undefined; refuse rather than fabricate
		return nil, errors.Wrapf(errors.ErrInsufficientData, "zero baseline for %s", req.MetricName)
	}

	anomalous, err := s.source.Aggregate(ctx, req.MetricName, req.AnomalyWindow)
	if err != nil {
		return nil, err
	}

	aggregateDelta := anomalous - baseline
	if aggregateDelta == 0 {
		return nil, errors.Wrapf(errors.ErrInsufficientData, "no aggregate change in %s to attribute", req.MetricName)
	}

	changePct := aggregateDelta / baseline * 100

	breakdowns, err := s.queryBreakdowns(ctx, req)
	if err != nil {
		return nil, err
	}

	// When the aggregate barely moved, direction is noise and opposite
	// movers stay in the ranking
	excludeOpposite := math.Abs(aggregateDelta) >= flatAggregateShare*math.Abs(baseline)

	var factors []attribution.Factor
	for _, bd := range breakdowns {
		factors = append(factors, s.rankDimension(bd, aggregateDelta, excludeOpposite)...)
	}

	sortFactors(factors)

	att := &attribution.Attribution{
		MetricName:       req.MetricName,
		AnomalyTimestamp: req.AnomalyTimestamp,
		BaselineValue:    baseline,
		AnomalousValue:   anomalous,
		ChangePercentage: changePct,
	}

	retained := factors
	if len(factors) > 0 {
		primary := factors[0]
		att.PrimaryCause = &primary

		for _, f := range factors[1:] {
			if f.ContributionPercentage >= s.cfg.MinContributionPct {
				att.ContributingFactors = append(att.ContributingFactors, f)
			}
		}

		retained = append([]attribution.Factor{primary}, att.ContributingFactors...)
		att.LowConfidence = primary.ContributionPercentage < s.cfg.MinContributionPct
	} else {
		att.LowConfidence = true
		retained = nil
	}

	att.AffectedResources = affectedResources(retained)
	att.Summary = s.renderSummary(att)

	metrics.AttributionFactorsRetained.Observe(float64(len(retained)))

	s.log.Infow("Anomaly attributed",
		"metric", req.MetricName,
		"change_pct", changePct,
		"factors", len(retained),
		"low_confidence", att.LowConfidence,
	)

	return att, nil
}

// queryBreakdowns fetches both windows' breakdowns for every dimension in
// parallel; the calls are mutually independent and dominate call latency
func (s *Service) queryBreakdowns(ctx context.Context, req attribution.Request) ([]dimensionBreakdown, error) {
	breakdowns := make([]dimensionBreakdown, len(req.Dimensions))

	g, gctx := errgroup.WithContext(ctx)
	for i, dim := range req.Dimensions {
		breakdowns[i].dimension = dim

		g.Go(func() error {
			rows, err := s.source.Breakdown(gctx, req.MetricName, req.BaselineWindow, dim)
			if err != nil {
				return errors.Wrapf(err, "baseline breakdown by %s", dim)
			}
			breakdowns[i].baseline = rows
			return nil
		})

		g.Go(func() error {
			rows, err := s.source.Breakdown(gctx, req.MetricName, req.AnomalyWindow, dim)
			if err != nil {
				return errors.Wrapf(err, "anomaly breakdown by %s", dim)
			}
			breakdowns[i].anomaly = rows
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return breakdowns, nil
}

// rankDimension apportions the aggregate delta across one dimension's values
func (s *Service) rankDimension(bd dimensionBreakdown, aggregateDelta float64, excludeOpposite bool) []attribution.Factor {
	type sample struct {
		baseline float64
		anomaly  float64
		count    uint64
	}

	values := make(map[string]*sample)
	for _, row := range bd.baseline {
		values[row.Value] = &sample{baseline: row.Aggregate, count: row.SampleCount}
	}
	for _, row := range bd.anomaly {
		v, ok := values[row.Value]
		if !ok {
			v = &sample{}
			values[row.Value] = v
		}
		v.anomaly = row.Aggregate
		// Anomaly-window traffic decides how much weight the slice carries
		v.count = row.SampleCount
	}

	factors := make([]attribution.Factor, 0, len(values))
	for name, v := range values {
		delta := v.anomaly - v.baseline
		contribution := delta / aggregateDelta * 100

		if excludeOpposite && contribution <= 0 {
			continue
		}

		factors = append(factors, attribution.Factor{
			Dimension:              bd.dimension,
			Name:                   name,
			BaselineValue:          v.baseline,
			AnomalousValue:         v.anomaly,
			ChangePercentage:       valueChangePct(v.baseline, v.anomaly),
			ContributionPercentage: contribution,
			Confidence:             s.scorer(contribution, v.count),
			SampleCount:            v.count,
		})
	}

	return factors
}

// valueChangePct guards the per-value ratio: values absent from the baseline
// window count as a full swing instead of producing Inf
func valueChangePct(baseline, anomaly float64) float64 {
	if baseline != 0 {
		return (anomaly - baseline) / baseline * 100
	}
	if anomaly == 0 {
		return 0
	}
	return 100
}

// sortFactors orders by contribution descending with deterministic
// tie-breaks: higher confidence first, then lexical name
func sortFactors(factors []attribution.Factor) {
	sort.Slice(factors, func(i, j int) bool {
		if factors[i].ContributionPercentage != factors[j].ContributionPercentage {
			return factors[i].ContributionPercentage > factors[j].ContributionPercentage
		}
		if factors[i].Confidence != factors[j].Confidence {
			return factors[i].Confidence > factors[j].Confidence
		}
		return factors[i].Name < factors[j].Name
	})
}

// affectedResources collects distinct names per dimension across retained factors
func affectedResources(factors []attribution.Factor) map[string][]string {
	seen := make(map[string]map[string]bool)
	for _, f := range factors {
		if seen[f.Dimension] == nil {
			seen[f.Dimension] = make(map[string]bool)
		}
		seen[f.Dimension][f.Name] = true
	}

	resources := make(map[string][]string, len(seen))
	for dim, names := range seen {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		sort.Strings(list)
		resources[dim] = list
	}

	return resources
}

func (s *Service) renderSummary(att *attribution.Attribution) string {
	if att.PrimaryCause == nil {
		return fmt.Sprintf("No dimension value explains the change in %s", att.MetricName)
	}

	direction := "increase"
	if att.PrimaryCause.ChangePercentage < 0 {
		direction = "decrease"
	}

	return fmt.Sprintf("Anomaly caused by %.1f%% %s in %s '%s' (Confidence: %.0f%%)",
		math.Abs(att.PrimaryCause.ChangePercentage),
		direction,
		att.PrimaryCause.Dimension,
		att.PrimaryCause.Name,
		att.PrimaryCause.Confidence*100,
	)
}
