package optimization

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"argus/internal/domain/metricstore"
	"argus/internal/domain/optimization"
	"argus/pkg/errors"
	"argus/pkg/logger"
)

// EventPublisher publishes ledger lifecycle events. Optional; a nil
// publisher disables eventing without touching engine logic.
type EventPublisher interface {
	RecommendationCreated(ctx context.Context, rec *optimization.Recommendation) error
	RecommendationImplemented(ctx context.Context, rec *optimization.Recommendation) error
	ResultRecorded(ctx context.Context, res *optimization.Result) error
}

// Config tunes the cost optimization engine
type Config struct {
	// ImplementationCostUSD is the fixed engineering cost assumed per
	// implemented recommendation. ROI is unavailable when zero.
	ImplementationCostUSD float64

	// CostMetric is summed over before/after windows when the caller
	// does not supply costs directly
	CostMetric string

	// ReportTopN bounds the ROI report ranking
	ReportTopN int
}

// Service is the cost optimization engine: it tracks recommendations
// through their lifecycle and measures whether they actually saved money.
type Service struct {
	ledger    optimization.Ledger
	source    metricstore.Source
	publisher EventPublisher
	cfg       Config
	log       *logger.Logger

	now func() time.Time
}

// NewService creates a new cost optimization engine
func NewService(ledger optimization.Ledger, source metricstore.Source, publisher EventPublisher, cfg Config, log *logger.Logger) *Service {
	if cfg.CostMetric == "" {
		cfg.CostMetric = "cost_usd"
	}
	if cfg.ReportTopN <= 0 {
		cfg.ReportTopN = 5
	}

	return &Service{
		ledger:    ledger,
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// CreateInput carries the caller-supplied recommendation fields
type CreateInput struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Priority    optimization.Priority `json:"priority"`

	EstimatedSavingsPerRequest float64 `json:"estimated_savings_per_request"`
	EstimatedSavingsPercentage float64 `json:"estimated_savings_percentage"`
}

// CreateRecommendation validates and appends a new pending recommendation.
// All field errors are collected so the caller sees every problem at once.
func (s *Service) CreateRecommendation(ctx context.Context, in CreateInput) (*optimization.Recommendation, error) {
	var verr errors.MultiError

	if in.Title == "" {
		verr.Add(errors.NewValidationError("title", "must not be empty", in.Title))
	}
	if in.Category == "" {
		verr.Add(errors.NewValidationError("category", "must not be empty", in.Category))
	}
	if in.EstimatedSavingsPercentage < 0 || in.EstimatedSavingsPercentage > 100 {
		verr.Add(errors.NewValidationError("estimated_savings_percentage", "must be within [0, 100]", in.EstimatedSavingsPercentage))
	}

	priority := in.Priority
	if priority == "" {
		priority = optimization.PriorityMedium
	}
	if !priority.Valid() {
		verr.Add(errors.NewValidationError("priority", "must be one of low, medium, high", in.Priority))
	}

	if err := verr.ToError(); err != nil {
		return nil, err
	}

	rec := &optimization.Recommendation{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Priority:    priority,

		EstimatedSavingsPerRequest: in.EstimatedSavingsPerRequest,
		EstimatedSavingsPercentage: in.EstimatedSavingsPercentage,

		Status:    optimization.StatusPending,
		CreatedAt: s.now().UTC(),
	}

	if err := s.ledger.CreateRecommendation(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Infow("Recommendation created",
		"id", rec.ID,
		"category", rec.Category,
		"priority", rec.Priority,
	)

	s.publishEvent(ctx, func(p EventPublisher) error {
		return p.RecommendationCreated(ctx, rec)
	})

	return rec, nil
}

// Implement transitions a recommendation to implemented, capturing the
// baseline snapshot. Re-implementation is rejected, not silently accepted.
func (s *Service) Implement(ctx context.Context, id string, baseline optimization.BaselineMetrics) (*optimization.Recommendation, error) {
	if baseline.PeriodStart.IsZero() {
		return nil, errors.NewValidationError("baseline_metrics.period_start", "must be set", baseline.PeriodStart)
	}
	if baseline.RequestCount < 0 {
		return nil, errors.NewValidationError("baseline_metrics.request_count", "must not be negative", baseline.RequestCount)
	}

	rec, err := s.ledger.MarkImplemented(ctx, id, baseline, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.log.Infow("Recommendation implemented",
		"id", rec.ID,
		"baseline_cost_per_request", baseline.CostPerRequest,
	)

	s.publishEvent(ctx, func(p EventPublisher) error {
		return p.RecommendationImplemented(ctx, rec)
	})

	return rec, nil
}

// ListRecommendations returns the full ledger, newest first
func (s *Service) ListRecommendations(ctx context.Context) ([]*optimization.Recommendation, error) {
	return s.ledger.ListRecommendations(ctx)
}

// ResultInput carries one measurement period. BeforeCost and AfterCost are
// optional: caller-supplied values always win, otherwise the engine derives
// them by summing the cost metric over the baseline and trailing windows.
type ResultInput struct {
	PeriodDays      int              `json:"period_days"`
	BeforeCost      *decimal.Decimal `json:"before_cost,omitempty"`
	AfterCost       *decimal.Decimal `json:"after_cost,omitempty"`
	RequestCount    int64            `json:"request_count"`
	ConfidenceScore *float64         `json:"confidence_score,omitempty"`
}

// RecordResult measures realized savings for an implemented recommendation
// and appends an immutable result to the ledger
func (s *Service) RecordResult(ctx context.Context, id string, in ResultInput) (*optimization.Result, error) {
	if in.PeriodDays <= 0 {
		return nil, errors.NewValidationError("period_days", "must be positive", in.PeriodDays)
	}
	if in.ConfidenceScore != nil && (*in.ConfidenceScore < 0 || *in.ConfidenceScore > 1) {
		return nil, errors.NewValidationError("confidence_score", "must be within [0, 1]", *in.ConfidenceScore)
	}

	rec, err := s.ledger.GetRecommendation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Implemented() {
		return nil, errors.Wrapf(errors.ErrInvalidState, "recommendation %s is %s, results require implemented", id, rec.Status)
	}
	if rec.Baseline == nil {
		// Should be impossible given the ledger invariant
		return nil, errors.Wrapf(errors.ErrMissingBaseline, "recommendation %s", id)
	}

	now := s.now().UTC()
	period := time.Duration(in.PeriodDays) * 24 * time.Hour

	beforeCost, err := s.resolveCost(ctx, in.BeforeCost, metricstore.Window{
		Start: rec.Baseline.PeriodStart,
		End:   rec.Baseline.PeriodStart.Add(period),
	})
	if err != nil {
		return nil, errors.Wrap(err, "derive before cost")
	}

	afterCost, err := s.resolveCost(ctx, in.AfterCost, metricstore.Window{
		Start: now.Add(-period),
		End:   now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "derive after cost")
	}

	// Negative savings are valid: a recommendation may backfire
	savings := beforeCost.Sub(afterCost)

	res := &optimization.Result{
		ID:               uuid.NewString(),
		RecommendationID: rec.ID,
		PeriodDays:       in.PeriodDays,
		MeasuredFrom:     now.Add(-period),
		MeasuredTo:       now,
		BeforeCost:       beforeCost,
		AfterCost:        afterCost,
		ActualSavings:    savings,
		ROIPercentage:    s.roiFor(savings),
		RequestCount:     in.RequestCount,
		ConfidenceScore:  s.confidenceFor(in),
		CreatedAt:        now,
	}

	if err := s.ledger.AppendResult(ctx, res); err != nil {
		return nil, err
	}

	s.log.Infow("Optimization result recorded",
		"recommendation_id", rec.ID,
		"period_days", res.PeriodDays,
		"actual_savings", res.ActualSavings,
	)

	s.publishEvent(ctx, func(p EventPublisher) error {
		return p.ResultRecorded(ctx, res)
	})

	return res, nil
}

// ROIReport aggregates all results whose measurement period overlaps the
// trailing window. Deterministic for a fixed ledger state; no side effects.
func (s *Service) ROIReport(ctx context.Context, days int) (*optimization.ROIReport, error) {
	if days <= 0 {
		return nil, errors.NewValidationError("days", "must be positive", days)
	}

	now := s.now().UTC()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)

	records, err := s.ledger.ResultsOverlapping(ctx, since)
	if err != nil {
		return nil, err
	}

	net := decimal.Zero
	byCategory := make(map[string]decimal.Decimal)
	byRecommendation := make(map[string]*optimization.RecommendationSavings)

	for _, rec := range records {
		net = net.Add(rec.ActualSavings)

		byCategory[rec.RecommendationCategory] = byCategory[rec.RecommendationCategory].Add(rec.ActualSavings)

		entry, ok := byRecommendation[rec.RecommendationID]
		if !ok {
			entry = &optimization.RecommendationSavings{
				RecommendationID: rec.RecommendationID,
				Title:            rec.RecommendationTitle,
				Category:         rec.RecommendationCategory,
			}
			byRecommendation[rec.RecommendationID] = entry
		}
		entry.TotalSavings = entry.TotalSavings.Add(rec.ActualSavings)
		entry.ResultCount++
	}

	ranking := make([]optimization.RecommendationSavings, 0, len(byRecommendation))
	for _, entry := range byRecommendation {
		ranking = append(ranking, *entry)
	}

	// Savings descending, id ascending for a stable ranking
	sort.Slice(ranking, func(i, j int) bool {
		if cmp := ranking[i].TotalSavings.Cmp(ranking[j].TotalSavings); cmp != 0 {
			return cmp > 0
		}
		return ranking[i].RecommendationID < ranking[j].RecommendationID
	})

	if len(ranking) > s.cfg.ReportTopN {
		ranking = ranking[:s.cfg.ReportTopN]
	}

	total := net
	if total.IsNegative() {
		total = decimal.Zero
	}

	return &optimization.ROIReport{
		WindowDays:         days,
		GeneratedAt:        now,
		NetSavings:         net,
		TotalSavings:       total,
		ResultCount:        len(records),
		TopRecommendations: ranking,
		SavingsByCategory:  byCategory,
	}, nil
}

// SavingsMessage renders the caller-facing summary for a recorded result
func (s *Service) SavingsMessage(res *optimization.Result) string {
	amount := humanize.CommafWithDigits(res.ActualSavings.InexactFloat64(), 2)
	return fmt.Sprintf("This recommendation saved $%s in the last %d days", amount, res.PeriodDays)
}

// resolveCost prefers the caller-supplied total; otherwise sums the cost
// metric over the window
func (s *Service) resolveCost(ctx context.Context, supplied *decimal.Decimal, w metricstore.Window) (decimal.Decimal, error) {
	if supplied != nil {
		return *supplied, nil
	}

	value, err := s.source.Aggregate(ctx, s.cfg.CostMetric, w)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromFloat(value), nil
}

func (s *Service) roiFor(savings decimal.Decimal) *decimal.Decimal {
	if s.cfg.ImplementationCostUSD <= 0 {
		// ROI unavailable rather than divide-by-zero
		return nil
	}

	cost := decimal.NewFromFloat(s.cfg.ImplementationCostUSD)
	roi := savings.Div(cost).Mul(decimal.NewFromInt(100))
	return &roi
}

// confidenceFor uses the caller-supplied score when present, otherwise a
// sample-size saturation so small measurement periods carry less weight
func (s *Service) confidenceFor(in ResultInput) float64 {
	if in.ConfidenceScore != nil {
		return *in.ConfidenceScore
	}

	n := float64(in.RequestCount)
	if n < 0 {
		n = 0
	}
	return n / (n + 100)
}

func (s *Service) publishEvent(ctx context.Context, publish func(EventPublisher) error) {
	if s.publisher == nil {
		return
	}
	if err := publish(s.publisher); err != nil {
		// Eventing is best effort; ledger writes already committed
		s.log.Warnf("Failed to publish ledger event: %v", err)
	}
}
