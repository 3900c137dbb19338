package optimization

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"argus/pkg/errors"
)

// Status is the recommendation lifecycle state. One-directional:
// pending -> implemented. No rollback state is modeled.
type Status string

const (
	StatusPending     Status = "pending"
	StatusImplemented Status = "implemented"
)

// Priority of a recommendation
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// BaselineMetrics is the cost snapshot captured at the moment a
// recommendation transitions to implemented. Stored verbatim as JSONB.
type BaselineMetrics struct {
	CostPerRequest      float64   `json:"cost_per_request"`
	AvgPromptTokens     float64   `json:"avg_prompt_tokens"`
	AvgCompletionTokens float64   `json:"avg_completion_tokens"`
	RequestCount        int64     `json:"request_count"`
	PeriodStart         time.Time `json:"period_start"`
}

// Value implements driver.Valuer for JSONB storage
func (b BaselineMetrics) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB storage
func (b *BaselineMetrics) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	case nil:
		return nil
	}
	return errors.Newf("cannot scan %T into BaselineMetrics", src)
}

// Recommendation is a proposed operational change tracked by the ledger.
// Savings estimates are forward-looking, supplied at creation and never
// recomputed; realized savings live in Result records.
type Recommendation struct {
	ID          string   `db:"id" json:"id"`
	Title       string   `db:"title" json:"title"`
	Description string   `db:"description" json:"description"`
	Category    string   `db:"category" json:"category"`
	Priority    Priority `db:"priority" json:"priority"`

	EstimatedSavingsPerRequest float64 `db:"estimated_savings_per_request" json:"estimated_savings_per_request"`
	EstimatedSavingsPercentage float64 `db:"estimated_savings_percentage" json:"estimated_savings_percentage"`

	Status Status `db:"status" json:"status"`

	// Baseline is non-nil iff Status == StatusImplemented
	Baseline *BaselineMetrics `db:"baseline_metrics" json:"baseline_metrics,omitempty"`

	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ImplementedAt *time.Time `db:"implemented_at" json:"implemented_at,omitempty"`
}

// Implemented reports whether the recommendation has been applied.
func (r *Recommendation) Implemented() bool {
	return r.Status == StatusImplemented
}

// Result is one before/after cost measurement for an implemented
// recommendation. Immutable once written; a recommendation accumulates
// results over successive measurement periods.
type Result struct {
	ID               string `db:"id" json:"id"`
	RecommendationID string `db:"recommendation_id" json:"recommendation_id"`

	PeriodDays   int       `db:"period_days" json:"period_days"`
	MeasuredFrom time.Time `db:"measured_from" json:"measured_from"`
	MeasuredTo   time.Time `db:"measured_to" json:"measured_to"`

	BeforeCost decimal.Decimal `db:"before_cost" json:"before_cost"`
	AfterCost  decimal.Decimal `db:"after_cost" json:"after_cost"`

	// ActualSavings = BeforeCost - AfterCost, derived at creation.
	// Negative when the recommendation backfired; reported as-is.
	ActualSavings decimal.Decimal `db:"actual_savings" json:"actual_savings"`

	// ROIPercentage is nil when the implementation cost is zero or unset
	ROIPercentage *decimal.Decimal `db:"roi_percentage" json:"roi_percentage,omitempty"`

	RequestCount    int64     `db:"request_count" json:"request_count"`
	ConfidenceScore float64   `db:"confidence_score" json:"confidence_score"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ResultRecord is a result joined with its recommendation's reporting fields.
type ResultRecord struct {
	Result
	RecommendationTitle    string `db:"title" json:"recommendation_title"`
	RecommendationCategory string `db:"category" json:"recommendation_category"`
}

// RecommendationSavings is one row of the ROI report ranking.
type RecommendationSavings struct {
	RecommendationID string          `json:"recommendation_id"`
	Title            string          `json:"title"`
	Category         string          `json:"category"`
	TotalSavings     decimal.Decimal `json:"total_savings"`
	ResultCount      int             `json:"result_count"`
}

// ROIReport aggregates realized savings over a trailing window.
type ROIReport struct {
	WindowDays  int       `json:"window_days"`
	GeneratedAt time.Time `json:"generated_at"`

	// NetSavings is the raw sum of actual savings, negatives included
	NetSavings decimal.Decimal `json:"net_savings"`

	// TotalSavings is NetSavings floored at zero for reporting
	TotalSavings decimal.Decimal `json:"total_savings"`

	ResultCount        int                        `json:"result_count"`
	TopRecommendations []RecommendationSavings    `json:"top_recommendations"`
	SavingsByCategory  map[string]decimal.Decimal `json:"savings_by_category"`
}
