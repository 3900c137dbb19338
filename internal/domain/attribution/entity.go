package attribution

import (
	"time"

	"argus/internal/domain/metricstore"
)

// Factor is one dimension value's share of an aggregate metric change.
type Factor struct {
	Dimension      string  `json:"dimension"`
	Name           string  `json:"name"`
	BaselineValue  float64 `json:"baseline_value"`
	AnomalousValue float64 `json:"anomalous_value"`

	// ChangePercentage is this value's own relative change between windows
	ChangePercentage float64 `json:"change_percentage"`

	// ContributionPercentage is this value's delta as a share of the
	// aggregate delta, within its dimension
	ContributionPercentage float64 `json:"contribution_percentage"`

	// Confidence in [0, 1], monotonically increasing in both contribution
	// and sample size
	Confidence float64 `json:"confidence"`

	SampleCount uint64 `json:"sample_count"`
}

// Attribution explains which traffic slices drove a detected anomaly.
// Ephemeral: computed per call, persisted only if the caller logs it.
type Attribution struct {
	MetricName       string    `json:"metric_name"`
	AnomalyTimestamp time.Time `json:"anomaly_timestamp"`

	BaselineValue    float64 `json:"baseline_value"`
	AnomalousValue   float64 `json:"anomalous_value"`
	ChangePercentage float64 `json:"change_percentage"`

	PrimaryCause        *Factor  `json:"primary_cause"`
	ContributingFactors []Factor `json:"contributing_factors"`

	// AffectedResources maps dimension -> distinct names across retained factors
	AffectedResources map[string][]string `json:"affected_resources"`

	// LowConfidence is set when no factor clears the minimum contribution
	// threshold; callers decide whether to surface such attributions
	LowConfidence bool `json:"low_confidence"`

	Summary string `json:"summary"`
}

// Request carries the inputs of one attribution call. The anomaly itself is
// detected upstream; this engine only explains it.
type Request struct {
	MetricName       string             `json:"metric_name"`
	AnomalyTimestamp time.Time          `json:"anomaly_timestamp"`
	BaselineWindow   metricstore.Window `json:"baseline_window"`
	AnomalyWindow    metricstore.Window `json:"anomaly_window"`
	Dimensions       []string           `json:"dimensions"`
}
