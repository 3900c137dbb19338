package metricstore

import "time"

// Window is a half-open time range [Start, End) over which a metric is aggregated.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// BreakdownRow is one dimension value's aggregate within a window.
// Values with no samples in the window are omitted, not zero-filled.
type BreakdownRow struct {
	Value       string  `ch:"value"`
	Aggregate   float64 `ch:"aggregate"`
	SampleCount uint64  `ch:"sample_count"`
}
