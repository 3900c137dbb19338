package attribution

// ConfidenceScorer maps a factor's contribution share and sample size to a
// confidence in [0, 1]. Pluggable; any implementation must be monotonically
// increasing in both arguments so that low-traffic slices never outrank
// high-traffic ones at equal contribution.
type ConfidenceScorer func(contributionPct float64, sampleCount uint64) float64

// confidenceSaturationSamples is the sample count at which the volume term
// reaches one half
const confidenceSaturationSamples = 50.0

// DefaultConfidenceScorer combines the contribution share with a
// sample-size saturation term. A slice explaining the whole change with
// ample traffic approaches 1; a 100% swing on a handful of requests stays low.
func DefaultConfidenceScorer(contributionPct float64, sampleCount uint64) float64 {
	share := contributionPct / 100
	if share < 0 {
		share = 0
	}
	if share > 1 {
		share = 1
	}

	n := float64(sampleCount)
	volume := n / (n + confidenceSaturationSamples)

	confidence := share * volume
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
