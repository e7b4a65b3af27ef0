package core

// ConfidenceLevel is the discrete bucket of a confidence score
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceCertain  ConfidenceLevel = "certain"
)

// confidenceThresholds are inclusive lower bounds, highest first
var confidenceThresholds = []struct {
	min   float64
	level ConfidenceLevel
}{
	{0.95, ConfidenceCertain},
	{0.8, ConfidenceVeryHigh},
	{0.6, ConfidenceHigh},
	{0.4, ConfidenceMedium},
	{0.2, ConfidenceLow},
}

// ClassifyConfidence maps a score to its confidence level. It is total: NaN
// and negative scores are very_low.
func ClassifyConfidence(score float64) ConfidenceLevel {
	for _, t := range confidenceThresholds {
		if score >= t.min {
			return t.level
		}
	}
	return ConfidenceVeryLow
}

// rank orders levels from very_low (0) to certain (5)
func (l ConfidenceLevel) rank() int {
	switch l {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	case ConfidenceVeryHigh:
		return 4
	case ConfidenceCertain:
		return 5
	default:
		return 0
	}
}

// AtLeast reports whether l is the same as or above other
func (l ConfidenceLevel) AtLeast(other ConfidenceLevel) bool {
	return l.rank() >= other.rank()
}

// stopsEvaluation reports whether a global match at this level is authoritative
func (l ConfidenceLevel) stopsEvaluation() bool {
	return l.AtLeast(ConfidenceVeryHigh)
}
