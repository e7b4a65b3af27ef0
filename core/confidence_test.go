package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConfidence(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		score float64
		want  ConfidenceLevel
	}{
		"zero":              {0, ConfidenceVeryLow},
		"below low":         {0.1999, ConfidenceVeryLow},
		"low bound":         {0.2, ConfidenceLow},
		"medium bound":      {0.4, ConfidenceMedium},
		"below high":        {0.5999, ConfidenceMedium},
		"high bound":        {0.6, ConfidenceHigh},
		"very high bound":   {0.8, ConfidenceVeryHigh},
		"between":           {0.85, ConfidenceVeryHigh},
		"certain bound":     {0.95, ConfidenceCertain},
		"one":               {1, ConfidenceCertain},
		"negative":          {-0.5, ConfidenceVeryLow},
		"not a number":      {math.NaN(), ConfidenceVeryLow},
		"above one clamps":  {1.5, ConfidenceCertain},
		"positive infinity": {math.Inf(1), ConfidenceCertain},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ClassifyConfidence(tc.score))
		})
	}
}

func TestClassifyConfidenceMonotonic(t *testing.T) {
	t.Parallel()

	seen := map[ConfidenceLevel]bool{}
	prev := ClassifyConfidence(0)
	for i := 0; i <= 10000; i++ {
		level := ClassifyConfidence(float64(i) / 10000)
		assert.GreaterOrEqual(t, level.rank(), prev.rank(), "score %v", float64(i)/10000)
		seen[level] = true
		prev = level
	}
	assert.Len(t, seen, 6, "six contiguous levels cover [0,1]")
}

func TestConfidenceLevelStopsEvaluation(t *testing.T) {
	t.Parallel()

	assert.True(t, ConfidenceCertain.stopsEvaluation())
	assert.True(t, ConfidenceVeryHigh.stopsEvaluation())
	assert.False(t, ConfidenceHigh.stopsEvaluation())
	assert.False(t, ConfidenceVeryLow.stopsEvaluation())

	assert.True(t, ConfidenceHigh.AtLeast(ConfidenceMedium))
	assert.False(t, ConfidenceLow.AtLeast(ConfidenceMedium))
}
