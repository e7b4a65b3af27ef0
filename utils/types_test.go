package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	t.Parallel()

	out := Ratio(1, 4)
	assert.True(t, out.Matched)
	assert.InDelta(t, 0.25, out.Confidence, 1e-9)
	assert.InDelta(t, 25.0, out.MatchPercentage, 1e-9)
	assert.NotNil(t, out.Context)

	out = Ratio(0, 3)
	assert.False(t, out.Matched)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, 3, out.TotalChecks)

	out = Ratio(0, 0)
	assert.False(t, out.Matched)
	assert.Zero(t, out.Confidence)
}

func TestNoMatch(t *testing.T) {
	t.Parallel()

	out := NoMatch()
	assert.False(t, out.Matched)
	assert.Zero(t, out.TotalChecks)
	assert.Empty(t, out.Context)
}

func TestAppendUnique(t *testing.T) {
	t.Parallel()

	got := AppendUnique([]string{"a"}, "b", "a", "c", "b")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"x"}, AppendUnique(nil, "x", "x"))
}
