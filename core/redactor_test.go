package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedactionMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]RedactionMode{
		"":             RedactNone,
		"none":         RedactNone,
		"MASK":         RedactMask,
		" fingerprint": RedactFingerprint,
	} {
		got, err := ParseRedactionMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseRedactionMode("shred")
	require.Error(t, err)
}

func TestRedactValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "123-45-6789", RedactValue("123-45-6789", RedactNone))
	assert.Equal(t, "*******6789", RedactValue("123-45-6789", RedactMask))
	assert.Equal(t, "***", RedactValue("abc", RedactMask))

	fp := RedactValue("123-45-6789", RedactFingerprint)
	assert.True(t, strings.HasPrefix(fp, "sha256:"))
	assert.Len(t, fp, len("sha256:")+16)
	assert.Equal(t, fp, RedactValue("123-45-6789", RedactFingerprint), "fingerprints are stable")
	assert.NotEqual(t, fp, RedactValue("123-45-6780", RedactFingerprint))
}

func TestRedactResultsCopies(t *testing.T) {
	t.Parallel()

	results := []ClassificationResult{{ID: "r1", MatchedValues: []string{"jane@example.com"}}}

	redacted := RedactResults(results, RedactMask)
	assert.Equal(t, []string{"************.com"}, redacted[0].MatchedValues)
	assert.Equal(t, []string{"jane@example.com"}, results[0].MatchedValues, "input untouched")

	assert.Equal(t, results, RedactResults(results, RedactNone))
}
