package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// RedactionMode controls how matched sample values leave the engine
type RedactionMode string

const (
	// RedactNone keeps values as matched
	RedactNone RedactionMode = "none"

	// RedactMask keeps the last four characters
	RedactMask RedactionMode = "mask"

	// RedactFingerprint replaces values with a SHA-256 fingerprint
	RedactFingerprint RedactionMode = "fingerprint"
)

// ParseRedactionMode parses a mode name; empty means none
func ParseRedactionMode(s string) (RedactionMode, error) {
	switch m := RedactionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", RedactNone:
		return RedactNone, nil
	case RedactMask, RedactFingerprint:
		return m, nil
	default:
		return "", fmt.Errorf("unknown redaction mode %q", s)
	}
}

// createFingerprint creates a fingerprint hash of the data
func createFingerprint(data string) string {
	hash := sha256.Sum256([]byte(data))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// RedactValue applies mode to a single value
func RedactValue(value string, mode RedactionMode) string {
	switch mode {
	case RedactMask:
		runes := []rune(value)
		keep := 4
		if len(runes) <= keep {
			return strings.Repeat("*", len(runes))
		}
		return strings.Repeat("*", len(runes)-keep) + string(runes[len(runes)-keep:])
	case RedactFingerprint:
		return createFingerprint(value)
	default:
		return value
	}
}

// RedactResults returns copies of results with matched values redacted
func RedactResults(results []ClassificationResult, mode RedactionMode) []ClassificationResult {
	if mode == RedactNone || mode == "" {
		return results
	}

	out := make([]ClassificationResult, len(results))
	for i, r := range results {
		values := make([]string, len(r.MatchedValues))
		for j, v := range r.MatchedValues {
			values[j] = RedactValue(v, mode)
		}
		r.MatchedValues = values
		out[i] = r
	}
	return out
}
