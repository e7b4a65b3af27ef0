package utils

// MatchOutcome is the transient result of one matcher invocation
type MatchOutcome struct {
	// Whether at least one inspected field matched
	Matched bool

	// Confidence in [0,1], computed as Matches / TotalChecks
	Confidence float64

	// Patterns or terms that produced a match
	MatchedPatterns []string

	// Values (or fragments of values) that matched
	MatchedValues []string

	// Matches / TotalChecks * 100
	MatchPercentage float64

	// Raw counters behind Confidence
	Matches     int
	TotalChecks int

	// Matcher-specific details, e.g. which fields matched
	Context map[string]interface{}
}

// NoMatch returns an outcome with zero confidence and no checks
func NoMatch() MatchOutcome {
	return MatchOutcome{Context: map[string]interface{}{}}
}

// Ratio builds an outcome from a match counter. A zero check count yields a
// non-match with zero confidence.
func Ratio(matches, totalChecks int) MatchOutcome {
	out := NoMatch()
	out.Matches = matches
	out.TotalChecks = totalChecks
	if totalChecks == 0 {
		return out
	}

	out.Confidence = float64(matches) / float64(totalChecks)
	out.MatchPercentage = out.Confidence * 100
	out.Matched = matches > 0
	return out
}

// AppendUnique appends values not already present in dst
func AppendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
