package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/SamuelRCrider/csp-classify/utils"
)

// MatchInput carries everything a matcher needs for one rule and one entity
type MatchInput struct {
	Rule     *Rule
	Entity   *Entity
	Text     ExtractedText
	Compiled *CompiledPattern

	// matchChild evaluates a nested rule; set for composite rules
	matchChild func(ctx context.Context, child *Rule) (utils.MatchOutcome, error)
}

// Matcher implements one rule type's matching strategy
type Matcher interface {
	Match(ctx context.Context, in MatchInput) (utils.MatchOutcome, error)
}

// MatcherFunc adapts a function to the Matcher interface
type MatcherFunc func(ctx context.Context, in MatchInput) (utils.MatchOutcome, error)

func (f MatcherFunc) Match(ctx context.Context, in MatchInput) (utils.MatchOutcome, error) {
	return f(ctx, in)
}

// DefaultMatchers returns a matcher for every rule type in AllRuleTypes
func DefaultMatchers() map[RuleType]Matcher {
	return map[RuleType]Matcher{
		RuleTypeRegex:       regexMatcher{},
		RuleTypeDictionary:  dictionaryMatcher{},
		RuleTypeColumnName:  fieldMatcher{field: FieldColumnName},
		RuleTypeTableName:   fieldMatcher{field: FieldTableName},
		RuleTypeSchemaName:  fieldMatcher{field: FieldSchemaName},
		RuleTypeDataType:    fieldMatcher{field: FieldDataType, exact: true},
		RuleTypeValueRange:  valueRangeMatcher{},
		RuleTypeStatistical: statisticalMatcher{},
		RuleTypeMetadata:    metadataMatcher{},
		RuleTypeComposite:   compositeMatcher{},
	}
}

// regexMatcher searches every extracted field
type regexMatcher struct{}

func (regexMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() {
		return utils.NoMatch(), nil
	}

	matches := 0
	var values, fields []string
	for _, field := range in.Text.Fields() {
		found, ok, err := p.FindString(in.Text[field])
		if err != nil {
			return utils.NoMatch(), fmt.Errorf("field %s: %w", field, err)
		}
		if ok {
			matches++
			fields = append(fields, field)
			values = utils.AppendUnique(values, found)
		}
	}

	out := utils.Ratio(matches, len(in.Text))
	if out.Matched {
		out.MatchedPatterns = []string{p.Source}
		out.MatchedValues = values
	}
	out.Context["matched_fields"] = fields
	return out, nil
}

// fieldMatcher applies a regex to a single named field. With exact set, a
// case-insensitive equality with the pattern also counts as a match.
type fieldMatcher struct {
	field string
	exact bool
}

func (m fieldMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	text, present := in.Text[m.field]
	if !present || p == nil {
		return utils.NoMatch(), nil
	}

	// Type names such as int[] are not valid regexes but still compare equal.
	matched := m.exact && p.Source != "" && strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(p.Source))
	if !matched && p.NeverMatches() {
		return utils.NoMatch(), nil
	}
	if !matched {
		var err error
		if _, matched, err = p.FindString(text); err != nil {
			return utils.NoMatch(), fmt.Errorf("field %s: %w", m.field, err)
		}
	}

	if !matched {
		return utils.Ratio(0, 1), nil
	}
	out := utils.Ratio(1, 1)
	out.MatchedPatterns = []string{p.Source}
	out.MatchedValues = []string{text}
	out.Context["matched_fields"] = []string{m.field}
	return out, nil
}

// dictionaryMatcher looks for any term of the rule's dictionary in each field.
// A field counts once no matter how many terms it contains.
type dictionaryMatcher struct{}

func (dictionaryMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() {
		return utils.NoMatch(), nil
	}

	matches := 0
	var terms, values, fields []string
	for _, field := range in.Text.Fields() {
		text := in.Text[field]
		if !in.Rule.CaseSensitive {
			text = strings.ToLower(text)
		}

		for _, t := range p.terms {
			hit := false
			if t.regex != nil {
				ok, err := t.regex.MatchString(text)
				if err != nil {
					return utils.NoMatch(), fmt.Errorf("field %s: %w", field, err)
				}
				hit = ok
			} else {
				hit = strings.Contains(text, t.term)
			}

			if hit {
				matches++
				fields = append(fields, field)
				terms = utils.AppendUnique(terms, t.term)
				values = utils.AppendUnique(values, in.Text[field])
				break
			}
		}
	}

	out := utils.Ratio(matches, len(in.Text))
	if out.Matched {
		out.MatchedPatterns = terms
		out.MatchedValues = values
	}
	out.Context["matched_fields"] = fields
	return out, nil
}

// metadataMatcher checks key/value metadata against per-key regexes. Keys the
// entity does not carry are not checks.
type metadataMatcher struct{}

func (metadataMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() {
		return utils.NoMatch(), nil
	}

	checks, matches := 0, 0
	var patterns, values, keys []string
	for _, fp := range p.fields {
		value, ok := in.Entity.Metadata[fp.key]
		if !ok {
			continue
		}
		checks++

		found, hit, err := findString(fp.regex, value)
		if err != nil {
			return utils.NoMatch(), fmt.Errorf("metadata %s: %w", fp.key, err)
		}
		if hit {
			matches++
			keys = append(keys, fp.key)
			patterns = append(patterns, fp.key+"="+fp.regex.String())
			values = utils.AppendUnique(values, found)
		}
	}

	out := utils.Ratio(matches, checks)
	if out.Matched {
		out.MatchedPatterns = patterns
		out.MatchedValues = values
	}
	out.Context["matched_keys"] = keys
	return out, nil
}

// compositeMatcher combines child rules: AND takes the minimum confidence and
// needs every child to match, OR takes the maximum and needs any child.
type compositeMatcher struct{}

func (compositeMatcher) Match(ctx context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() || in.matchChild == nil {
		return utils.NoMatch(), nil
	}
	spec := p.composite
	and := spec.Operator == "AND"

	confidence := 0.0
	if and {
		confidence = math.Inf(1)
	}
	matchedChildren := 0
	var patterns, values []string
	var fields []string
	childConfidence := make(map[string]float64, len(spec.Rules))

	for i := range spec.Rules {
		child := &spec.Rules[i]
		co, err := in.matchChild(ctx, child)
		if err != nil {
			return utils.NoMatch(), fmt.Errorf("composite child %s: %w", child.ID, err)
		}

		childConfidence[child.ID] = co.Confidence
		if and {
			confidence = math.Min(confidence, co.Confidence)
		} else {
			confidence = math.Max(confidence, co.Confidence)
		}

		if co.Matched {
			matchedChildren++
			patterns = utils.AppendUnique(patterns, co.MatchedPatterns...)
			values = utils.AppendUnique(values, co.MatchedValues...)
			if f, ok := co.Context["matched_fields"].([]string); ok {
				fields = utils.AppendUnique(fields, f...)
			}
		}
	}

	out := utils.NoMatch()
	out.Matches = matchedChildren
	out.TotalChecks = len(spec.Rules)
	out.Confidence = confidence
	out.MatchPercentage = confidence * 100
	if and {
		out.Matched = matchedChildren == len(spec.Rules)
	} else {
		out.Matched = matchedChildren > 0
	}
	if out.Matched {
		out.MatchedPatterns = patterns
		out.MatchedValues = values
	}
	out.Context["operator"] = spec.Operator
	out.Context["child_confidence"] = childConfidence
	out.Context["matched_fields"] = fields
	return out, nil
}
