package core

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/SamuelRCrider/csp-classify/utils"
)

// valueRange is an inclusive numeric range; nil bounds are open
type valueRange struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

func (r *valueRange) contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r *valueRange) String() string {
	format := func(b *float64) string {
		if b == nil {
			return ""
		}
		return strconv.FormatFloat(*b, 'g', -1, 64)
	}
	return format(r.Min) + ".." + format(r.Max)
}

// parseValueRange accepts "min..max" (either side may be empty) or a YAML
// mapping with min and max keys
func parseValueRange(pattern string) (*valueRange, error) {
	pattern = strings.TrimSpace(pattern)
	rng := &valueRange{}

	if lo, hi, ok := strings.Cut(pattern, ".."); ok && !strings.HasPrefix(pattern, "{") {
		var err error
		if rng.Min, err = parseBound(lo); err != nil {
			return nil, err
		}
		if rng.Max, err = parseBound(hi); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal([]byte(pattern), rng); err != nil {
		return nil, fmt.Errorf("%w: value range %q: %v", ErrInvalidPattern, pattern, err)
	}

	if rng.Min == nil && rng.Max == nil {
		return nil, fmt.Errorf("%w: value range %q has no bounds", ErrInvalidPattern, pattern)
	}
	if rng.Min != nil && rng.Max != nil && *rng.Min > *rng.Max {
		return nil, fmt.Errorf("%w: value range %q has min above max", ErrInvalidPattern, pattern)
	}
	return rng, nil
}

func parseBound(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: range bound %q: %v", ErrInvalidPattern, s, err)
	}
	return &v, nil
}

// numericSamples returns the sample values that parse as numbers, in order
func numericSamples(e *Entity) ([]float64, []string) {
	var values []float64
	var raw []string
	for _, s := range e.SampleValues {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
		raw = append(raw, s)
	}
	return values, raw
}

// sampleStats summarizes numeric samples for statistical predicates
type sampleStats struct {
	Count    int
	Mean     float64
	Variance float64
	StdDev   float64
	Min      float64
	Max      float64
}

func summarize(values []float64) sampleStats {
	st := sampleStats{Count: len(values)}
	if len(values) == 0 {
		return st
	}

	st.Min, st.Max = values[0], values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))

	sq := 0.0
	for _, v := range values {
		sq += (v - st.Mean) * (v - st.Mean)
	}
	st.Variance = sq / float64(len(values))
	st.StdDev = math.Sqrt(st.Variance)
	return st
}

// Protect CEL environment creation and compilation from concurrent access.
var (
	celMutex sync.Mutex
	statsEnv *cel.Env
)

func statisticalEnv() (*cel.Env, error) {
	if statsEnv != nil {
		return statsEnv, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("mean", cel.DoubleType),
		cel.Variable("stddev", cel.DoubleType),
		cel.Variable("variance", cel.DoubleType),
		cel.Variable("min", cel.DoubleType),
		cel.Variable("max", cel.DoubleType),
		cel.Variable("count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	statsEnv = env
	return env, nil
}

// compileStatistical compiles a boolean CEL predicate over one sample and the
// sample statistics
//
//nolint:ireturn // Following CEL's function signature.
func compileStatistical(expression string) (cel.Program, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	env, err := statisticalEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile expression: %v", ErrInvalidPattern, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidPattern, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: create program: %v", ErrInvalidPattern, err)
	}
	return program, nil
}

// valueRangeMatcher counts numeric samples inside the declared range
type valueRangeMatcher struct{}

func (valueRangeMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() {
		return utils.NoMatch(), nil
	}

	values, raw := numericSamples(in.Entity)
	matches := 0
	var matched []string
	for i, v := range values {
		if p.valueRng.contains(v) {
			matches++
			matched = append(matched, raw[i])
		}
	}

	out := utils.Ratio(matches, len(values))
	if out.Matched {
		out.MatchedPatterns = []string{p.valueRng.String()}
		out.MatchedValues = matched
	}
	out.Context["numeric_samples"] = len(values)
	return out, nil
}

// statisticalMatcher counts numeric samples satisfying a CEL predicate
type statisticalMatcher struct{}

func (statisticalMatcher) Match(_ context.Context, in MatchInput) (utils.MatchOutcome, error) {
	p := in.Compiled
	if p.NeverMatches() {
		return utils.NoMatch(), nil
	}

	values, raw := numericSamples(in.Entity)
	st := summarize(values)

	matches := 0
	var matched []string
	for i, v := range values {
		result, _, err := p.program.Eval(map[string]any{
			"value":    v,
			"mean":     st.Mean,
			"stddev":   st.StdDev,
			"variance": st.Variance,
			"min":      st.Min,
			"max":      st.Max,
			"count":    int64(st.Count),
		})
		if err != nil {
			return utils.NoMatch(), fmt.Errorf("evaluate statistical predicate: %w", err)
		}
		if ok, isBool := result.Value().(bool); isBool && ok {
			matches++
			matched = append(matched, raw[i])
		}
	}

	out := utils.Ratio(matches, len(values))
	if out.Matched {
		out.MatchedPatterns = []string{p.Source}
		out.MatchedValues = matched
	}
	out.Context["mean"] = st.Mean
	out.Context["stddev"] = st.StdDev
	out.Context["numeric_samples"] = st.Count
	return out, nil
}
