package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternCacheCompilesOnce(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	rule := &Rule{ID: "r1", Type: RuleTypeRegex, Pattern: `\bssn\b`}

	first := cache.GetOrCompile(context.Background(), rule)
	second := cache.GetOrCompile(context.Background(), rule)

	assert.Same(t, first, second)
	assert.False(t, first.NeverMatches())
	assert.Equal(t, int64(1), cache.Compilations())
	assert.Equal(t, 1, cache.Len())
}

func TestPatternCacheConcurrentCompilation(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	rule := &Rule{ID: "r1", Type: RuleTypeRegex, Pattern: `[a-z]+@[a-z]+\.com`}

	var wg sync.WaitGroup
	results := make([]*CompiledPattern, 64)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = cache.GetOrCompile(context.Background(), rule)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), cache.Compilations())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestPatternCacheKey(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	ctx := context.Background()

	rule := Rule{ID: "r1", Type: RuleTypeRegex, Pattern: "ssn"}
	p1 := cache.GetOrCompile(ctx, &rule)

	rule.CaseSensitive = true
	p2 := cache.GetOrCompile(ctx, &rule)
	assert.NotSame(t, p1, p2, "case sensitivity is part of the key")

	rule.Pattern = "social"
	p3 := cache.GetOrCompile(ctx, &rule)
	assert.NotSame(t, p2, p3, "pattern is part of the key")

	other := Rule{ID: "r2", Type: RuleTypeRegex, Pattern: "ssn"}
	assert.NotSame(t, p1, cache.GetOrCompile(ctx, &other), "rule id is part of the key")

	assert.Equal(t, int64(4), cache.Compilations())
}

func TestPatternCacheInvalidPattern(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	ctx := context.Background()

	tcs := map[string]Rule{
		"regex":         {ID: "bad-regex", Type: RuleTypeRegex, Pattern: "([a-z"},
		"empty regex":   {ID: "empty", Type: RuleTypeColumnName, Pattern: ""},
		"range":         {ID: "bad-range", Type: RuleTypeValueRange, Pattern: "ten..twenty"},
		"inverted":      {ID: "inverted", Type: RuleTypeValueRange, Pattern: "20..10"},
		"statistical":   {ID: "bad-cel", Type: RuleTypeStatistical, Pattern: "value >"},
		"non bool":      {ID: "non-bool", Type: RuleTypeStatistical, Pattern: "value + 1.0"},
		"metadata":      {ID: "bad-meta", Type: RuleTypeMetadata, Pattern: "[not, a, map]"},
		"composite":     {ID: "bad-composite", Type: RuleTypeComposite, Pattern: "operator: XOR"},
		"one child":     {ID: "one-child", Type: RuleTypeComposite, Pattern: "operator: AND\nrules:\n  - rule_type: regex\n    pattern: x\n"},
		"empty dict":    {ID: "empty-dict", Type: RuleTypeDictionary, Pattern: " , ,"},
		"unknown child": {ID: "unknown-child", Type: RuleTypeComposite, Pattern: "operator: OR\nrules:\n  - rule_type: ml\n    pattern: x\n  - rule_type: regex\n    pattern: y\n"},
	}

	for name, rule := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := cache.GetOrCompile(ctx, &rule)
			assert.True(t, p.NeverMatches())
			require.ErrorIs(t, p.Err(), ErrInvalidPattern)
			assert.Same(t, p, cache.GetOrCompile(ctx, &rule), "sentinel is cached")
		})
	}
}

func TestPatternCacheNegativeLookaheadNeverMatches(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	p := cache.GetOrCompile(context.Background(), &Rule{ID: "r", Type: RuleTypeRegex, Pattern: "(?!.*)"})
	require.False(t, p.NeverMatches(), "the expression compiles")

	for _, s := range []string{"", "ssn", "anything at all"} {
		_, ok, err := p.FindString(s)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestPatternCacheBounded(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{Size: 2})
	for _, id := range []string{"a", "b", "c"} {
		cache.GetOrCompile(context.Background(), &Rule{ID: id, Type: RuleTypeRegex, Pattern: id})
	}
	assert.Equal(t, 2, cache.Len())
}

func TestPatternCacheDictionaryResolution(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{terms: map[string][]string{"pii": {"SSN", " email "}}}
	cache := newTestCache(t, PatternCacheConfig{Dictionaries: resolver})
	ctx := context.Background()

	rule := &Rule{ID: "dict", Type: RuleTypeDictionary, Pattern: "pii"}
	p := cache.GetOrCompile(ctx, rule)
	require.False(t, p.NeverMatches())
	require.Len(t, p.terms, 2)
	assert.Equal(t, "ssn", p.terms[0].term, "terms are lowercased unless case sensitive")
	assert.Equal(t, "email", p.terms[1].term)

	other := &Rule{ID: "dict-2", Type: RuleTypeDictionary, Pattern: "pii", WholeWordOnly: true}
	p2 := cache.GetOrCompile(ctx, other)
	require.NotNil(t, p2.terms[0].regex)
	assert.Equal(t, int64(1), resolver.calls.Load(), "term list resolved once per key")

	resolver.terms["pii"] = []string{"passport"}
	cache.InvalidateDictionary("pii")

	p = cache.GetOrCompile(ctx, rule)
	require.Len(t, p.terms, 1)
	assert.Equal(t, "passport", p.terms[0].term)
	assert.Equal(t, int64(2), resolver.calls.Load())
}

func TestPatternCacheInlineDictionary(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{terms: map[string][]string{}}
	cache := newTestCache(t, PatternCacheConfig{Dictionaries: resolver})

	p := cache.GetOrCompile(context.Background(), &Rule{ID: "d", Type: RuleTypeDictionary, Pattern: "dob, birth_date"})
	require.Len(t, p.terms, 2)
	assert.Equal(t, "dob", p.terms[0].term)
	assert.Equal(t, "birth_date", p.terms[1].term)
}

func TestPatternCacheResolverErrorNotCached(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{err: errors.New("catalog unavailable")}
	cache := newTestCache(t, PatternCacheConfig{Dictionaries: resolver})
	rule := &Rule{ID: "d", Type: RuleTypeDictionary, Pattern: "pii"}

	p := cache.GetOrCompile(context.Background(), rule)
	assert.True(t, p.NeverMatches())
	assert.Zero(t, cache.Len())

	resolver.err = nil
	resolver.terms = map[string][]string{"pii": {"ssn"}}
	p = cache.GetOrCompile(context.Background(), rule)
	assert.False(t, p.NeverMatches())
}

func TestPatternCacheInvalidateRule(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t, PatternCacheConfig{})
	ctx := context.Background()

	cache.GetOrCompile(ctx, &Rule{ID: "keep", Type: RuleTypeRegex, Pattern: "a"})
	cache.GetOrCompile(ctx, &Rule{ID: "drop", Type: RuleTypeRegex, Pattern: "b"})
	cache.GetOrCompile(ctx, &Rule{ID: "drop/0", Type: RuleTypeRegex, Pattern: "c"})
	require.Equal(t, 3, cache.Len())

	cache.InvalidateRule("drop")
	assert.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestParseCompositeDepth(t *testing.T) {
	t.Parallel()

	pattern := "operator: OR\nrules:\n  - rule_type: regex\n    pattern: a\n  - rule_type: regex\n    pattern: b\n"

	spec, err := parseComposite("parent", pattern, 0)
	require.NoError(t, err)
	assert.Equal(t, "parent/0", spec.Rules[0].ID)
	assert.Equal(t, "parent/1", spec.Rules[1].ID)

	_, err = parseComposite("parent", pattern, maxCompositeDepth)
	require.ErrorIs(t, err, ErrInvalidPattern)
}
