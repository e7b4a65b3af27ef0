package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPatternCacheSize bounds the number of compiled patterns kept
	DefaultPatternCacheSize = 1024

	// DefaultRegexTimeout bounds a single regex search
	DefaultRegexTimeout = 100 * time.Millisecond

	maxCompositeDepth = 8
)

// DictionaryResolver returns the current term list for a dictionary key.
// found is false when the key is unknown to the resolver.
type DictionaryResolver interface {
	ResolveTerms(ctx context.Context, key string) (terms []string, found bool, err error)
}

// cacheKey identifies a compiled artifact. Any change to the rule's pattern
// or case sensitivity produces a new key; the stale entry ages out of the LRU.
type cacheKey struct {
	RuleID        string
	Pattern       string
	CaseSensitive bool
	WholeWord     bool
	Type          RuleType
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s\x00%s\x00%t\x00%t\x00%s", k.RuleID, k.Pattern, k.CaseSensitive, k.WholeWord, k.Type)
}

// compiledTerm is a normalized dictionary term and, for whole-word rules, its
// boundary regex
type compiledTerm struct {
	term  string
	regex *regexp2.Regexp
}

// fieldPattern is one key of a metadata rule
type fieldPattern struct {
	key   string
	regex *regexp2.Regexp
}

// compositeSpec is the parsed payload of a composite rule
type compositeSpec struct {
	Operator string `yaml:"operator"`
	Rules    []Rule `yaml:"rules"`
}

// CompiledPattern is the cached artifact for one rule. A pattern that failed
// to compile never matches.
type CompiledPattern struct {
	Source string

	never bool
	err   error

	regex     *regexp2.Regexp
	terms     []compiledTerm
	valueRng  *valueRange
	program   cel.Program
	fields    []fieldPattern
	composite *compositeSpec
}

// NeverMatches reports whether the pattern is the never-matching sentinel
func (p *CompiledPattern) NeverMatches() bool {
	return p == nil || p.never
}

// Err returns the compilation error behind a never-matching pattern
func (p *CompiledPattern) Err() error {
	return p.err
}

// FindString returns the first match of the regex in text
func (p *CompiledPattern) FindString(text string) (string, bool, error) {
	if p.NeverMatches() || p.regex == nil {
		return "", false, nil
	}
	return findString(p.regex, text)
}

func findString(re *regexp2.Regexp, text string) (string, bool, error) {
	m, err := re.FindStringMatch(text)
	if err != nil {
		return "", false, err
	}
	if m == nil {
		return "", false, nil
	}
	return m.String(), true, nil
}

func neverMatches(source string, err error) *CompiledPattern {
	return &CompiledPattern{Source: source, never: true, err: err}
}

// PatternCacheConfig configures a PatternCache
type PatternCacheConfig struct {
	// Size is the LRU capacity; sized to the active rule count
	Size int

	// RegexTimeout bounds each regex search
	RegexTimeout time.Duration

	// Dictionaries resolves dictionary keys; nil means inline terms only
	Dictionaries DictionaryResolver

	Logger *slog.Logger
}

// PatternCache owns compiled patterns and resolved dictionary term lists. It
// is safe for concurrent use; each key is compiled at most once at a time.
type PatternCache struct {
	entries      *lru.Cache[cacheKey, *CompiledPattern]
	terms        *lru.Cache[string, []string]
	group        singleflight.Group
	dictionaries DictionaryResolver
	regexTimeout time.Duration
	logger       *slog.Logger

	compilations atomic.Int64
}

// NewPatternCache creates a pattern cache
func NewPatternCache(config PatternCacheConfig) (*PatternCache, error) {
	if config.Size <= 0 {
		config.Size = DefaultPatternCacheSize
	}
	if config.RegexTimeout <= 0 {
		config.RegexTimeout = DefaultRegexTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	entries, err := lru.New[cacheKey, *CompiledPattern](config.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	terms, err := lru.New[string, []string](config.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dictionary cache: %w", err)
	}

	return &PatternCache{
		entries:      entries,
		terms:        terms,
		dictionaries: config.Dictionaries,
		regexTimeout: config.RegexTimeout,
		logger:       config.Logger,
	}, nil
}

// Len returns the number of cached compiled patterns
func (c *PatternCache) Len() int {
	return c.entries.Len()
}

// Compilations returns how many times a pattern has been compiled
func (c *PatternCache) Compilations() int64 {
	return c.compilations.Load()
}

// GetOrCompile returns the compiled artifact for the rule, compiling it on
// first use. Compilation failures are logged and cached as a never-matching
// pattern.
func (c *PatternCache) GetOrCompile(ctx context.Context, rule *Rule) *CompiledPattern {
	return c.getOrCompile(ctx, rule, 0)
}

func (c *PatternCache) getOrCompile(ctx context.Context, rule *Rule, depth int) *CompiledPattern {
	key := cacheKey{
		RuleID:        rule.ID,
		Pattern:       rule.Pattern,
		CaseSensitive: rule.CaseSensitive,
		WholeWord:     rule.WholeWordOnly,
		Type:          rule.Type.Normalize(),
	}

	if p, ok := c.entries.Get(key); ok {
		return p
	}

	v, _, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if p, ok := c.entries.Get(key); ok {
			return p, nil
		}

		p, cacheable := c.compile(ctx, key, depth)
		if p.NeverMatches() {
			c.logger.Warn("rule pattern failed to compile, rule will never match",
				slog.String("rule_id", rule.ID),
				slog.String("rule_type", string(key.Type)),
				slog.Any("error", p.err),
			)
		}
		if cacheable {
			c.entries.Add(key, p)
		}
		return p, nil
	})

	return v.(*CompiledPattern)
}

// compile builds the artifact for key. cacheable is false for transient
// failures such as an unavailable dictionary resolver.
func (c *PatternCache) compile(ctx context.Context, key cacheKey, depth int) (p *CompiledPattern, cacheable bool) {
	c.compilations.Add(1)

	switch key.Type {
	case RuleTypeRegex, RuleTypeColumnName, RuleTypeTableName, RuleTypeSchemaName, RuleTypeDataType:
		re, err := c.compileRegex(key.Pattern, key.CaseSensitive)
		if err != nil {
			return neverMatches(key.Pattern, err), true
		}
		return &CompiledPattern{Source: key.Pattern, regex: re}, true

	case RuleTypeDictionary:
		return c.compileDictionary(ctx, key)

	case RuleTypeValueRange:
		rng, err := parseValueRange(key.Pattern)
		if err != nil {
			return neverMatches(key.Pattern, err), true
		}
		return &CompiledPattern{Source: key.Pattern, valueRng: rng}, true

	case RuleTypeStatistical:
		prg, err := compileStatistical(key.Pattern)
		if err != nil {
			return neverMatches(key.Pattern, err), true
		}
		return &CompiledPattern{Source: key.Pattern, program: prg}, true

	case RuleTypeMetadata:
		fields, err := c.compileMetadata(key.Pattern, key.CaseSensitive)
		if err != nil {
			return neverMatches(key.Pattern, err), true
		}
		return &CompiledPattern{Source: key.Pattern, fields: fields}, true

	case RuleTypeComposite:
		spec, err := parseComposite(key.RuleID, key.Pattern, depth)
		if err != nil {
			return neverMatches(key.Pattern, err), true
		}
		return &CompiledPattern{Source: key.Pattern, composite: spec}, true
	}

	return neverMatches(key.Pattern, fmt.Errorf("%w: unsupported rule type %q", ErrInvalidPattern, key.Type)), true
}

func (c *PatternCache) compileRegex(pattern string, caseSensitive bool) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	opts := regexp2.None
	if !caseSensitive {
		opts |= regexp2.IgnoreCase
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	re.MatchTimeout = c.regexTimeout
	return re, nil
}

func (c *PatternCache) compileDictionary(ctx context.Context, key cacheKey) (*CompiledPattern, bool) {
	terms, err := c.resolveTerms(ctx, key.Pattern)
	if err != nil {
		return neverMatches(key.Pattern, err), false
	}

	var compiled []compiledTerm
	for _, t := range terms {
		if !key.CaseSensitive {
			t = strings.ToLower(t)
		}
		ct := compiledTerm{term: t}
		if key.WholeWord {
			re, err := regexp2.Compile(`\b`+regexp2.Escape(t)+`\b`, regexp2.None)
			if err != nil {
				return neverMatches(key.Pattern, fmt.Errorf("%w: term %q: %v", ErrInvalidPattern, t, err)), true
			}
			re.MatchTimeout = c.regexTimeout
			ct.regex = re
		}
		compiled = append(compiled, ct)
	}

	if len(compiled) == 0 {
		return neverMatches(key.Pattern, fmt.Errorf("%w: dictionary %q has no terms", ErrInvalidPattern, key.Pattern)), true
	}
	return &CompiledPattern{Source: key.Pattern, terms: compiled}, true
}

// resolveTerms returns the cached term list for a dictionary key. Keys the
// resolver does not know are read as an inline comma-separated list.
func (c *PatternCache) resolveTerms(ctx context.Context, key string) ([]string, error) {
	if terms, ok := c.terms.Get(key); ok {
		return terms, nil
	}

	var raw []string
	found := false
	if c.dictionaries != nil {
		var err error
		raw, found, err = c.dictionaries.ResolveTerms(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("resolve dictionary %q: %w", key, err)
		}
	}
	if !found {
		raw = strings.Split(key, ",")
	}

	var terms []string
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}

	c.terms.Add(key, terms)
	return terms, nil
}

func (c *PatternCache) compileMetadata(pattern string, caseSensitive bool) ([]fieldPattern, error) {
	var spec map[string]string
	if err := yaml.Unmarshal([]byte(pattern), &spec); err != nil {
		return nil, fmt.Errorf("%w: metadata pattern: %v", ErrInvalidPattern, err)
	}
	if len(spec) == 0 {
		return nil, fmt.Errorf("%w: metadata pattern has no keys", ErrInvalidPattern)
	}

	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]fieldPattern, 0, len(keys))
	for _, k := range keys {
		re, err := c.compileRegex(spec[k], caseSensitive)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		fields = append(fields, fieldPattern{key: k, regex: re})
	}
	return fields, nil
}

func parseComposite(parentID, pattern string, depth int) (*compositeSpec, error) {
	if depth >= maxCompositeDepth {
		return nil, fmt.Errorf("%w: composite nesting deeper than %d", ErrInvalidPattern, maxCompositeDepth)
	}

	var spec compositeSpec
	if err := yaml.Unmarshal([]byte(pattern), &spec); err != nil {
		return nil, fmt.Errorf("%w: composite pattern: %v", ErrInvalidPattern, err)
	}

	spec.Operator = strings.ToUpper(strings.TrimSpace(spec.Operator))
	if spec.Operator != "AND" && spec.Operator != "OR" {
		return nil, fmt.Errorf("%w: composite operator %q", ErrInvalidPattern, spec.Operator)
	}
	if len(spec.Rules) < 2 {
		return nil, fmt.Errorf("%w: composite needs at least two rules, got %d", ErrInvalidPattern, len(spec.Rules))
	}

	for i := range spec.Rules {
		child := &spec.Rules[i]
		child.ID = fmt.Sprintf("%s/%d", parentID, i)
		if !child.Type.Known() {
			return nil, fmt.Errorf("%w: composite child %d has unsupported type %q", ErrInvalidPattern, i, child.Type)
		}
	}
	return &spec, nil
}

// InvalidateDictionary drops a resolved term list and every compiled
// dictionary pattern built from it
func (c *PatternCache) InvalidateDictionary(key string) {
	c.terms.Remove(key)
	for _, k := range c.entries.Keys() {
		if k.Type == RuleTypeDictionary && k.Pattern == key {
			c.entries.Remove(k)
		}
	}
}

// InvalidateRule drops every compiled artifact owned by a rule
func (c *PatternCache) InvalidateRule(ruleID string) {
	prefix := ruleID + "/"
	for _, k := range c.entries.Keys() {
		if k.RuleID == ruleID || strings.HasPrefix(k.RuleID, prefix) {
			c.entries.Remove(k)
		}
	}
}

// Purge empties the cache
func (c *PatternCache) Purge() {
	c.entries.Purge()
	c.terms.Purge()
}
