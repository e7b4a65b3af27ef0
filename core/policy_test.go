package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRuleSetYAML = `
metadata:
  version: "1.2.0"
  description: test rules
  author: data-governance
  frameworks: [hipaa, gdpr]
rules:
  - id: ssn
    rule_type: regex
    pattern: ssn
    priority: 10
    scope: global
    sensitivity_level: restricted
  - rule_type: column_name_pattern
    pattern: email
    priority: 5
    sensitivity_level: confidential
  - id: mrn
    rule_type: dictionary
    pattern: mrn,medical record
    priority: 10
    scope: framework
    framework: hipaa
    whole_word_only: true
    sensitivity_level: restricted
  - id: retired
    rule_type: regex
    pattern: legacy
    priority: 1
    active: false
    sensitivity_level: internal
`

func TestParseRuleSet(t *testing.T) {
	t.Parallel()

	rs, err := ParseRuleSet([]byte(testRuleSetYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", rs.Metadata.Version)
	assert.Equal(t, []ComplianceFramework{FrameworkHIPAA, FrameworkGDPR}, rs.Metadata.Frameworks)
	assert.Len(t, rs.Metadata.Hash, 64)

	require.Len(t, rs.Rules, 4)
	assert.Equal(t, "rule-2", rs.Rules[1].ID, "missing ids are generated")
	assert.Equal(t, RuleTypeColumnName, rs.Rules[1].Type, "legacy types are normalized")
	assert.True(t, rs.Rules[2].WholeWordOnly)
	assert.False(t, rs.Rules[3].IsActive())
	assert.True(t, rs.Rules[0].IsActive())
}

func TestParseRuleSetInvalid(t *testing.T) {
	t.Parallel()

	tcs := map[string]string{
		"duplicate id": `
rules:
  - {id: a, rule_type: regex, pattern: x}
  - {id: a, rule_type: regex, pattern: y}
`,
		"missing pattern": `
rules:
  - {id: a, rule_type: regex}
`,
		"missing type": `
rules:
  - {id: a, pattern: x}
`,
		"framework without name": `
rules:
  - {id: a, rule_type: regex, pattern: x, scope: framework}
`,
		"unknown scope": `
rules:
  - {id: a, rule_type: regex, pattern: x, scope: tenant}
`,
	}

	for name, data := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRuleSet([]byte(data))
			require.ErrorIs(t, err, ErrInvalidRuleSet)
		})
	}

	_, err := ParseRuleSet([]byte("rules: {not: a list"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRuleSet)
}

func TestParseRuleSetKeepsUnknownTypes(t *testing.T) {
	t.Parallel()

	rs, err := ParseRuleSet([]byte("rules:\n  - {id: ml, rule_type: ml_model, pattern: x}\n"))
	require.NoError(t, err)

	warnings := LintRuleSet(context.Background(), rs, newTestCache(t, PatternCacheConfig{}))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ml_model")
}

func TestSaveAndLoadRuleSet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	rs := DefaultRuleSet()
	require.NoError(t, SaveRuleSet(rs, path))
	assert.NotEmpty(t, rs.Metadata.Hash)

	loaded, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, rs.Metadata.Hash, loaded.Metadata.Hash)
	assert.Equal(t, rs.Rules, loaded.Rules)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultRuleSetLintsClean(t *testing.T) {
	t.Parallel()

	rs := DefaultRuleSet()
	require.NoError(t, validateRuleSet(rs))
	assert.Empty(t, LintRuleSet(context.Background(), rs, newTestCache(t, PatternCacheConfig{})))
}

func TestLintRuleSet(t *testing.T) {
	t.Parallel()

	rs := &RuleSet{Rules: []Rule{
		{ID: "ok", Type: RuleTypeRegex, Pattern: "ssn"},
		{ID: "broken", Type: RuleTypeRegex, Pattern: "([a-z"},
		{ID: "range", Type: RuleTypeValueRange, Pattern: "9..1"},
	}}

	warnings := LintRuleSet(context.Background(), rs, newTestCache(t, PatternCacheConfig{}))
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "rule broken")
	assert.Contains(t, warnings[1], "rule range")
}

func TestSelectRules(t *testing.T) {
	t.Parallel()

	inactive := false
	rules := []Rule{
		{ID: "global-late", Priority: 30},
		{ID: "hipaa", Priority: 10, Scope: ScopeFramework, Framework: "hipaa"},
		{ID: "gdpr", Priority: 10, Scope: ScopeFramework, Framework: "gdpr"},
		{ID: "warehouse-only", Priority: 20, DataSources: []string{"warehouse"}},
		{ID: "disabled", Priority: 1, Active: &inactive},
		{ID: "global-early", Priority: 5, Scope: ScopeGlobal},
	}

	tcs := map[string]struct {
		app  Applicability
		want []string
	}{
		"everything active": {
			app:  Applicability{},
			want: []string{"global-early", "hipaa", "gdpr", "warehouse-only", "global-late"},
		},
		"framework filter keeps globals": {
			app:  Applicability{Frameworks: []string{"hipaa"}},
			want: []string{"global-early", "hipaa", "warehouse-only", "global-late"},
		},
		"data source scoping": {
			app:  Applicability{DataSourceID: "lake", Frameworks: []string{"gdpr"}},
			want: []string{"global-early", "gdpr", "global-late"},
		},
		"matching data source": {
			app:  Applicability{DataSourceID: "warehouse", Frameworks: []string{"pci"}},
			want: []string{"global-early", "warehouse-only", "global-late"},
		},
		"include inactive": {
			app:  Applicability{IncludeInactive: true, Frameworks: []string{"soc2"}},
			want: []string{"disabled", "global-early", "warehouse-only", "global-late"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			selected := SelectRules(rules, tc.app)
			ids := make([]string, 0, len(selected))
			for _, r := range selected {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}

	assert.Equal(t, "global-late", rules[0].ID, "input order is untouched")
}

func TestRuleSetBuilder(t *testing.T) {
	t.Parallel()

	b := NewRuleSetBuilder().
		WithMetadata("2.0.0", "warehouse rules", "governance").
		WithFrameworks(FrameworkHIPAA).
		AddRule("mrn", RuleTypeDictionary, "mrn,patient id", 20, "restricted").
		ConfigureLastRule().
		WithName("Medical record number").
		ForFramework(FrameworkHIPAA).
		WholeWordOnly().
		Done().
		AddRule("token", RuleTypeRegex, "tok_[A-Z0-9]+", 10, "restricted").
		ConfigureLastRule().
		CaseSensitive().
		ForDataSources("payments").
		Done().
		AddRule("legacy", RuleTypeRegex, "old", 30, "internal").
		ConfigureLastRule().
		Inactive().
		WithDescription("kept for reference").
		Done()

	rules := b.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "token", rules[0].ID)
	assert.Equal(t, "mrn", rules[1].ID)

	rs := b.Build()
	require.NoError(t, validateRuleSet(rs))
	assert.Equal(t, "2.0.0", rs.Metadata.Version)
	assert.Equal(t, []ComplianceFramework{FrameworkHIPAA}, rs.Metadata.Frameworks)

	mrn := rs.Rules[0]
	assert.Equal(t, ScopeFramework, mrn.Scope)
	assert.Equal(t, "hipaa", mrn.Framework)
	assert.True(t, mrn.WholeWordOnly)
	assert.Equal(t, "Medical record number", mrn.Name)

	assert.True(t, rs.Rules[1].CaseSensitive)
	assert.Equal(t, []string{"payments"}, rs.Rules[1].DataSources)
	assert.False(t, rs.Rules[2].IsActive())
	assert.Equal(t, "kept for reference", rs.Rules[2].Description)
}
