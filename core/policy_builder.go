package core

import "time"

// RuleSetBuilder provides a fluent interface for creating rule sets
type RuleSetBuilder struct {
	rs *RuleSet
}

// NewRuleSetBuilder creates a new rule set builder
func NewRuleSetBuilder() *RuleSetBuilder {
	return &RuleSetBuilder{
		rs: &RuleSet{
			Metadata: RuleSetMetadata{
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			},
			Rules: []Rule{},
		},
	}
}

// WithMetadata sets the rule set metadata
func (b *RuleSetBuilder) WithMetadata(version, description, author string) *RuleSetBuilder {
	b.rs.Metadata.Version = version
	b.rs.Metadata.Description = description
	b.rs.Metadata.Author = author
	return b
}

// WithFrameworks sets the frameworks the rule set addresses
func (b *RuleSetBuilder) WithFrameworks(frameworks ...ComplianceFramework) *RuleSetBuilder {
	b.rs.Metadata.Frameworks = frameworks
	return b
}

// AddRule adds a global rule to the rule set
func (b *RuleSetBuilder) AddRule(id string, ruleType RuleType, pattern string, priority int, sensitivity string) *RuleSetBuilder {
	b.rs.Rules = append(b.rs.Rules, Rule{
		ID:               id,
		Type:             ruleType,
		Pattern:          pattern,
		Priority:         priority,
		Scope:            ScopeGlobal,
		SensitivityLevel: sensitivity,
	})
	return b
}

// ConfigureLastRule configures additional properties for the last added rule
func (b *RuleSetBuilder) ConfigureLastRule() *RuleConfigurator {
	if len(b.rs.Rules) == 0 {
		b.rs.Rules = append(b.rs.Rules, Rule{})
	}

	return &RuleConfigurator{
		builder: b,
		rule:    &b.rs.Rules[len(b.rs.Rules)-1],
	}
}

// Build returns the rule set
func (b *RuleSetBuilder) Build() *RuleSet {
	b.rs.Metadata.UpdatedAt = time.Now()
	return b.rs
}

// Rules returns the rule set's rules sorted by priority
func (b *RuleSetBuilder) Rules() []Rule {
	rules := make([]Rule, len(b.rs.Rules))
	copy(rules, b.rs.Rules)
	SortRules(rules)
	return rules
}

// RuleConfigurator provides methods to configure a rule
type RuleConfigurator struct {
	builder *RuleSetBuilder
	rule    *Rule
}

// WithName sets the rule name
func (c *RuleConfigurator) WithName(name string) *RuleConfigurator {
	c.rule.Name = name
	return c
}

// WithDescription sets the description for the rule
func (c *RuleConfigurator) WithDescription(description string) *RuleConfigurator {
	c.rule.Description = description
	return c
}

// ForFramework makes the rule framework-scoped
func (c *RuleConfigurator) ForFramework(framework ComplianceFramework) *RuleConfigurator {
	c.rule.Scope = ScopeFramework
	c.rule.Framework = string(framework)
	return c
}

// ForDataSources restricts the rule to the given data sources
func (c *RuleConfigurator) ForDataSources(ids ...string) *RuleConfigurator {
	c.rule.DataSources = ids
	return c
}

// CaseSensitive makes dictionary and regex matching case sensitive
func (c *RuleConfigurator) CaseSensitive() *RuleConfigurator {
	c.rule.CaseSensitive = true
	return c
}

// WholeWordOnly requires dictionary terms to appear as whole words
func (c *RuleConfigurator) WholeWordOnly() *RuleConfigurator {
	c.rule.WholeWordOnly = true
	return c
}

// Inactive disables the rule
func (c *RuleConfigurator) Inactive() *RuleConfigurator {
	active := false
	c.rule.Active = &active
	return c
}

// Done returns to the rule set builder
func (c *RuleConfigurator) Done() *RuleSetBuilder {
	return c.builder
}
