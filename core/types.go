package core

import (
	"strings"
	"time"
)

// RuleType selects the matching strategy of a rule
type RuleType string

const (
	RuleTypeRegex       RuleType = "regex"
	RuleTypeDictionary  RuleType = "dictionary"
	RuleTypeColumnName  RuleType = "column_name"
	RuleTypeTableName   RuleType = "table_name"
	RuleTypeSchemaName  RuleType = "schema_name"
	RuleTypeDataType    RuleType = "data_type"
	RuleTypeValueRange  RuleType = "value_range"
	RuleTypeStatistical RuleType = "statistical"
	RuleTypeMetadata    RuleType = "metadata"
	RuleTypeComposite   RuleType = "composite"
)

// AllRuleTypes lists every rule type the engine knows how to match
var AllRuleTypes = []RuleType{
	RuleTypeRegex,
	RuleTypeDictionary,
	RuleTypeColumnName,
	RuleTypeTableName,
	RuleTypeSchemaName,
	RuleTypeDataType,
	RuleTypeValueRange,
	RuleTypeStatistical,
	RuleTypeMetadata,
	RuleTypeComposite,
}

// ruleTypeAliases maps legacy spellings found in stored rules
var ruleTypeAliases = map[string]RuleType{
	"column_name_pattern": RuleTypeColumnName,
	"table_name_pattern":  RuleTypeTableName,
	"schema_name_pattern": RuleTypeSchemaName,
	"data_type_pattern":   RuleTypeDataType,
	"value_range_pattern": RuleTypeValueRange,
	"statistical_pattern": RuleTypeStatistical,
	"metadata_pattern":    RuleTypeMetadata,
	"composite_pattern":   RuleTypeComposite,
	"string":              RuleTypeDictionary,
}

// Normalize lowercases the rule type and resolves legacy aliases
func (t RuleType) Normalize() RuleType {
	s := strings.ToLower(strings.TrimSpace(string(t)))
	if alias, ok := ruleTypeAliases[s]; ok {
		return alias
	}
	return RuleType(s)
}

// Known reports whether the engine has a matcher for the type
func (t RuleType) Known() bool {
	n := t.Normalize()
	for _, rt := range AllRuleTypes {
		if rt == n {
			return true
		}
	}
	return false
}

// Scope defines where a rule applies
type Scope string

const (
	// ScopeGlobal rules apply platform-wide and may stop evaluation early
	ScopeGlobal Scope = "global"

	// ScopeFramework rules apply within one classification framework
	ScopeFramework Scope = "framework"
)

// EntityType identifies the kind of data asset being classified
type EntityType string

const (
	EntityScanResult  EntityType = "scan_result"
	EntityCatalogItem EntityType = "catalog_item"
	EntityDataSource  EntityType = "data_source"
)

// RuleStats holds the execution statistics of a rule as last persisted
type RuleStats struct {
	ExecutionCount     int64     `yaml:"execution_count" json:"execution_count"`
	SuccessCount       int64     `yaml:"success_count" json:"success_count"`
	AvgExecutionTimeMs float64   `yaml:"avg_execution_time_ms" json:"avg_execution_time_ms"`
	LastExecuted       time.Time `yaml:"last_executed,omitempty" json:"last_executed,omitempty"`
}

// Rule is a configured classification strategy. The engine only reads rules;
// statistics flow back out as RuleStatsDelta values.
type Rule struct {
	// Unique identifier for the rule
	ID string `yaml:"id" json:"id"`

	// Human readable name
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Matching strategy
	Type RuleType `yaml:"rule_type" json:"rule_type"`

	// Strategy-specific payload: regex, dictionary key, range, CEL expression...
	Pattern string `yaml:"pattern" json:"pattern"`

	// Lower priorities evaluate first
	Priority int `yaml:"priority" json:"priority"`

	// global or framework
	Scope Scope `yaml:"scope" json:"scope"`

	// Framework the rule belongs to when Scope is framework
	Framework string `yaml:"framework,omitempty" json:"framework,omitempty"`

	// Data sources the rule is restricted to; empty means all
	DataSources []string `yaml:"data_sources,omitempty" json:"data_sources,omitempty"`

	// Label assigned on match
	SensitivityLevel string `yaml:"sensitivity_level" json:"sensitivity_level"`

	// Dictionary and regex flags
	CaseSensitive bool `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
	WholeWordOnly bool `yaml:"whole_word_only,omitempty" json:"whole_word_only,omitempty"`

	// Inactive rules are skipped by SelectRules; nil means active
	Active *bool `yaml:"active,omitempty" json:"active,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Statistics seeded from storage
	Stats RuleStats `yaml:"stats,omitempty" json:"stats,omitempty"`
}

// IsActive reports whether the rule is enabled
func (r *Rule) IsActive() bool {
	return r.Active == nil || *r.Active
}

// IsGlobal reports whether the rule has global scope. Rules without an
// explicit scope are global.
func (r *Rule) IsGlobal() bool {
	return r.Scope == "" || r.Scope == ScopeGlobal
}

// Entity is a read-only view of the data asset being classified. Which fields
// are populated depends on Type.
type Entity struct {
	Type EntityType `yaml:"entity_type" json:"entity_type"`
	ID   string     `yaml:"entity_id" json:"entity_id"`

	// Catalog item or data source name
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	ColumnName string `yaml:"column_name,omitempty" json:"column_name,omitempty"`
	TableName  string `yaml:"table_name,omitempty" json:"table_name,omitempty"`
	SchemaName string `yaml:"schema_name,omitempty" json:"schema_name,omitempty"`
	DataType   string `yaml:"data_type,omitempty" json:"data_type,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Data source fields
	SourceType string `yaml:"source_type,omitempty" json:"source_type,omitempty"`
	Host       string `yaml:"host,omitempty" json:"host,omitempty"`

	// Data source the entity was discovered in
	DataSourceID string `yaml:"data_source_id,omitempty" json:"data_source_id,omitempty"`

	SampleValues []string          `yaml:"sample_values,omitempty" json:"sample_values,omitempty"`
	Tags         []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Path returns a human-readable hierarchical label for the entity
func (e *Entity) Path() string {
	join := func(parts ...string) string {
		var out []string
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return strings.Join(out, ".")
	}

	switch e.Type {
	case EntityScanResult:
		if p := join(e.SchemaName, e.TableName, e.ColumnName); p != "" {
			return p
		}
	case EntityCatalogItem:
		if p := join(e.SchemaName, e.TableName, e.Name); p != "" {
			return p
		}
	case EntityDataSource:
		if e.SourceType != "" && e.Name != "" {
			return e.SourceType + "://" + e.Name
		}
		if e.Name != "" {
			return e.Name
		}
	}
	return string(e.Type) + ":" + e.ID
}
