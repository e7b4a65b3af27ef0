package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ComplianceFramework identifies a classification framework
type ComplianceFramework string

const (
	FrameworkSOC2  ComplianceFramework = "soc2"
	FrameworkGDPR  ComplianceFramework = "gdpr"
	FrameworkHIPAA ComplianceFramework = "hipaa"
	FrameworkPCI   ComplianceFramework = "pci"
)

// RuleSetMetadata contains information about the rule set
type RuleSetMetadata struct {
	// Version of the rule set
	Version string `yaml:"version"`

	// When the rule set was created
	CreatedAt time.Time `yaml:"created_at"`

	// Last modification time
	UpdatedAt time.Time `yaml:"updated_at"`

	// Description of the rule set
	Description string `yaml:"description"`

	// Author of the rule set
	Author string `yaml:"author"`

	// Hash of the file content for integrity verification
	Hash string `yaml:"hash,omitempty"`

	// Frameworks this rule set addresses
	Frameworks []ComplianceFramework `yaml:"frameworks,omitempty"`
}

// RuleSet is an authored collection of rules in insertion order
type RuleSet struct {
	Metadata RuleSetMetadata `yaml:"metadata"`
	Rules    []Rule          `yaml:"rules"`
}

// LoadRuleSet reads a YAML rule set file
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates a YAML rule set
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}

	// Ensure all rules have IDs
	for i := range rs.Rules {
		if rs.Rules[i].ID == "" {
			rs.Rules[i].ID = fmt.Sprintf("rule-%d", i+1)
		}
		rs.Rules[i].Type = rs.Rules[i].Type.Normalize()
	}

	if err := validateRuleSet(&rs); err != nil {
		return nil, err
	}

	rs.Metadata.Hash = calculateRuleSetHash(data)
	return &rs, nil
}

// SaveRuleSet writes the rule set as YAML, refreshing its hash
func SaveRuleSet(rs *RuleSet, path string) error {
	rs.Metadata.UpdatedAt = time.Now()
	rs.Metadata.Hash = ""

	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to marshal rule set: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rule set file: %w", err)
	}

	rs.Metadata.Hash = calculateRuleSetHash(data)
	return nil
}

// validateRuleSet checks structural problems that make a rule set unusable.
// Unknown rule types are not errors; they degrade to non-matches.
func validateRuleSet(rs *RuleSet) error {
	var errs []error
	seen := make(map[string]bool, len(rs.Rules))

	for i, rule := range rs.Rules {
		if seen[rule.ID] {
			errs = append(errs, fmt.Errorf("rule %d: duplicate id %q", i, rule.ID))
		}
		seen[rule.ID] = true

		if rule.Type == "" {
			errs = append(errs, fmt.Errorf("rule %s has no type", rule.ID))
		}
		if rule.Pattern == "" {
			errs = append(errs, fmt.Errorf("rule %s has no pattern", rule.ID))
		}

		switch rule.Scope {
		case "", ScopeGlobal:
		case ScopeFramework:
			if rule.Framework == "" {
				errs = append(errs, fmt.Errorf("framework-scoped rule %s has no framework", rule.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("rule %s has unknown scope %q", rule.ID, rule.Scope))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRuleSet, errors.Join(errs...))
	}
	return nil
}

// LintRuleSet compiles every rule and reports rules that can never match
func LintRuleSet(ctx context.Context, rs *RuleSet, cache *PatternCache) []string {
	var warnings []string
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if !rule.Type.Known() {
			warnings = append(warnings, fmt.Sprintf("rule %s: unsupported type %q is never matched", rule.ID, rule.Type))
			continue
		}
		if p := cache.GetOrCompile(ctx, rule); p.NeverMatches() {
			warnings = append(warnings, fmt.Sprintf("rule %s: %v", rule.ID, p.Err()))
		}
	}
	return warnings
}

// calculateRuleSetHash generates a hash of the rule set content
func calculateRuleSetHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Applicability describes the evaluation context used to select rules
type Applicability struct {
	// Data source the entities come from; empty skips data-source scoping
	DataSourceID string

	// Requested frameworks; empty means every framework
	Frameworks []string

	// Keep rules whose active flag is false
	IncludeInactive bool
}

// IsRuleApplicable checks whether a rule applies in the given context
func IsRuleApplicable(rule *Rule, app Applicability) bool {
	if !app.IncludeInactive && !rule.IsActive() {
		return false
	}

	if len(rule.DataSources) > 0 && app.DataSourceID != "" &&
		!slices.Contains(rule.DataSources, app.DataSourceID) {
		return false
	}

	if !rule.IsGlobal() && len(app.Frameworks) > 0 &&
		!slices.Contains(app.Frameworks, rule.Framework) {
		return false
	}

	return true
}

// SelectRules filters rules by applicability and sorts them by ascending
// priority. Ties keep insertion order.
func SelectRules(rules []Rule, app Applicability) []Rule {
	selected := make([]Rule, 0, len(rules))
	for i := range rules {
		if IsRuleApplicable(&rules[i], app) {
			selected = append(selected, rules[i])
		}
	}
	SortRules(selected)
	return selected
}

// SortRules sorts rules in place by ascending priority, keeping insertion
// order among equal priorities
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

// DefaultRuleSet returns a baseline rule set for common sensitive columns
func DefaultRuleSet() *RuleSet {
	now := time.Now()
	return &RuleSet{
		Metadata: RuleSetMetadata{
			Version:     "1.0.0",
			CreatedAt:   now,
			UpdatedAt:   now,
			Description: "Baseline sensitive column classification rules",
			Author:      "csp-classify",
			Frameworks:  []ComplianceFramework{FrameworkSOC2, FrameworkGDPR, FrameworkHIPAA, FrameworkPCI},
		},
		Rules: []Rule{
			{
				ID:               "pii-ssn",
				Name:             "US Social Security Number",
				Type:             RuleTypeRegex,
				Pattern:          `\bssn\b|social[_ ]?security|\b\d{3}-\d{2}-\d{4}\b`,
				Priority:         10,
				Scope:            ScopeGlobal,
				SensitivityLevel: "restricted",
			},
			{
				ID:               "pii-email-column",
				Name:             "Email column",
				Type:             RuleTypeColumnName,
				Pattern:          `e[-_]?mail`,
				Priority:         20,
				Scope:            ScopeGlobal,
				SensitivityLevel: "confidential",
			},
			{
				ID:               "pii-email-value",
				Name:             "Email address values",
				Type:             RuleTypeRegex,
				Pattern:          `[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`,
				Priority:         25,
				Scope:            ScopeGlobal,
				SensitivityLevel: "confidential",
			},
			{
				ID:               "pci-card-number",
				Name:             "Payment card number",
				Type:             RuleTypeRegex,
				Pattern:          `\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13})\b|card[_ ]?(?:number|no)`,
				Priority:         30,
				Scope:            ScopeFramework,
				Framework:        string(FrameworkPCI),
				SensitivityLevel: "restricted",
			},
			{
				ID:               "hipaa-medical-record",
				Name:             "Medical record identifiers",
				Type:             RuleTypeDictionary,
				Pattern:          "mrn,medical record,patient id,diagnosis",
				Priority:         40,
				Scope:            ScopeFramework,
				Framework:        string(FrameworkHIPAA),
				WholeWordOnly:    true,
				SensitivityLevel: "restricted",
			},
			{
				ID:               "gdpr-birth-date",
				Name:             "Date of birth",
				Type:             RuleTypeDictionary,
				Pattern:          "dob,birth_date,date_of_birth,birthday",
				Priority:         50,
				Scope:            ScopeFramework,
				Framework:        string(FrameworkGDPR),
				SensitivityLevel: "confidential",
			},
			{
				ID:               "credential-secret",
				Name:             "Credentials and secrets",
				Type:             RuleTypeDictionary,
				Pattern:          "password,passwd,secret,api_key,access_token",
				Priority:         60,
				Scope:            ScopeGlobal,
				SensitivityLevel: "restricted",
			},
		},
	}
}
