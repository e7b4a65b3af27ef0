package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CLASSIFY_"

// MCPConfig configures the MCP tool server
type MCPConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// RetentionConfig controls pruning of stored classification results
type RetentionConfig struct {
	// Days to keep results; 0 keeps them forever
	ResultDays int `yaml:"result_days"`

	// Standard cron expression for the prune job
	Schedule string `yaml:"schedule"`
}

// Config holds runtime settings for the classifier
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Rule set YAML; the built-in rule set is used when empty
	RulesPath string `yaml:"rules_path"`

	// Dictionary YAML of key: [terms]
	DictionariesPath string `yaml:"dictionaries_path"`

	// SQLite database; persistence is disabled when empty
	DBPath string `yaml:"db_path"`

	// JSONL audit log; disabled when empty
	AuditLogPath string `yaml:"audit_log_path"`
	AuditLevel   string `yaml:"audit_level"`

	Workers          int           `yaml:"workers"`
	PatternCacheSize int           `yaml:"pattern_cache_size"`
	RegexTimeout     time.Duration `yaml:"regex_timeout"`
	ValueRedaction   string        `yaml:"value_redaction"`

	MCP       MCPConfig       `yaml:"mcp"`
	Retention RetentionConfig `yaml:"retention"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		AuditLevel:       "standard",
		Workers:          4,
		PatternCacheSize: 1024,
		RegexTimeout:     100 * time.Millisecond,
		ValueRedaction:   "mask",
		MCP: MCPConfig{
			RateLimitPerMinute: 60,
		},
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from CLASSIFY_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FORMAT":         &c.LogFormat,
		"RULES_PATH":         &c.RulesPath,
		"DICTIONARIES_PATH":  &c.DictionariesPath,
		"DB_PATH":            &c.DBPath,
		"AUDIT_LOG_PATH":     &c.AuditLogPath,
		"AUDIT_LEVEL":        &c.AuditLevel,
		"VALUE_REDACTION":    &c.ValueRedaction,
		"RETENTION_SCHEDULE": &c.Retention.Schedule,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":                   &c.Workers,
		"PATTERN_CACHE_SIZE":        &c.PatternCacheSize,
		"MCP_RATE_LIMIT_PER_MINUTE": &c.MCP.RateLimitPerMinute,
		"RETENTION_RESULT_DAYS":     &c.Retention.ResultDays,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "REGEX_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sREGEX_TIMEOUT: %w", EnvPrefix, err)
		}
		c.RegexTimeout = d
	}

	return nil
}

// Validate checks numeric settings
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.PatternCacheSize < 1 {
		errs = append(errs, fmt.Errorf("pattern_cache_size must be positive, got %d", c.PatternCacheSize))
	}
	if c.RegexTimeout <= 0 {
		errs = append(errs, fmt.Errorf("regex_timeout must be positive, got %s", c.RegexTimeout))
	}
	if c.MCP.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("mcp.rate_limit_per_minute must not be negative, got %d", c.MCP.RateLimitPerMinute))
	}
	if c.Retention.ResultDays < 0 {
		errs = append(errs, fmt.Errorf("retention.result_days must not be negative, got %d", c.Retention.ResultDays))
	}
	if c.Retention.ResultDays > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("retention.schedule %q: %w", c.Retention.Schedule, err))
		}
	}
	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
