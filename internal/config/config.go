// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/hash"
	"github.com/gradia/stoneid/internal/stone"
)

// Config holds all application configuration.
type Config struct {
	// Identifier derivation
	Identifier IdentifierConfig `yaml:"identifier"`

	// Issued-identifier ledger
	Ledger LedgerConfig `yaml:"ledger"`

	// Event bus
	Bus BusConfig `yaml:"bus"`

	// Batch processing
	Batch BatchConfig `yaml:"batch"`

	// Grading report rendering
	Report ReportConfig `yaml:"report"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// IdentifierConfig holds identifier derivation settings.
type IdentifierConfig struct {
	DigestSize int    `envconfig:"STONEID_DIGEST_SIZE" yaml:"digest_size"` // bytes; ids are 2x hex chars
	Encoding   string `envconfig:"STONEID_ENCODING" yaml:"encoding"`
}

// LedgerConfig holds ledger backend settings.
type LedgerConfig struct {
	Type     string `envconfig:"STONEID_LEDGER_TYPE" yaml:"type"`
	RedisURL string `envconfig:"STONEID_REDIS_URL" yaml:"redis_url"`
	Prefix   string `envconfig:"STONEID_LEDGER_PREFIX" yaml:"prefix"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"STONEID_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"STONEID_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"STONEID_KAFKA_GROUP" yaml:"kafka_group"`
	JournalPath  string `envconfig:"STONEID_EVENT_JOURNAL" yaml:"journal_path"` // empty = no journal
}

// BatchConfig holds batch processing settings.
type BatchConfig struct {
	Workers       int     `envconfig:"STONEID_BATCH_WORKERS" yaml:"workers"`
	RatePerSecond float64 `envconfig:"STONEID_BATCH_RATE" yaml:"rate_per_second"` // 0 = unlimited
	MetricsFile   string  `envconfig:"STONEID_METRICS_FILE" yaml:"metrics_file"`  // Prometheus textfile; empty = off
}

// ReportConfig holds report settings.
type ReportConfig struct {
	VerifyBaseURL string `envconfig:"STONEID_VERIFY_BASE_URL" yaml:"verify_base_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"STONEID_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"STONEID_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, errors.ConfigError("loading config file", err).WithDetail("path", configPath)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.ConfigError("processing env config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError("validating config", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Identifier = IdentifierConfig{
		DigestSize: stone.DefaultDigestSize,
		Encoding:   string(stone.EncodingComma),
	}

	cfg.Ledger = LedgerConfig{
		Type:     "memory",
		RedisURL: "redis://localhost:6379/0",
		Prefix:   "stoneid:ledger:",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "stoneid",
	}

	cfg.Batch = BatchConfig{
		Workers:       4,
		RatePerSecond: 0,
	}

	cfg.Report = ReportConfig{
		VerifyBaseURL: "https://www.gradia.net",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Identifier validation
	if c.Identifier.DigestSize < hash.MinBlake2bSize || c.Identifier.DigestSize > hash.MaxBlake2bSize {
		errs = append(errs, fmt.Sprintf("digest_size must be between %d and %d bytes", hash.MinBlake2bSize, hash.MaxBlake2bSize))
	}

	if _, err := stone.ParseEncoding(c.Identifier.Encoding); err != nil {
		errs = append(errs, fmt.Sprintf("invalid encoding: %s (must be comma or length-prefixed)", c.Identifier.Encoding))
	}

	// Ledger validation
	validLedgerTypes := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validLedgerTypes[c.Ledger.Type] {
		errs = append(errs, fmt.Sprintf("invalid ledger type: %s (must be none, memory, or redis)", c.Ledger.Type))
	}

	if c.Ledger.Type == "redis" && c.Ledger.RedisURL == "" {
		errs = append(errs, "redis_url is required for the redis ledger")
	}

	// Bus validation
	validBusTypes := map[string]bool{"none": true, "memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be none, memory, or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}

	// Batch validation
	if c.Batch.Workers < 1 {
		errs = append(errs, "batch workers must be positive")
	}

	if c.Batch.RatePerSecond < 0 {
		errs = append(errs, "rate_per_second must not be negative")
	}

	// Report validation
	if u, err := url.Parse(c.Report.VerifyBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid verify_base_url: %q (must be an http or https URL)", c.Report.VerifyBaseURL))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GeneratorConfig returns the identifier generator settings.
func (c *Config) GeneratorConfig() stone.GeneratorConfig {
	return stone.GeneratorConfig{
		DigestSize: c.Identifier.DigestSize,
		Encoding:   stone.Encoding(c.Identifier.Encoding),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
