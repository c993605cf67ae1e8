/*
Package config loads the static configuration of the engine.

LOAD ORDER (later wins):
  1. Defaults()
  2. YAML file (path argument, or WINLOSS_CONFIG)
  3. .env in the working directory, if present
  4. Environment variables (WINLOSS_*, LOG_*)

Validation runs last. An unknown timezone, a rate outside (0, 1] or an
unknown policy name fails Load; the process must not start half-configured.

EXAMPLE (config.yaml):
  timezone: Asia/Manila
  rebate:
    rate: 0.05
    approval: pending
    wake_offset: 5m
  reconcile:
    interval: 5m
    precedence: manual
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Policy names accepted by Validate.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"

	PrecedenceManual       = "manual"
	PrecedenceTransactions = "transactions"
)

type Config struct {
	Timezone  string          `yaml:"timezone"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Rebate    RebateConfig    `yaml:"rebate"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RebateConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Rate       string        `yaml:"rate"` // decimal fraction, e.g. "0.05"
	Approval   string        `yaml:"approval"`
	WakeOffset time.Duration `yaml:"wake_offset"`
}

type ReconcileConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Precedence string        `yaml:"precedence"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxDays    int    `yaml:"max_days"`
	Compress   bool   `yaml:"compress"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Timezone: "Asia/Manila",
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Database: DatabaseConfig{Path: "./data/winloss.db"},
		Rebate: RebateConfig{
			Enabled:  true,
			Rate:     "0.05",
			Approval: ApprovalPending,
		},
		Reconcile: ReconcileConfig{
			Enabled:    true,
			Interval:   5 * time.Minute,
			Precedence: PrecedenceManual,
		},
		Log: LogConfig{Level: "info", Compress: true},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("WINLOSS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Timezone = getenvDefault("WINLOSS_TIMEZONE", c.Timezone)
	c.HTTP.Addr = getenvDefault("WINLOSS_HTTP_ADDR", c.HTTP.Addr)
	if origins := splitCSV(os.Getenv("WINLOSS_CORS_ORIGINS")); len(origins) > 0 {
		c.HTTP.AllowedOrigins = origins
	}
	c.Database.Path = getenvDefault("WINLOSS_DB_PATH", c.Database.Path)

	c.Rebate.Rate = getenvDefault("WINLOSS_REBATE_RATE", c.Rebate.Rate)
	c.Rebate.Approval = getenvDefault("WINLOSS_REBATE_APPROVAL", c.Rebate.Approval)
	c.Reconcile.Precedence = getenvDefault("WINLOSS_RECONCILE_PRECEDENCE", c.Reconcile.Precedence)

	var err error
	if c.Rebate.Enabled, err = getenvBool("WINLOSS_REBATE_ENABLED", c.Rebate.Enabled); err != nil {
		return err
	}
	if c.Reconcile.Enabled, err = getenvBool("WINLOSS_RECONCILE_ENABLED", c.Reconcile.Enabled); err != nil {
		return err
	}
	if c.Rebate.WakeOffset, err = getenvDuration("WINLOSS_REBATE_WAKE_OFFSET", c.Rebate.WakeOffset); err != nil {
		return err
	}
	if c.Reconcile.Interval, err = getenvDuration("WINLOSS_RECONCILE_INTERVAL", c.Reconcile.Interval); err != nil {
		return err
	}

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.File = getenvDefault("LOG_FILE", c.Log.File)
	return nil
}

// Validate checks every field that would otherwise fail at first use.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return fmt.Errorf("config: unknown timezone %q", c.Timezone)
	}
	rate, err := c.RebateRate()
	if err != nil {
		return err
	}
	if !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: rebate rate %s must be in (0, 1]", rate)
	}
	switch c.Rebate.Approval {
	case ApprovalPending, ApprovalApproved:
	default:
		return fmt.Errorf("config: unknown rebate approval policy %q", c.Rebate.Approval)
	}
	if c.Rebate.WakeOffset < 0 {
		return errors.New("config: rebate wake offset must not be negative")
	}
	switch c.Reconcile.Precedence {
	case PrecedenceManual, PrecedenceTransactions:
	default:
		return fmt.Errorf("config: unknown reconcile precedence %q", c.Reconcile.Precedence)
	}
	if c.Reconcile.Interval < time.Second {
		return fmt.Errorf("config: reconcile interval %s is below 1s", c.Reconcile.Interval)
	}
	if c.Database.Path == "" {
		return errors.New("config: database path required")
	}
	return nil
}

// RebateRate parses the configured rate.
func (c *Config) RebateRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Rebate.Rate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: invalid rebate rate %q: %w", c.Rebate.Rate, err)
	}
	return rate, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
