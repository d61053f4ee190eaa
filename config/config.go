/*
config.go - Service configuration

PURPOSE:
  Loads rentledger.toml over built-in defaults, then applies environment
  overrides. Every binary (server, CLI subcommands) goes through Load so
  they agree on database, cash accounts and chart of accounts.

FILE FORMAT:
  [server]
  addr = ":8080"

  [database]
  driver = "sqlite3"            # or "postgres"
  dsn    = "rentledger.db"

  [ledger]
  max_retries          = 5
  default_cash_account = "caja"

  [log]
  level = "info"

  [metrics]
  enabled = true

  [nats]
  url     = ""                  # empty disables event publishing
  stream  = "RENTLEDGER_EVENTS"
  subject = "rentledger.entries"

  [adjustment]
  interval = "1h"               # empty disables the job

  [chart]
  receivable-rent   = "1.1.01"
  payable-landlord  = "2.1.01"

  [[cash_accounts]]
  id   = "caja"
  name = "Main cash box"

  [[index_values]]
  index  = "ICL"
  period = "2025-04"
  value  = "1.07"

ENVIRONMENT:
  RENTLEDGER_DB_DRIVER, RENTLEDGER_DB_DSN, RENTLEDGER_ADDR,
  RENTLEDGER_LOG_LEVEL, RENTLEDGER_NATS_URL
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "rentledger.toml"

type Config struct {
	Server       ServerConfig      `toml:"server"`
	Database     DatabaseConfig    `toml:"database"`
	Ledger       LedgerConfig      `toml:"ledger"`
	Log          LogConfig         `toml:"log"`
	Metrics      MetricsConfig     `toml:"metrics"`
	NATS         NATSConfig        `toml:"nats"`
	Adjustment   AdjustmentConfig  `toml:"adjustment"`
	Chart        map[string]string `toml:"chart"`
	CashAccounts []CashAccount     `toml:"cash_accounts"`
	IndexValues  []IndexValue      `toml:"index_values"`
}

type ServerConfig struct {
	Addr         string   `toml:"addr"`
	AllowOrigins []string `toml:"allow_origins"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type LedgerConfig struct {
	MaxRetries         int    `toml:"max_retries"`
	DefaultCashAccount string `toml:"default_cash_account"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

type NATSConfig struct {
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
}

type AdjustmentConfig struct {
	// Interval is a time.ParseDuration string; empty disables the job.
	Interval string `toml:"interval"`
}

type CashAccount struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type IndexValue struct {
	Index  string          `toml:"index"`
	Period string          `toml:"period"`
	Value  decimal.Decimal `toml:"value"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", AllowOrigins: []string{"*"}},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "rentledger.db"},
		Ledger:   LedgerConfig{MaxRetries: 5, DefaultCashAccount: "caja"},
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Enabled: true},
		NATS:     NATSConfig{Stream: "RENTLEDGER_EVENTS", Subject: "rentledger.entries"},
		Chart: map[string]string{
			"receivable-rent":   "receivable-rent",
			"payable-landlord":  "payable-landlord",
			"income-commission": "income-commission",
			"deposit-held":      "deposit-held",
		},
		CashAccounts: []CashAccount{{ID: "caja", Name: "Main cash box"}},
	}
}

// Load reads path over Default and applies environment overrides. A missing
// file at the default path is not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) || path != DefaultPath {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over Default without touching the environment.
func Parse(text string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RENTLEDGER_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("RENTLEDGER_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RENTLEDGER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RENTLEDGER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RENTLEDGER_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn: required")
	}
	if c.Ledger.MaxRetries <= 0 {
		return fmt.Errorf("ledger.max_retries: must be positive, got %d", c.Ledger.MaxRetries)
	}
	if _, err := c.AdjustmentInterval(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for i, acc := range c.CashAccounts {
		if acc.ID == "" {
			return fmt.Errorf("cash_accounts[%d]: id required", i)
		}
		if seen[acc.ID] {
			return fmt.Errorf("cash_accounts[%d]: duplicate id %q", i, acc.ID)
		}
		seen[acc.ID] = true
	}
	for i, iv := range c.IndexValues {
		if iv.Index == "" || iv.Period == "" {
			return fmt.Errorf("index_values[%d]: index and period required", i)
		}
		if !iv.Value.IsPositive() {
			return fmt.Errorf("index_values[%d]: value must be positive", i)
		}
	}
	return nil
}

// AdjustmentInterval parses [adjustment].interval. Zero means disabled.
func (c Config) AdjustmentInterval() (time.Duration, error) {
	if c.Adjustment.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Adjustment.Interval)
	if err != nil {
		return 0, fmt.Errorf("adjustment.interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("adjustment.interval: must not be negative")
	}
	return d, nil
}
