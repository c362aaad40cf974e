package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRACKDECHETS_DATABASE_DSN.
const EnvPrefix = "TRACKDECHETS"

// Config is the process configuration.
type Config struct {
	HTTPPort string         `mapstructure:"http_port"`
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

type DatabaseConfig struct {
	// DSN is a postgres URL or a sqlite file path.
	DSN          string `mapstructure:"dsn"`
	Seed         bool   `mapstructure:"seed"`
	ConnAttempts int    `mapstructure:"conn_attempts"`
}

// LedgerConfig configures the CometBFT node that records lifecycle events.
type LedgerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	CmtHome        string        `mapstructure:"cmt_home"`
	BadgerDir      string        `mapstructure:"badger_dir"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// RepublishInterval is how often unpublished events are retried.
	RepublishInterval time.Duration `mapstructure:"republish_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", "5000")
	v.SetDefault("log_level", "info")
	v.SetDefault("database.dsn", "trackdechets.db")
	v.SetDefault("database.seed", false)
	v.SetDefault("database.conn_attempts", 5)
	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.cmt_home", "./node-config/ledger-node")
	v.SetDefault("ledger.badger_dir", "")
	v.SetDefault("ledger.publish_timeout", 5*time.Second)
	v.SetDefault("ledger.republish_interval", 30*time.Second)
}

// Load reads the optional config file at path, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Ledger.BadgerDir == "" {
		cfg.Ledger.BadgerDir = filepath.Join(cfg.Ledger.CmtHome, "badger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("http_port is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Ledger.Enabled && c.Ledger.CmtHome == "" {
		return errors.New("ledger.cmt_home is required when the ledger is enabled")
	}
	if c.Ledger.Enabled && c.Ledger.RepublishInterval <= 0 {
		return errors.New("ledger.republish_interval must be positive")
	}
	if c.Ledger.PublishTimeout < 0 {
		return errors.New("ledger.publish_timeout must not be negative")
	}
	return nil
}
