/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. envDefault tags below
  2. .env file in the working directory, when present
  3. Process environment
  4. Command-line flags (cmd/server only)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port     int    `env:"DEPRECIATION_PORT"      envDefault:"8080"`
	DBDriver string `env:"DEPRECIATION_DB_DRIVER" envDefault:"sqlite"`
	DBPath   string `env:"DEPRECIATION_DB_PATH"   envDefault:"./data/depreciation.db"`

	// DatabaseURL is required when DBDriver is postgres.
	DatabaseURL string `env:"DEPRECIATION_DATABASE_URL"`

	// Fixtures is an optional YAML or JSON file of assets loaded at start-up.
	Fixtures string `env:"DEPRECIATION_FIXTURES"`

	PostingEnabled  bool          `env:"DEPRECIATION_POSTING_ENABLED"  envDefault:"true"`
	PostingInterval time.Duration `env:"DEPRECIATION_POSTING_INTERVAL" envDefault:"1h"`

	LogLevel  string `env:"DEPRECIATION_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"DEPRECIATION_LOG_FORMAT" envDefault:"text"`

	DecliningLifeFactor decimal.Decimal `env:"DEPRECIATION_DECLINING_LIFE_FACTOR" envDefault:"1.2"`

	CORSOrigins []string `env:"DEPRECIATION_CORS_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173" envSeparator:","`
}

// Load reads envFile (if it exists) into the environment, then parses
// Config. An empty envFile skips the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Parse()
}

// Parse reads Config from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DEPRECIATION_DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DEPRECIATION_DB_DRIVER %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PostingEnabled && c.PostingInterval <= 0 {
		return errors.New("DEPRECIATION_POSTING_INTERVAL must be positive")
	}
	if !c.DecliningLifeFactor.IsPositive() {
		return errors.New("DEPRECIATION_DECLINING_LIFE_FACTOR must be positive")
	}
	return nil
}
