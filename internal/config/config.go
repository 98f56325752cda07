// Package config loads the lockstore command configuration from a YAML file
// and LOCKSTORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/lockstore/dynamostore"
	"github.com/jacentio/lockstore/sqlstore"
	"github.com/jacentio/lockstore/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOCKSTORE_"

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the command configuration.
type Config struct {
	// Backend selects the storage engine: sqlite, postgres or dynamodb.
	Backend string `yaml:"backend" env:"BACKEND"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// MaxRetries is how often a unit of work is re-run after an optimistic
	// lock failure.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	SQL      SQL      `yaml:"sql" envPrefix:"SQL_"`
	DynamoDB DynamoDB `yaml:"dynamodb" envPrefix:"DYNAMODB_"`
	Contend  Contend  `yaml:"contend" envPrefix:"CONTEND_"`
}

// SQL configures the sqlite and postgres backends.
type SQL struct {
	// DSN is required for postgres; sqlite falls back to lockstore.db.
	DSN          string        `yaml:"dsn" env:"DSN"`
	LockTimeout  time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	Migrate      bool          `yaml:"migrate" env:"MIGRATE"`
}

// DynamoDB configures the dynamodb backend.
type DynamoDB struct {
	Region            string        `yaml:"region" env:"REGION"`
	Profile           string        `yaml:"profile" env:"PROFILE"`
	Endpoint          string        `yaml:"endpoint" env:"ENDPOINT"`
	TablePrefix       string        `yaml:"table_prefix" env:"TABLE_PREFIX"`
	RelationshipTable string        `yaml:"relationship_table" env:"RELATIONSHIP_TABLE"`
	NumShards         int           `yaml:"num_shards" env:"NUM_SHARDS"`
	LockTimeout       time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
	LockRetryInterval time.Duration `yaml:"lock_retry_interval" env:"LOCK_RETRY_INTERVAL"`
	LeaseDuration     time.Duration `yaml:"lease_duration" env:"LEASE_DURATION"`
}

// Contend configures the lock contention run.
type Contend struct {
	Workers    int    `yaml:"workers" env:"WORKERS"`
	Iterations int    `yaml:"iterations" env:"ITERATIONS"`
	ParentID   int64  `yaml:"parent_id" env:"PARENT_ID"`
	Mode       string `yaml:"mode" env:"MODE"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sqlDef := sqlstore.DefaultConfig()
	ddbDef := dynamostore.DefaultConfig()
	return Config{
		Backend:    BackendSQLite,
		LogLevel:   "info",
		LogFormat:  "text",
		MaxRetries: 3,
		SQL: SQL{
			LockTimeout:  sqlDef.LockTimeout,
			MaxOpenConns: sqlDef.MaxOpenConns,
			Migrate:      sqlDef.Migrate,
		},
		DynamoDB: DynamoDB{
			TablePrefix:       ddbDef.TablePrefix,
			RelationshipTable: ddbDef.RelationshipTable,
			NumShards:         ddbDef.NumShards,
			LockTimeout:       ddbDef.LockTimeout,
			LockRetryInterval: ddbDef.LockRetryInterval,
			LeaseDuration:     ddbDef.LeaseDuration,
		},
		Contend: Contend{
			Workers:    4,
			Iterations: 25,
			ParentID:   900000,
			Mode:       store.LockPessimisticForceIncrement.String(),
		},
	}
}

// Load reads the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres, BackendDynamoDB:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalid)
	}
	if c.Backend == BackendPostgres && c.SQL.DSN == "" {
		return fmt.Errorf("%w: postgres needs sql.dsn", ErrInvalid)
	}
	if c.Contend.Workers < 1 || c.Contend.Iterations < 1 {
		return fmt.Errorf("%w: contend needs at least one worker and one iteration", ErrInvalid)
	}
	if c.Contend.ParentID <= 0 {
		return fmt.Errorf("%w: contend.parent_id must be positive", ErrInvalid)
	}
	if _, err := store.ParseLockMode(c.Contend.Mode); err != nil {
		return fmt.Errorf("%w: contend.mode: %w", ErrInvalid, err)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// Store returns the store configuration.
func (c Config) Store(logger *slog.Logger) store.Config {
	return store.Config{
		Logger:     logger,
		MaxRetries: c.MaxRetries,
	}
}

// SQLStore returns the relational backend configuration.
func (c Config) SQLStore(logger *slog.Logger) sqlstore.Config {
	driver := sqlstore.DriverSQLite
	if c.Backend == BackendPostgres {
		driver = sqlstore.DriverPostgres
	}
	dsn := c.SQL.DSN
	if dsn == "" && driver == sqlstore.DriverSQLite {
		dsn = sqlstore.DefaultConfig().DSN
	}
	return sqlstore.Config{
		Driver:       driver,
		DSN:          dsn,
		LockTimeout:  c.SQL.LockTimeout,
		MaxOpenConns: c.SQL.MaxOpenConns,
		Migrate:      c.SQL.Migrate,
		Logger:       logger,
	}
}

// DynamoStore returns the DynamoDB backend configuration.
func (c Config) DynamoStore(logger *slog.Logger) dynamostore.Config {
	return dynamostore.Config{
		TablePrefix:       c.DynamoDB.TablePrefix,
		RelationshipTable: c.DynamoDB.RelationshipTable,
		NumShards:         c.DynamoDB.NumShards,
		LockTimeout:       c.DynamoDB.LockTimeout,
		LockRetryInterval: c.DynamoDB.LockRetryInterval,
		LeaseDuration:     c.DynamoDB.LeaseDuration,
		Logger:            logger,
	}
}
