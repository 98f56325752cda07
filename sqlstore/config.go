package sqlstore

import (
	"log/slog"
	"time"
)

// Driver names accepted by Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config holds configuration for the relational backend.
type Config struct {
	// Driver is the database/sql driver name: "sqlite" or "pgx".
	// Default: "sqlite"
	Driver string

	// DSN is the data source name. For SQLite a plain file path is extended
	// with the pragmas the backend relies on (foreign keys, WAL).
	// Default: "lockstore.db"
	DSN string

	// LockTimeout bounds how long a locking read waits for a row lock.
	// Default: 5s
	// Min: 10ms
	LockTimeout time.Duration

	// MaxOpenConns limits the connection pool.
	// Default: 8
	MaxOpenConns int

	// Migrate applies the embedded migrations on Open.
	// Default: true
	Migrate bool

	// Logger receives connection and migration events.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "lockstore.db",
		LockTimeout:  5 * time.Second,
		MaxOpenConns: 8,
		Migrate:      true,
		Logger:       slog.Default(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = "lockstore.db"
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.LockTimeout < 10*time.Millisecond {
		c.LockTimeout = 10 * time.Millisecond
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
