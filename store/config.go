package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// Logger receives session lifecycle and lock events.
	// Default: slog.Default()
	Logger *slog.Logger

	// MaxRetries is how many times InTx re-runs a unit of work that failed
	// with ErrOptimisticLock.
	// Default: 0 (no retry)
	// Max: 10
	MaxRetries int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Logger:     slog.Default(),
		MaxRetries: 0,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries > 10 {
		c.MaxRetries = 10
	}
}
