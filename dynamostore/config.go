package dynamostore

import (
	"log/slog"
	"time"

	"github.com/jacentio/lockstore/entity"
)

// MaxShards is the largest accepted Config.NumShards.
const MaxShards = 256

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// TablePrefix is prepended to the per-kind table names
	// ("parents", "children", "grandchildren").
	// Default: "lockstore_"
	TablePrefix string

	// RelationshipTable is the name of the relationship table.
	// Default: "lockstore_relationships"
	RelationshipTable string

	// NumShards is the number of shards for the relationship table.
	// Higher values spread the children of one parent over more partitions
	// at the cost of one query per shard when listing them.
	// Default: 1
	// Max: 256
	NumShards int

	// LockTimeout bounds how long a locking read waits for a lease.
	// Default: 5s
	LockTimeout time.Duration

	// LockRetryInterval is the pause between lease attempts.
	// Default: 50ms
	LockRetryInterval time.Duration

	// LeaseDuration is how long a lease survives a holder that never
	// commits or rolls back.
	// Default: 30s
	LeaseDuration time.Duration

	// Logger receives transaction and lease events.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		TablePrefix:       "lockstore_",
		RelationshipTable: "lockstore_relationships",
		NumShards:         1,
		LockTimeout:       5 * time.Second,
		LockRetryInterval: 50 * time.Millisecond,
		LeaseDuration:     30 * time.Second,
		Logger:            slog.Default(),
	}
}

// TableName returns the table holding records of kind.
func (c Config) TableName(kind entity.Kind) string {
	return c.TablePrefix + tableSuffix[kind]
}

// Tables returns every table the backend uses, relationship table last.
func (c Config) Tables() []string {
	return []string{
		c.TableName(entity.KindParent),
		c.TableName(entity.KindChild),
		c.TableName(entity.KindGrandChild),
		c.RelationshipTable,
	}
}

var tableSuffix = map[entity.Kind]string{
	entity.KindParent:     "parents",
	entity.KindChild:      "children",
	entity.KindGrandChild: "grandchildren",
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.TablePrefix == "" {
		c.TablePrefix = def.TablePrefix
	}
	if c.RelationshipTable == "" {
		c.RelationshipTable = def.RelationshipTable
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > MaxShards {
		c.NumShards = MaxShards
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = def.LockRetryInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = def.LeaseDuration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
