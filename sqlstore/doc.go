// Package sqlstore implements store.Backend on relational databases through
// sqlx. Two dialects are supported: SQLite (modernc.org/sqlite, driver name
// "sqlite") and PostgreSQL (pgx stdlib, driver name "pgx").
//
// The schema is created by embedded migrations recorded in the
// schema_migrations table. Every record kind has its own table with an id,
// a version column and a name of at most 32 characters; owned tables carry
// a foreign key to their owner.
//
// # Row Locks
//
// PostgreSQL reads locked rows with FOR SHARE or FOR UPDATE and bounds the
// wait with a transaction-local lock_timeout. SQLite has no row locks: a
// locking read first runs a no-op update of the row, which takes the
// database write lock for the rest of the transaction. Shared locks are
// therefore exclusive on SQLite. The wait is bounded by busy_timeout.
//
// # Errors
//
// Driver errors are translated to the store sentinels, so callers match
// them with errors.Is regardless of the dialect.
package sqlstore
