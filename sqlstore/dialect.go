package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jacentio/lockstore/store"
)

// op names the statement a driver error came from.
type op int

const (
	opRead op = iota
	opLock
	opVerify
	opInsert
	opUpdate
	opDelete
	opCommit
)

type dialect interface {
	// name returns the migrations directory of the dialect.
	name() string

	// begin prepares a fresh transaction.
	begin(ctx context.Context, tx *sqlx.Tx, lockTimeout time.Duration) error

	// lockSuffix is appended to a locking SELECT.
	lockSuffix(lock store.RowLock) string

	// acquire runs before a locking SELECT or a version check.
	acquire(ctx context.Context, tx *sqlx.Tx, t table, id int64, o op) error

	// translate maps a driver error to a store sentinel.
	translate(err error, o op) error
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect{}, nil
	case DriverPostgres:
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) begin(ctx context.Context, tx *sqlx.Tx, lockTimeout time.Duration) error {
	// Pragmas don't open a read snapshot, so a following lock is still the
	// first statement of the transaction.
	_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", lockTimeout.Milliseconds()))
	return err
}

func (sqliteDialect) lockSuffix(store.RowLock) string { return "" }

func (d sqliteDialect) acquire(ctx context.Context, tx *sqlx.Tx, t table, id int64, o op) error {
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE "+t.name+" SET version = version WHERE id = ?"), id)
	if err != nil {
		return d.translate(err, o)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (sqliteDialect) translate(err error, o op) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %w", store.ErrAlreadyExists, err)
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		if o == opDelete {
			return fmt.Errorf("%w: %w", store.ErrHasChildren, err)
		}
		return fmt.Errorf("%w: %w", store.ErrParentNotFound, err)
	case code == sqlite3.SQLITE_BUSY_SNAPSHOT:
		// Another connection committed after this transaction started
		// reading, so the rows it read may be stale.
		return fmt.Errorf("%w: %w", store.ErrOptimisticLock, err)
	case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", store.ErrLockTimeout, err)
	}
	return err
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) begin(ctx context.Context, tx *sqlx.Tx, lockTimeout time.Duration) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds()))
	return err
}

func (postgresDialect) lockSuffix(lock store.RowLock) string {
	switch lock {
	case store.RowLockShared:
		return " FOR SHARE"
	case store.RowLockExclusive:
		return " FOR UPDATE"
	}
	return ""
}

func (postgresDialect) acquire(context.Context, *sqlx.Tx, table, int64, op) error {
	return nil
}

// PostgreSQL error codes translated by the backend.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func (postgresDialect) translate(err error, o op) error {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", store.ErrAlreadyExists, err)
	case pgForeignKeyViolation:
		if o == opDelete {
			return fmt.Errorf("%w: %w", store.ErrHasChildren, err)
		}
		return fmt.Errorf("%w: %w", store.ErrParentNotFound, err)
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %w", store.ErrLockTimeout, err)
	case pgSerializationFailure:
		return fmt.Errorf("%w: %w", store.ErrOptimisticLock, err)
	case pgDeadlockDetected:
		return fmt.Errorf("%w: %w", store.ErrPessimisticLock, err)
	}
	return err
}
