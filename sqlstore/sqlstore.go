package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

var _ store.Backend = (*Backend)(nil)

// Backend is a relational store.Backend.
type Backend struct {
	db      *sqlx.DB
	dialect dialect
	config  Config
	logger  *slog.Logger
}

// Open connects to the database described by cfg and, when cfg.Migrate is
// set, applies the embedded migrations.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	cfg.validate()
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}

	b, err := New(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := b.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return b, nil
}

// New wraps an open database. The dialect follows db.DriverName().
func New(db *sqlx.DB, cfg Config) (*Backend, error) {
	cfg.validate()
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &Backend{
		db:      db,
		dialect: d,
		config:  cfg,
		logger:  cfg.Logger,
	}, nil
}

// sqliteDSN adds the pragmas the backend depends on to a plain SQLite DSN.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// DB returns the underlying database handle.
func (b *Backend) DB() *sqlx.DB {
	return b.db
}

// Dialect returns "sqlite" or "postgres".
func (b *Backend) Dialect() string {
	return b.dialect.name()
}

// Close closes the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Begin starts a transaction.
func (b *Backend) Begin(ctx context.Context) (store.Tx, error) {
	sqlTx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := b.dialect.begin(ctx, sqlTx, b.config.LockTimeout); err != nil {
		_ = sqlTx.Rollback()
		return nil, fmt.Errorf("prepare transaction: %w", err)
	}
	return &tx{tx: sqlTx, dialect: b.dialect}, nil
}

type table struct {
	name        string
	ownerColumn string
}

var tables = map[entity.Kind]table{
	entity.KindParent:     {name: "parents"},
	entity.KindChild:      {name: "children", ownerColumn: "parent_id"},
	entity.KindGrandChild: {name: "grandchildren", ownerColumn: "child_id"},
}

// owned maps a kind to the kind it owns.
var owned = map[entity.Kind]entity.Kind{
	entity.KindParent: entity.KindChild,
	entity.KindChild:  entity.KindGrandChild,
}

func tableFor(k entity.Kind) (table, error) {
	t, ok := tables[k]
	if !ok {
		return table{}, fmt.Errorf("unknown record kind %q", k)
	}
	return t, nil
}

func (t table) columns() string {
	owner := "0"
	if t.ownerColumn != "" {
		owner = t.ownerColumn
	}
	return "id, version, name, " + owner + " AS owner_id"
}

type record struct {
	ID      int64  `db:"id"`
	Version int64  `db:"version"`
	Name    string `db:"name"`
	OwnerID int64  `db:"owner_id"`
}

func (r record) row(kind entity.Kind) store.Row {
	return store.Row{
		Ref:      entity.Ref{Kind: kind, ID: r.ID},
		Version:  r.Version,
		Name:     r.Name,
		ParentID: r.OwnerID,
	}
}

type tx struct {
	tx      *sqlx.Tx
	dialect dialect
}

func (t *tx) Get(ctx context.Context, ref entity.Ref, lock store.RowLock) (store.Row, error) {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return store.Row{}, err
	}
	o := opRead
	if lock != store.RowLockNone {
		o = opLock
		if err := t.dialect.acquire(ctx, t.tx, tbl, ref.ID, o); err != nil {
			return store.Row{}, err
		}
	}

	query := "SELECT " + tbl.columns() + " FROM " + tbl.name + " WHERE id = ?" + t.dialect.lockSuffix(lock)
	var rec record
	err = t.tx.GetContext(ctx, &rec, t.tx.Rebind(query), ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Row{}, store.ErrNotFound
	}
	if err != nil {
		return store.Row{}, t.dialect.translate(err, o)
	}
	return rec.row(ref.Kind), nil
}

func (t *tx) Children(ctx context.Context, ref entity.Ref) ([]store.Row, error) {
	kind, ok := owned[ref.Kind]
	if !ok {
		return nil, nil
	}
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + tbl.columns() + " FROM " + tbl.name + " WHERE " + tbl.ownerColumn + " = ? ORDER BY id"
	var recs []record
	if err := t.tx.SelectContext(ctx, &recs, t.tx.Rebind(query), ref.ID); err != nil {
		return nil, t.dialect.translate(err, opRead)
	}
	rows := make([]store.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rec.row(kind))
	}
	return rows, nil
}

func (t *tx) Version(ctx context.Context, ref entity.Ref) (int64, error) {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return 0, err
	}
	if err := t.dialect.acquire(ctx, t.tx, tbl, ref.ID, opVerify); err != nil {
		return 0, err
	}
	var version int64
	err = t.tx.GetContext(ctx, &version, t.tx.Rebind("SELECT version FROM "+tbl.name+" WHERE id = ?"), ref.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, t.dialect.translate(err, opVerify)
	}
	return version, nil
}

func (t *tx) Insert(ctx context.Context, row store.Row) error {
	tbl, err := tableFor(row.Ref.Kind)
	if err != nil {
		return err
	}
	query := "INSERT INTO " + tbl.name + " (id, version, name) VALUES (?, ?, ?)"
	args := []any{row.Ref.ID, row.Version, row.Name}
	if tbl.ownerColumn != "" {
		query = "INSERT INTO " + tbl.name + " (id, version, name, " + tbl.ownerColumn + ") VALUES (?, ?, ?, ?)"
		args = append(args, row.ParentID)
	}
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
		return t.dialect.translate(err, opInsert)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, row store.Row, expected int64) error {
	tbl, err := tableFor(row.Ref.Kind)
	if err != nil {
		return err
	}
	query := "UPDATE " + tbl.name + " SET name = ?, version = version + 1 WHERE id = ? AND version = ?"
	args := []any{row.Name, row.Ref.ID, expected}
	if tbl.ownerColumn != "" {
		query = "UPDATE " + tbl.name + " SET name = ?, " + tbl.ownerColumn + " = ?, version = version + 1 WHERE id = ? AND version = ?"
		args = []any{row.Name, row.ParentID, row.Ref.ID, expected}
	}
	return t.guarded(ctx, query, opUpdate, args...)
}

func (t *tx) IncrementVersion(ctx context.Context, ref entity.Ref, expected int64) error {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	return t.guarded(ctx, "UPDATE "+tbl.name+" SET version = version + 1 WHERE id = ? AND version = ?", opUpdate, ref.ID, expected)
}

func (t *tx) Delete(ctx context.Context, ref entity.Ref, expected int64) error {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	return t.guarded(ctx, "DELETE FROM "+tbl.name+" WHERE id = ? AND version = ?", opDelete, ref.ID, expected)
}

// guarded runs a version-guarded statement that must affect exactly one row.
func (t *tx) guarded(ctx context.Context, query string, o op, args ...any) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return t.dialect.translate(err, o)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrOptimisticLock
	}
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.dialect.translate(err, opCommit)
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
