package store

import (
	"context"

	"github.com/jacentio/lockstore/entity"
)

// Row is the stored form of a record.
type Row struct {
	Ref     entity.Ref
	Version int64
	Name    string

	// ParentID is the id of the owning record; zero for parents.
	ParentID int64
}

// OwnerRef returns the reference of the owning record.
func (r Row) OwnerRef() (entity.Ref, bool) {
	kind := r.Ref.Kind.Owner()
	if kind == "" {
		return entity.Ref{}, false
	}
	return entity.Ref{Kind: kind, ID: r.ParentID}, true
}

// Backend opens transactions against a storage engine.
type Backend interface {
	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases backend resources.
	Close() error
}

// Tx is one storage transaction. Implementations translate storage errors
// into this package's sentinel errors.
type Tx interface {
	// Get reads one row, taking the requested row lock.
	// Returns ErrNotFound when the row is missing, ErrLockTimeout when the
	// lock is not granted in time.
	Get(ctx context.Context, ref entity.Ref, lock RowLock) (Row, error)

	// Children returns the rows owned by ref, ordered by id.
	Children(ctx context.Context, ref entity.Ref) ([]Row, error)

	// Version returns the stored version of a row.
	Version(ctx context.Context, ref entity.Ref) (int64, error)

	// Insert stores a new row with version 0.
	Insert(ctx context.Context, row Row) error

	// Update writes name and owner and sets the version to expected+1.
	// Returns ErrOptimisticLock when the stored version differs.
	Update(ctx context.Context, row Row, expected int64) error

	// IncrementVersion sets the version to expected+1 without other changes.
	IncrementVersion(ctx context.Context, ref entity.Ref, expected int64) error

	// Delete removes a row whose version is expected.
	Delete(ctx context.Context, ref entity.Ref, expected int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
