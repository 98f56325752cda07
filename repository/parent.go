package repository

import (
	"context"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// ParentLocks declares the lock mode applied by each ParentRepository finder.
type ParentLocks struct {
	FindByID            store.LockMode
	OptimisticFindByID  store.LockMode
	PessimisticFindByID store.LockMode
}

// DefaultParentLocks returns the declared lock modes: both optimistic
// finders force an increment at commit and the pessimistic finder forces
// one while it holds the row lock.
func DefaultParentLocks() ParentLocks {
	return ParentLocks{
		FindByID:            store.LockOptimisticForceIncrement,
		OptimisticFindByID:  store.LockOptimisticForceIncrement,
		PessimisticFindByID: store.LockPessimisticForceIncrement,
	}
}

// ParentRepository queries Parent records.
type ParentRepository struct {
	crud  crud[*entity.Parent]
	locks ParentLocks
}

// NewParentRepository creates a repository with the given lock modes.
func NewParentRepository(locks ParentLocks) *ParentRepository {
	return &ParentRepository{
		crud:  crud[*entity.Parent]{kind: entity.KindParent},
		locks: locks,
	}
}

// Locks returns the declared lock modes.
func (r *ParentRepository) Locks() ParentLocks {
	return r.locks
}

// FindByID loads a Parent with the FindByID lock mode.
func (r *ParentRepository) FindByID(ctx context.Context, id int64) (*entity.Parent, error) {
	return r.crud.find(ctx, id, r.locks.FindByID)
}

// OptimisticFindByID loads a Parent with the OptimisticFindByID lock mode.
func (r *ParentRepository) OptimisticFindByID(ctx context.Context, id int64) (*entity.Parent, error) {
	return r.crud.find(ctx, id, r.locks.OptimisticFindByID)
}

// PessimisticFindByID loads a Parent with the PessimisticFindByID lock mode.
func (r *ParentRepository) PessimisticFindByID(ctx context.Context, id int64) (*entity.Parent, error) {
	return r.crud.find(ctx, id, r.locks.PessimisticFindByID)
}

// ExistsByID reports whether a Parent with the given id is stored.
func (r *ParentRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return r.crud.exists(ctx, id)
}

// Save persists a new Parent or merges a detached one and returns the
// managed instance.
func (r *ParentRepository) Save(ctx context.Context, p *entity.Parent) (*entity.Parent, error) {
	return r.crud.save(ctx, p)
}

// SaveAndFlush saves p and flushes the session.
func (r *ParentRepository) SaveAndFlush(ctx context.Context, p *entity.Parent) (*entity.Parent, error) {
	return r.crud.saveAndFlush(ctx, p)
}

// Delete removes p together with its children.
func (r *ParentRepository) Delete(ctx context.Context, p *entity.Parent) error {
	return r.crud.delete(ctx, p)
}
