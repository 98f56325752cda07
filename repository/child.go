package repository

import (
	"context"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// ChildLocks declares the lock mode applied by each ChildRepository finder.
type ChildLocks struct {
	FindByID store.LockMode
}

// DefaultChildLocks returns the declared lock modes: plain reads.
func DefaultChildLocks() ChildLocks {
	return ChildLocks{FindByID: store.LockNone}
}

// ChildRepository queries Child records.
type ChildRepository struct {
	crud  crud[*entity.Child]
	locks ChildLocks
}

// NewChildRepository creates a repository with the given lock modes.
func NewChildRepository(locks ChildLocks) *ChildRepository {
	return &ChildRepository{
		crud:  crud[*entity.Child]{kind: entity.KindChild},
		locks: locks,
	}
}

// FindByID loads a Child with the FindByID lock mode.
func (r *ChildRepository) FindByID(ctx context.Context, id int64) (*entity.Child, error) {
	return r.crud.find(ctx, id, r.locks.FindByID)
}

// ExistsByID reports whether a Child with the given id is stored.
func (r *ChildRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return r.crud.exists(ctx, id)
}

// Save persists a new Child or merges a detached one and returns the
// managed instance.
func (r *ChildRepository) Save(ctx context.Context, c *entity.Child) (*entity.Child, error) {
	return r.crud.save(ctx, c)
}

// SaveAndFlush saves c and flushes the session.
func (r *ChildRepository) SaveAndFlush(ctx context.Context, c *entity.Child) (*entity.Child, error) {
	return r.crud.saveAndFlush(ctx, c)
}

// Delete removes c together with its grandchildren.
func (r *ChildRepository) Delete(ctx context.Context, c *entity.Child) error {
	return r.crud.delete(ctx, c)
}
