package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// crud implements the operations shared by every repository.
type crud[T entity.Entity] struct {
	kind entity.Kind
}

func (r crud[T]) find(ctx context.Context, id int64, mode store.LockMode) (T, error) {
	var zero T
	s, err := store.SessionFrom(ctx)
	if err != nil {
		return zero, err
	}
	e, err := s.Find(ctx, entity.Ref{Kind: r.kind, ID: id}, mode)
	if err != nil {
		return zero, err
	}
	return e.(T), nil
}

func (r crud[T]) exists(ctx context.Context, id int64) (bool, error) {
	_, err := r.find(ctx, id, store.LockNone)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, err
}

// save persists a new record, returns a managed one unchanged and merges a
// detached one.
func (r crud[T]) save(ctx context.Context, e T) (T, error) {
	var zero T
	s, err := store.SessionFrom(ctx)
	if err != nil {
		return zero, err
	}
	if s.Contains(e) {
		return e, nil
	}
	if isNew(e) {
		if err := s.Persist(e); err != nil {
			return zero, err
		}
		return e, nil
	}
	merged, err := s.Merge(ctx, e)
	if err != nil {
		return zero, err
	}
	return merged.(T), nil
}

func (r crud[T]) saveAndFlush(ctx context.Context, e T) (T, error) {
	saved, err := r.save(ctx, e)
	if err != nil {
		return saved, err
	}
	s, err := store.SessionFrom(ctx)
	if err != nil {
		return saved, err
	}
	if err := s.Flush(ctx); err != nil {
		return saved, fmt.Errorf("flush %s: %w", e.EntityRef(), err)
	}
	return saved, nil
}

// delete removes a record, loading it first when it is detached.
func (r crud[T]) delete(ctx context.Context, e T) error {
	s, err := store.SessionFrom(ctx)
	if err != nil {
		return err
	}
	if !s.Contains(e) {
		if isNew(e) {
			return nil
		}
		managed, err := s.Merge(ctx, e)
		if err != nil {
			return err
		}
		return s.Remove(managed)
	}
	return s.Remove(e)
}

func isNew(e entity.Entity) bool {
	switch r := e.(type) {
	case *entity.Parent:
		return r.Version == nil
	case *entity.Child:
		return r.Version == nil
	case *entity.GrandChild:
		return r.Version == nil
	}
	return false
}
