package scenario

import (
	"context"
	"fmt"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

const parentName = "Hello world."

func forceIncrementWithSession(ctx context.Context, e *env) error {
	id := e.id(parentID)
	s, err := e.st.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.Rollback(ctx)

	p0 := entity.NewParent(id, parentName)
	e.report.expectVersion("new parent", p0.Version, nil)
	if err := s.Persist(p0); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	e.report.expectVersion("persist and flush", p0.Version, version(0))
	s.Clear()

	p1, err := s.FindParent(ctx, id, store.LockPessimisticForceIncrement)
	if err != nil {
		return err
	}
	e.report.expectVersion("find with PESSIMISTIC_FORCE_INCREMENT", p1.Version, version(1))
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.Clear()

	p2, err := s.FindParent(ctx, id, store.LockNone)
	if err != nil {
		return err
	}
	e.report.expectVersion("find without lock", p2.Version, version(1))
	return s.Commit(ctx)
}

func forceIncrementWithRepoOptimistic(ctx context.Context, e *env) error {
	return forceIncrementWithRepo(ctx, e, "OptimisticFindByID", e.parents.OptimisticFindByID, 0)
}

func forceIncrementWithRepoPessimistic(ctx context.Context, e *env) error {
	return forceIncrementWithRepo(ctx, e, "PessimisticFindByID", e.parents.PessimisticFindByID, 1)
}

func forceIncrementWithRepoStandard(ctx context.Context, e *env) error {
	return forceIncrementWithRepo(ctx, e, "FindByID", e.parents.FindByID, 0)
}

// forceIncrementWithRepo persists a parent, reloads it through a repository
// finder and saves it again. Both force increment modes leave version 1 in
// storage after the commit; they differ in when the increment is visible.
func forceIncrementWithRepo(
	ctx context.Context,
	e *env,
	finder string,
	find func(context.Context, int64) (*entity.Parent, error),
	wantInTx int64,
) error {
	id := e.id(parentID)
	var saved *entity.Parent
	err := e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}

		p0 := entity.NewParent(id, parentName)
		e.report.expectVersion("new parent", p0.Version, nil)
		if err := s.Persist(p0); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		e.report.expectVersion("persist and flush", p0.Version, version(0))
		s.Clear()

		p1, err := find(ctx, id)
		if err != nil {
			return err
		}
		e.report.expectVersion(fmt.Sprintf("repository %s", finder), p1.Version, version(wantInTx))

		saved, err = e.parents.SaveAndFlush(ctx, p1)
		if err != nil {
			return err
		}
		e.report.expectVersion("repository SaveAndFlush", saved.Version, version(wantInTx))
		return nil
	})
	if err != nil {
		return err
	}
	e.report.expectVersion("saved record after commit", saved.Version, version(1))

	return e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p, err := s.FindParent(ctx, id, store.LockNone)
		if err != nil {
			return err
		}
		e.report.expectVersion("find in a new transaction", p.Version, version(1))
		return nil
	})
}
