package scenario

import (
	"context"
	"fmt"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

const (
	parentFullName = "Parent_Name"
	child1Name     = "Child1_Name"
	child2Name     = "Child2_Name"
	child2NewName  = "Child2_Name_NEW"
)

func cascadeOnChildUpdate(ctx context.Context, e *env) error {
	return renameChild(ctx, e, func(ctx context.Context, s *store.Session) error {
		p, err := s.FindParent(ctx, e.id(parentID), store.LockNone)
		if err != nil {
			return err
		}
		children := childMap(p)
		e.report.expectInt("children of the loaded parent", len(children), 2)
		ch2, ok := children[e.id(child2ID)]
		if !ok {
			return fmt.Errorf("child %d not loaded", e.id(child2ID))
		}
		ch2.Name = child2NewName
		return s.Persist(p)
	})
}

func childPersistOnUpdate(ctx context.Context, e *env) error {
	return renameChild(ctx, e, func(ctx context.Context, s *store.Session) error {
		ch2, err := s.FindChild(ctx, e.id(child2ID), store.LockNone)
		if err != nil {
			return err
		}
		ch2.Name = child2NewName
		return s.Persist(ch2)
	})
}

func parentPersistOnUpdate(ctx context.Context, e *env) error {
	return renameChild(ctx, e, func(ctx context.Context, s *store.Session) error {
		ch2, err := s.FindChild(ctx, e.id(child2ID), store.LockNone)
		if err != nil {
			return err
		}
		ch2.Name = child2NewName
		e.report.expectName("renamed child", ch2.Name, child2NewName)

		px := ch2.Parent()
		if px == nil {
			return fmt.Errorf("child %d has no parent", ch2.ID)
		}
		e.report.expectInt("parent of the loaded child", int(px.ID), int(e.id(parentID)))
		return s.Persist(px)
	})
}

// renameChild runs the shared part of the cascade scenarios: it commits a
// parent with two children, verifies them in a second transaction, lets
// rename change the second child in a third one and checks the outcome in a
// fourth, rolled back transaction.
func renameChild(ctx context.Context, e *env, rename func(ctx context.Context, s *store.Session) error) error {
	pid := e.id(parentID)

	err := e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p := entity.NewParent(pid, parentFullName)
		entity.NewChild(e.id(child1ID), child1Name).SetParent(p)
		entity.NewChild(e.id(child2ID), child2Name).SetParent(p)
		if err := s.Persist(p); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
	if err != nil {
		return fmt.Errorf("create aggregate: %w", err)
	}

	err = e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p, err := s.FindParent(ctx, pid, store.LockNone)
		if err != nil {
			return err
		}
		children := childMap(p)
		e.report.expectInt("children after create", len(children), 2)
		if c1, ok := children[e.id(child1ID)]; ok {
			e.report.expectName("first child name", c1.Name, child1Name)
		}
		if c2, ok := children[e.id(child2ID)]; ok {
			e.report.expectName("second child name", c2.Name, child2Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify aggregate: %w", err)
	}

	err = e.st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		if err := rename(ctx, s); err != nil {
			return err
		}
		return s.Flush(ctx)
	})
	if err != nil {
		return fmt.Errorf("rename child: %w", err)
	}

	s, err := e.st.Begin(ctx)
	if err != nil {
		return err
	}
	defer s.Rollback(ctx)

	p, err := s.FindParent(ctx, pid, store.LockNone)
	if err != nil {
		return fmt.Errorf("reload aggregate: %w", err)
	}
	children := childMap(p)
	e.report.expectInt("children after rename", len(children), 2)
	e.report.expectVersion("parent version after rename", p.Version, version(0))
	ch2, ok := children[e.id(child2ID)]
	if !ok {
		return fmt.Errorf("child %d missing after rename", e.id(child2ID))
	}
	e.report.expectName("second child name after rename", ch2.Name, child2NewName)
	e.report.expectVersion("second child version after rename", ch2.Version, version(1))
	if c1, ok := children[e.id(child1ID)]; ok {
		e.report.expectVersion("first child version after rename", c1.Version, version(0))
	}
	return nil
}
