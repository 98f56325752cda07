package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lockstore/entity"
)

// Merge copies the state of a detached record onto the managed instance with
// the same identity and returns the managed instance. Owned records are
// reconciled by ID: known ones are updated, new ones persisted and missing
// ones orphaned. A detached record that was never stored is persisted as is.
func (s *Session) Merge(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if en, ok := s.entries[e.EntityRef()]; ok && en.ent == e && !en.removed {
		return e, nil
	}

	switch d := e.(type) {
	case *entity.Parent:
		return s.mergeParent(ctx, d)
	case *entity.Child:
		return s.mergeChild(ctx, d)
	case *entity.GrandChild:
		return s.mergeGrandChild(ctx, d)
	}
	return nil, fmt.Errorf("merge %T: %w", e, ErrInvalidEntity)
}

// findForMerge returns the managed record for a detached one, or nil when
// the record was never stored.
func (s *Session) findForMerge(ctx context.Context, d entity.Entity) (entity.Entity, error) {
	ref := d.EntityRef()
	m, err := s.Find(ctx, ref, LockNone)
	if errors.Is(err, ErrNotFound) {
		if versionOf(d) != nil {
			return nil, fmt.Errorf("merge %s: row deleted: %w", ref, ErrOptimisticLock)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := checkDetachedVersion(d, m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkDetachedVersion(d, m entity.Entity) error {
	dv, mv := versionOf(d), versionOf(m)
	if dv == nil || mv == nil || *dv == *mv {
		return nil
	}
	return fmt.Errorf("merge %s: detached version %d, stored version %d: %w",
		d.EntityRef(), *dv, *mv, ErrOptimisticLock)
}

func (s *Session) mergeParent(ctx context.Context, d *entity.Parent) (entity.Entity, error) {
	found, err := s.findForMerge(ctx, d)
	if err != nil {
		return nil, err
	}
	if found == nil {
		if err := s.Persist(d); err != nil {
			return nil, err
		}
		return d, nil
	}

	m := found.(*entity.Parent)
	m.Name = d.Name
	keep := make(map[int64]bool, len(d.Children()))
	for _, dc := range d.Children() {
		keep[dc.ID] = true
		mc, err := s.mergeOwnedChild(ctx, dc)
		if err != nil {
			return nil, err
		}
		m.AddChild(mc)
	}
	for _, mc := range m.Children() {
		if !keep[mc.ID] {
			m.RemoveChild(mc)
		}
	}
	return m, nil
}

func (s *Session) mergeChild(ctx context.Context, d *entity.Child) (entity.Entity, error) {
	if d.Parent() == nil {
		return nil, fmt.Errorf("merge %s: %w", d.EntityRef(), ErrParentRequired)
	}
	found, err := s.findForMerge(ctx, d)
	if err != nil {
		return nil, err
	}
	mp, err := s.FindParent(ctx, d.Parent().ID, LockNone)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("merge %s: %w", d.EntityRef(), ErrParentNotFound)
	}
	if err != nil {
		return nil, err
	}

	if found == nil {
		mc := copyChild(d)
		mp.AddChild(mc)
		if err := s.persist(mc); err != nil {
			return nil, err
		}
		return mc, nil
	}
	mc := found.(*entity.Child)
	mc.Name = d.Name
	mp.AddChild(mc)
	if err := s.mergeGrandChildren(ctx, mc, d); err != nil {
		return nil, err
	}
	return mc, nil
}

func (s *Session) mergeGrandChild(ctx context.Context, d *entity.GrandChild) (entity.Entity, error) {
	if d.Child() == nil {
		return nil, fmt.Errorf("merge %s: %w", d.EntityRef(), ErrParentRequired)
	}
	found, err := s.findForMerge(ctx, d)
	if err != nil {
		return nil, err
	}
	mc, err := s.FindChild(ctx, d.Child().ID, LockNone)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("merge %s: %w", d.EntityRef(), ErrParentNotFound)
	}
	if err != nil {
		return nil, err
	}

	if found == nil {
		mgc := entity.NewGrandChild(d.ID, d.Name)
		mc.AddGrandChild(mgc)
		if err := s.persist(mgc); err != nil {
			return nil, err
		}
		return mgc, nil
	}
	mgc := found.(*entity.GrandChild)
	mgc.Name = d.Name
	mc.AddGrandChild(mgc)
	return mgc, nil
}

// mergeOwnedChild returns the managed counterpart of a detached child. A
// stored child that is not managed yet is loaded, possibly from another
// aggregate; a child that was never stored becomes a fresh copy to be
// cascaded.
func (s *Session) mergeOwnedChild(ctx context.Context, dc *entity.Child) (*entity.Child, error) {
	var mc *entity.Child
	en, ok := s.entries[dc.EntityRef()]
	switch {
	case ok && !en.removed:
		mc = en.ent.(*entity.Child)
		if err := checkDetachedVersion(dc, mc); err != nil {
			return nil, err
		}
	case ok || dc.Version == nil:
		return copyChild(dc), nil
	default:
		found, err := s.findForMerge(ctx, dc)
		if err != nil {
			return nil, err
		}
		mc = found.(*entity.Child)
	}
	mc.Name = dc.Name
	if err := s.mergeGrandChildren(ctx, mc, dc); err != nil {
		return nil, err
	}
	return mc, nil
}

func (s *Session) mergeGrandChildren(ctx context.Context, mc, dc *entity.Child) error {
	keep := make(map[int64]bool, len(dc.GrandChildren()))
	for _, dgc := range dc.GrandChildren() {
		keep[dgc.ID] = true
		var mgc *entity.GrandChild
		en, ok := s.entries[dgc.EntityRef()]
		switch {
		case ok && !en.removed:
			mgc = en.ent.(*entity.GrandChild)
			if err := checkDetachedVersion(dgc, mgc); err != nil {
				return err
			}
		case ok || dgc.Version == nil:
			mc.AddGrandChild(entity.NewGrandChild(dgc.ID, dgc.Name))
			continue
		default:
			found, err := s.findForMerge(ctx, dgc)
			if err != nil {
				return err
			}
			mgc = found.(*entity.GrandChild)
		}
		mgc.Name = dgc.Name
		mc.AddGrandChild(mgc)
	}
	for _, mgc := range mc.GrandChildren() {
		if !keep[mgc.ID] {
			mc.RemoveGrandChild(mgc)
		}
	}
	return nil
}

func copyChild(d *entity.Child) *entity.Child {
	c := entity.NewChild(d.ID, d.Name)
	for _, dgc := range d.GrandChildren() {
		c.AddGrandChild(entity.NewGrandChild(dgc.ID, dgc.Name))
	}
	return c
}
