package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lockstore/entity"
)

// loading tracks one aggregate load. Owners loaded earlier only learn about
// their new stored members once the whole load succeeded.
type loading struct {
	fresh   map[entity.Ref]*entry
	members []storedMember
}

// storedMember is a freshly loaded record owned by an earlier loaded owner.
type storedMember struct {
	owner entity.Ref
	id    int64
}

// load materializes row together with the rest of its aggregate: the owner
// chain up to the Parent and every record owned below it. Records that are
// already managed are reused, never reloaded.
func (s *Session) load(ctx context.Context, row Row) (entity.Entity, error) {
	l := &loading{fresh: make(map[entity.Ref]*entry)}
	e, err := s.materialize(ctx, row, l)
	if err != nil {
		for ref, en := range l.fresh {
			detachFromOwner(en.ent)
			s.forget(ref)
		}
		return nil, err
	}
	for _, en := range l.fresh {
		en.snap = takeSnapshot(en.ent)
	}
	for _, m := range l.members {
		if oen := s.entries[m.owner]; oen != nil && oen.snap != nil {
			oen.snap.addMember(m.id)
		}
	}
	s.logger.Debug("aggregate loaded",
		"session", s.id,
		"ref", row.Ref.String(),
		"records", len(l.fresh),
	)
	return e, nil
}

func (s *Session) materialize(ctx context.Context, row Row, l *loading) (entity.Entity, error) {
	if en, ok := s.entries[row.Ref]; ok {
		return en.ent, nil
	}
	e := newEntity(row)
	l.fresh[row.Ref] = s.register(e, nil)

	if ownerRef, ok := row.OwnerRef(); ok {
		owner, err := s.resolve(ctx, ownerRef, l)
		if err != nil {
			return nil, err
		}
		attach(e, owner)
		if oen := s.entries[ownerRef]; oen != nil && oen.snap != nil {
			// The owner was loaded earlier; e is one of its stored members.
			l.members = append(l.members, storedMember{owner: ownerRef, id: row.Ref.ID})
		}
	}

	rows, err := s.tx.Children(ctx, row.Ref)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", row.Ref, err)
	}
	for _, r := range rows {
		if en, ok := s.entries[r.Ref]; ok {
			// A member still being materialized gets wired here so the
			// collection keeps the stored order.
			if l.fresh[r.Ref] == en && !hasOwner(en.ent) {
				attach(en.ent, e)
			}
			continue
		}
		if _, err := s.materialize(ctx, r, l); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Session) resolve(ctx context.Context, ref entity.Ref, l *loading) (entity.Entity, error) {
	if en, ok := s.entries[ref]; ok {
		return en.ent, nil
	}
	row, err := s.tx.Get(ctx, ref, RowLockNone)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load %s: %w", ref, ErrParentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	return s.materialize(ctx, row, l)
}
