package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/jacentio/lockstore/entity"
)

// Flush writes pending changes to the transaction: inserts owner-first,
// then guarded updates of dirty records, then deletes owned-first.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.cascadePersist(); err != nil {
		return err
	}
	s.removeOrphans()

	var inserted []*entry
	for _, ref := range s.refsByRank(false) {
		en := s.entries[ref]
		if en == nil || en.snap != nil || en.removed {
			continue
		}
		if err := en.ent.Validate(); err != nil {
			return fmt.Errorf("flush %s: %w: %w", ref, ErrInvalidEntity, err)
		}
		row := rowOf(en.ent)
		row.Version = 0
		if err := s.tx.Insert(ctx, row); err != nil {
			return fmt.Errorf("insert %s: %w", ref, err)
		}
		setVersion(en.ent, 0)
		inserted = append(inserted, en)
	}
	// Owners are snapshotted once their new members are stored too.
	for _, en := range inserted {
		en.snap = takeSnapshot(en.ent)
	}

	updated := 0
	for _, ref := range s.refsByRank(false) {
		en := s.entries[ref]
		if en == nil || en.snap == nil || en.removed {
			continue
		}
		cur := takeSnapshot(en.ent)
		if !en.snap.dirty(cur) {
			continue
		}
		if err := en.ent.Validate(); err != nil {
			return fmt.Errorf("flush %s: %w: %w", ref, ErrInvalidEntity, err)
		}
		if err := s.tx.Update(ctx, rowOf(en.ent), en.snap.version); err != nil {
			return fmt.Errorf("update %s: %w", ref, err)
		}
		cur.version = en.snap.version + 1
		setVersion(en.ent, cur.version)
		en.snap = cur
		updated++
	}

	deleted := 0
	for _, ref := range s.refsByRank(true) {
		en := s.entries[ref]
		if en == nil || !en.removed {
			continue
		}
		if err := s.tx.Delete(ctx, ref, en.snap.version); err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		s.forget(ref)
		deleted++
	}

	if len(inserted)+updated+deleted > 0 {
		s.logger.Debug("session flushed",
			"session", s.id,
			"inserted", len(inserted),
			"updated", updated,
			"deleted", deleted,
		)
	}
	return nil
}

// cascadePersist manages every new record reachable from a managed one and
// revives removed records that were linked back in.
func (s *Session) cascadePersist() error {
	work := make([]entity.Entity, 0, len(s.order))
	for _, ref := range s.order {
		if en := s.entries[ref]; !en.removed {
			work = append(work, en.ent)
		}
	}
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]
		for _, owned := range ownedOf(e) {
			ref := owned.EntityRef()
			en, ok := s.entries[ref]
			switch {
			case !ok:
				s.register(owned, nil)
				work = append(work, owned)
			case en.ent != owned:
				return fmt.Errorf("flush %s: %w", ref, ErrAlreadyManaged)
			case en.removed:
				en.removed = false
				work = append(work, owned)
			}
		}
	}
	return nil
}

// removeOrphans schedules the delete of every owned record that lost its
// owner.
func (s *Session) removeOrphans() {
	for _, ref := range slices.Clone(s.order) {
		en, ok := s.entries[ref]
		if !ok || en.removed || hasOwner(en.ent) {
			continue
		}
		s.logger.Debug("orphan removed", "session", s.id, "ref", ref.String())
		s.remove(en)
	}
}

// refsByRank returns the managed references ordered by kind, owners first
// unless reverse is set. Registration order is kept within a kind.
func (s *Session) refsByRank(reverse bool) []entity.Ref {
	refs := slices.Clone(s.order)
	slices.SortStableFunc(refs, func(a, b entity.Ref) int {
		if reverse {
			return kindRank(b.Kind) - kindRank(a.Kind)
		}
		return kindRank(a.Kind) - kindRank(b.Kind)
	})
	return refs
}
