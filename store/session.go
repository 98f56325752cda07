package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jacentio/lockstore/entity"
)

// entry is the identity map slot of one managed record.
type entry struct {
	ent entity.Entity

	// snap is the stored state; nil while the insert is pending.
	snap *snapshot

	removed bool
}

// Session is a persistence context bound to one backend transaction.
// A Session is not safe for concurrent use.
type Session struct {
	id      string
	tx      Tx
	logger  *slog.Logger
	entries map[entity.Ref]*entry
	order   []entity.Ref
	pending map[entity.Ref]LockMode
	closed  bool
}

// ID returns the session identifier used in log records.
func (s *Session) ID() string {
	return s.id
}

// Closed reports whether the session has been committed or rolled back.
func (s *Session) Closed() bool {
	return s.closed
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) register(e entity.Entity, snap *snapshot) *entry {
	ref := e.EntityRef()
	en := &entry{ent: e, snap: snap}
	if _, exists := s.entries[ref]; !exists {
		s.order = append(s.order, ref)
	}
	s.entries[ref] = en
	return en
}

func (s *Session) forget(ref entity.Ref) {
	delete(s.entries, ref)
	delete(s.pending, ref)
	s.order = slices.DeleteFunc(s.order, func(r entity.Ref) bool { return r == ref })
}

// managed returns the entry of e when e itself is managed and not removed.
func (s *Session) managed(e entity.Entity) (*entry, error) {
	ref := e.EntityRef()
	en, ok := s.entries[ref]
	if !ok || en.ent != e || en.removed {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotManaged)
	}
	return en, nil
}

// Persist makes a new record managed and schedules its insert, cascading to
// every record it owns.
func (s *Session) Persist(e entity.Entity) error {
	if err := s.check(); err != nil {
		return err
	}
	if !hasOwner(e) {
		return fmt.Errorf("persist %s: %w", e.EntityRef(), ErrParentRequired)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("persist %s: %w: %w", e.EntityRef(), ErrInvalidEntity, err)
	}
	return s.persist(e)
}

func (s *Session) persist(e entity.Entity) error {
	ref := e.EntityRef()
	if en, ok := s.entries[ref]; ok {
		if en.ent != e {
			return fmt.Errorf("persist %s: %w", ref, ErrAlreadyManaged)
		}
		en.removed = false
	} else {
		s.register(e, nil)
	}
	for _, owned := range ownedOf(e) {
		if err := s.persist(owned); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the managed record for ref, loading its aggregate when needed
// and applying mode to the requested row.
func (s *Session) Find(ctx context.Context, ref entity.Ref, mode LockMode) (entity.Entity, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	if en, ok := s.entries[ref]; ok {
		if en.removed {
			return nil, fmt.Errorf("find %s: %w", ref, ErrNotFound)
		}
		if err := s.applyLock(ctx, en, mode); err != nil {
			return nil, fmt.Errorf("lock %s: %w", ref, err)
		}
		return en.ent, nil
	}

	row, err := s.tx.Get(ctx, ref, mode.rowLock())
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", ref, err)
	}
	if mode == LockPessimisticForceIncrement {
		if err := s.tx.IncrementVersion(ctx, ref, row.Version); err != nil {
			return nil, fmt.Errorf("force increment %s: %w", ref, err)
		}
		row.Version++
	}
	if mode.Pessimistic() {
		s.logger.Debug("row lock acquired",
			"session", s.id,
			"ref", ref.String(),
			"mode", mode.String(),
			"version", row.Version,
		)
	}

	e, err := s.load(ctx, row)
	if err != nil {
		return nil, err
	}
	s.deferLock(ref, mode)
	return e, nil
}

// FindParent returns the managed Parent with the given id.
func (s *Session) FindParent(ctx context.Context, id int64, mode LockMode) (*entity.Parent, error) {
	e, err := s.Find(ctx, entity.Ref{Kind: entity.KindParent, ID: id}, mode)
	if err != nil {
		return nil, err
	}
	return e.(*entity.Parent), nil
}

// FindChild returns the managed Child with the given id.
func (s *Session) FindChild(ctx context.Context, id int64, mode LockMode) (*entity.Child, error) {
	e, err := s.Find(ctx, entity.Ref{Kind: entity.KindChild, ID: id}, mode)
	if err != nil {
		return nil, err
	}
	return e.(*entity.Child), nil
}

// FindGrandChild returns the managed GrandChild with the given id.
func (s *Session) FindGrandChild(ctx context.Context, id int64, mode LockMode) (*entity.GrandChild, error) {
	e, err := s.Find(ctx, entity.Ref{Kind: entity.KindGrandChild, ID: id}, mode)
	if err != nil {
		return nil, err
	}
	return e.(*entity.GrandChild), nil
}

// Lock applies mode to a managed record.
func (s *Session) Lock(ctx context.Context, e entity.Entity, mode LockMode) error {
	if err := s.check(); err != nil {
		return err
	}
	en, err := s.managed(e)
	if err != nil {
		return err
	}
	if err := s.applyLock(ctx, en, mode); err != nil {
		return fmt.Errorf("lock %s: %w", e.EntityRef(), err)
	}
	return nil
}

func (s *Session) applyLock(ctx context.Context, en *entry, mode LockMode) error {
	ref := en.ent.EntityRef()
	if mode.Optimistic() {
		s.deferLock(ref, mode)
		return nil
	}
	if !mode.Pessimistic() {
		return nil
	}

	// The row has to exist before it can be locked.
	if en.snap == nil {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		if s.entries[ref] != en || en.removed {
			return ErrNotFound
		}
	}

	row, err := s.tx.Get(ctx, ref, mode.rowLock())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("row deleted: %w", ErrOptimisticLock)
		}
		return err
	}
	if row.Version != en.snap.version {
		return fmt.Errorf("stored version %d, managed version %d: %w",
			row.Version, en.snap.version, ErrOptimisticLock)
	}
	if mode == LockPessimisticForceIncrement {
		if err := s.tx.IncrementVersion(ctx, ref, row.Version); err != nil {
			return err
		}
		en.snap.version = row.Version + 1
		setVersion(en.ent, en.snap.version)
	}
	s.logger.Debug("row lock acquired",
		"session", s.id,
		"ref", ref.String(),
		"mode", mode.String(),
		"version", en.snap.version,
	)
	return nil
}

// deferLock records an optimistic lock mode for commit time. A force
// increment is never downgraded to a plain check.
func (s *Session) deferLock(ref entity.Ref, mode LockMode) {
	if !mode.Optimistic() {
		return
	}
	if cur, ok := s.pending[ref]; ok && cur == LockOptimisticForceIncrement {
		return
	}
	s.pending[ref] = mode
}

// Remove schedules the delete of a managed record and everything it owns,
// and detaches it from its owner.
func (s *Session) Remove(e entity.Entity) error {
	if err := s.check(); err != nil {
		return err
	}
	en, err := s.managed(e)
	if err != nil {
		return err
	}
	detachFromOwner(e)
	s.remove(en)
	return nil
}

func (s *Session) remove(en *entry) {
	for _, owned := range ownedOf(en.ent) {
		if oen, ok := s.entries[owned.EntityRef()]; ok && oen.ent == owned && !oen.removed {
			s.remove(oen)
		}
	}
	ref := en.ent.EntityRef()
	if en.snap == nil {
		// Never stored: dropping the pending insert is enough.
		s.forget(ref)
		return
	}
	en.removed = true
	delete(s.pending, ref)
}

// Contains reports whether e itself is managed and not removed.
func (s *Session) Contains(e entity.Entity) bool {
	_, err := s.managed(e)
	return err == nil
}

// Detach stops managing e and the records it owns. Unflushed changes to
// them are lost.
func (s *Session) Detach(e entity.Entity) {
	ref := e.EntityRef()
	en, ok := s.entries[ref]
	if !ok || en.ent != e {
		return
	}
	for _, owned := range ownedOf(e) {
		s.Detach(owned)
	}
	s.forget(ref)
}

// Clear detaches every managed record and drops unflushed changes together
// with pending commit-time lock actions. Row locks already taken are kept
// until the transaction ends.
func (s *Session) Clear() {
	s.entries = make(map[entity.Ref]*entry)
	s.order = nil
	s.pending = make(map[entity.Ref]LockMode)
}

// Commit flushes pending changes, runs commit-time lock actions and commits
// the transaction. The session is closed afterwards, also on failure.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.Flush(ctx); err != nil {
		s.abort(ctx)
		return err
	}
	if err := s.runPendingLocks(ctx); err != nil {
		s.abort(ctx)
		return err
	}
	if err := s.tx.Commit(ctx); err != nil {
		s.close()
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("session committed", "session", s.id)
	s.close()
	return nil
}

// Rollback aborts the transaction. Rolling back a closed session is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.tx.Rollback(ctx)
	s.close()
	s.logger.Debug("session rolled back", "session", s.id)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (s *Session) abort(ctx context.Context) {
	if err := s.tx.Rollback(ctx); err != nil {
		s.logger.Warn("rollback failed", "session", s.id, "error", err)
	}
	s.close()
}

func (s *Session) close() {
	s.closed = true
	s.Clear()
}

func (s *Session) runPendingLocks(ctx context.Context) error {
	refs := make([]entity.Ref, 0, len(s.pending))
	for ref := range s.pending {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, compareRefs)

	for _, ref := range refs {
		en, ok := s.entries[ref]
		if !ok || en.removed || en.snap == nil {
			continue
		}
		switch s.pending[ref] {
		case LockOptimistic:
			v, err := s.tx.Version(ctx, ref)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("verify %s: row deleted: %w", ref, ErrOptimisticLock)
			}
			if err != nil {
				return fmt.Errorf("verify %s: %w", ref, err)
			}
			if v != en.snap.version {
				return fmt.Errorf("verify %s: stored version %d, read version %d: %w",
					ref, v, en.snap.version, ErrOptimisticLock)
			}
		case LockOptimisticForceIncrement:
			if err := s.tx.IncrementVersion(ctx, ref, en.snap.version); err != nil {
				return fmt.Errorf("force increment %s: %w", ref, err)
			}
			en.snap.version++
			setVersion(en.ent, en.snap.version)
		}
	}
	return nil
}

func compareRefs(a, b entity.Ref) int {
	if d := kindRank(a.Kind) - kindRank(b.Kind); d != 0 {
		return d
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
