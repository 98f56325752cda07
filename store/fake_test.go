package store_test

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// memBackend is an in-memory Backend that records every storage operation.
// Transactions write through to the shared rows and restore them on
// rollback, so only one transaction may be open at a time.
type memBackend struct {
	mu   sync.Mutex
	rows map[entity.Ref]store.Row
	ops  []string

	// childrenErr fails Children for the listed owners.
	childrenErr map[entity.Ref]error
}

func newMemBackend() *memBackend {
	return &memBackend{rows: make(map[entity.Ref]store.Row)}
}

func (b *memBackend) Begin(_ context.Context) (store.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &memTx{b: b, before: maps.Clone(b.rows)}, nil
}

func (b *memBackend) Close() error { return nil }

func (b *memBackend) record(format string, args ...any) {
	b.ops = append(b.ops, fmt.Sprintf(format, args...))
}

// takeOps returns the recorded operations and resets the log.
func (b *memBackend) takeOps() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := b.ops
	b.ops = nil
	return ops
}

// bump simulates a concurrent writer incrementing the stored version.
func (b *memBackend) bump(ref entity.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.rows[ref]
	row.Version++
	b.rows[ref] = row
}

// put stores row as if another transaction had committed it.
func (b *memBackend) put(rows ...store.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		b.rows[row.Ref] = row
	}
}

func (b *memBackend) failChildren(ref entity.Ref, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.childrenErr == nil {
		b.childrenErr = make(map[entity.Ref]error)
	}
	b.childrenErr[ref] = err
}

func (b *memBackend) row(ref entity.Ref) (store.Row, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.rows[ref]
	return row, ok
}

type memTx struct {
	b      *memBackend
	before map[entity.Ref]store.Row
}

func (tx *memTx) Get(_ context.Context, ref entity.Ref, lock store.RowLock) (store.Row, error) {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	if lock != store.RowLockNone {
		tx.b.record("lock %s %s", ref, lock)
	}
	row, ok := tx.b.rows[ref]
	if !ok {
		return store.Row{}, store.ErrNotFound
	}
	return row, nil
}

func (tx *memTx) Children(_ context.Context, ref entity.Ref) ([]store.Row, error) {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	if err := tx.b.childrenErr[ref]; err != nil {
		return nil, err
	}
	var out []store.Row
	for _, row := range tx.b.rows {
		if row.Ref.Kind.Owner() == ref.Kind && row.ParentID == ref.ID {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b store.Row) int { return int(a.Ref.ID - b.Ref.ID) })
	return out, nil
}

func (tx *memTx) Version(_ context.Context, ref entity.Ref) (int64, error) {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	row, ok := tx.b.rows[ref]
	if !ok {
		return 0, store.ErrNotFound
	}
	return row.Version, nil
}

func (tx *memTx) Insert(_ context.Context, row store.Row) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	if _, ok := tx.b.rows[row.Ref]; ok {
		return store.ErrAlreadyExists
	}
	if owner, ok := row.OwnerRef(); ok {
		if _, found := tx.b.rows[owner]; !found {
			return store.ErrParentNotFound
		}
	}
	tx.b.record("insert %s", row.Ref)
	tx.b.rows[row.Ref] = row
	return nil
}

func (tx *memTx) Update(_ context.Context, row store.Row, expected int64) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	cur, ok := tx.b.rows[row.Ref]
	if !ok || cur.Version != expected {
		return store.ErrOptimisticLock
	}
	tx.b.record("update %s@%d", row.Ref, expected)
	row.Version = expected + 1
	tx.b.rows[row.Ref] = row
	return nil
}

func (tx *memTx) IncrementVersion(_ context.Context, ref entity.Ref, expected int64) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	cur, ok := tx.b.rows[ref]
	if !ok || cur.Version != expected {
		return store.ErrOptimisticLock
	}
	tx.b.record("increment %s@%d", ref, expected)
	cur.Version++
	tx.b.rows[ref] = cur
	return nil
}

func (tx *memTx) Delete(_ context.Context, ref entity.Ref, expected int64) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	cur, ok := tx.b.rows[ref]
	if !ok || cur.Version != expected {
		return store.ErrOptimisticLock
	}
	for _, row := range tx.b.rows {
		if row.Ref.Kind.Owner() == ref.Kind && row.ParentID == ref.ID {
			return store.ErrHasChildren
		}
	}
	tx.b.record("delete %s@%d", ref, expected)
	delete(tx.b.rows, ref)
	return nil
}

func (tx *memTx) Commit(_ context.Context) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	tx.b.record("commit")
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	tx.b.mu.Lock()
	defer tx.b.mu.Unlock()
	tx.b.rows = tx.before
	tx.b.record("rollback")
	return nil
}
