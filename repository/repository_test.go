package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/repository"
	"github.com/jacentio/lockstore/sqlstore"
	"github.com/jacentio/lockstore/store"
)

const parentID = 275

func newStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "lockstore.db")
	b, err := sqlstore.Open(context.Background(), cfg)
	require.NoError(t, err)
	st := store.New(b, store.DefaultConfig())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedParent commits parent 275 with children 1001 and 1002.
func seedParent(t *testing.T, st *store.Store) {
	t.Helper()
	err := st.InTx(context.Background(), func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p := entity.NewParent(parentID, "Parent_Name")
		p.AddChild(entity.NewChild(1001, "Child1_Name"))
		p.AddChild(entity.NewChild(1002, "Child2_Name"))
		return s.Persist(p)
	})
	require.NoError(t, err)
}

func storedParent(t *testing.T, st *store.Store) *entity.Parent {
	t.Helper()
	var p *entity.Parent
	err := st.InTx(context.Background(), func(ctx context.Context) error {
		var err error
		p, err = repository.NewParentRepository(repository.ParentLocks{}).FindByID(ctx, parentID)
		return err
	})
	require.NoError(t, err)
	return p
}

func TestDefaultParentLocks(t *testing.T) {
	locks := repository.DefaultParentLocks()
	assert.Equal(t, store.LockOptimisticForceIncrement, locks.FindByID)
	assert.Equal(t, store.LockOptimisticForceIncrement, locks.OptimisticFindByID)
	assert.Equal(t, store.LockPessimisticForceIncrement, locks.PessimisticFindByID)
	assert.Equal(t, store.LockNone, repository.DefaultChildLocks().FindByID)
}

func TestRequiresSession(t *testing.T) {
	parents := repository.NewParentRepository(repository.DefaultParentLocks())
	_, err := parents.FindByID(context.Background(), parentID)
	assert.ErrorIs(t, err, store.ErrNoSession)

	_, err = parents.Save(context.Background(), entity.NewParent(1, "p"))
	assert.ErrorIs(t, err, store.ErrNoSession)
}

func TestOptimisticFindByID(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.DefaultParentLocks())

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		p, err := parents.OptimisticFindByID(ctx, parentID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), *p.Version)

		saved, err := parents.SaveAndFlush(ctx, p)
		require.NoError(t, err)
		assert.Same(t, p, saved)
		assert.Equal(t, int64(0), *saved.Version)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), *storedParent(t, st).Version)
}

func TestPessimisticFindByID(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.DefaultParentLocks())

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		p, err := parents.PessimisticFindByID(ctx, parentID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), *p.Version)

		saved, err := parents.SaveAndFlush(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(1), *saved.Version)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), *storedParent(t, st).Version)
}

func TestFindByIDHonoursDeclaredLock(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	plain := repository.NewParentRepository(repository.ParentLocks{})

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		_, err := plain.FindByID(ctx, parentID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), *storedParent(t, st).Version)

	declared := repository.NewParentRepository(repository.DefaultParentLocks())
	err = st.InTx(context.Background(), func(ctx context.Context) error {
		_, err := declared.FindByID(ctx, parentID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *storedParent(t, st).Version)
}

func TestExistsByID(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.ParentLocks{})
	children := repository.NewChildRepository(repository.DefaultChildLocks())

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		ok, err := parents.ExistsByID(ctx, parentID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = parents.ExistsByID(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = children.ExistsByID(ctx, 1002)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = children.ExistsByID(ctx, 9999)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSaveNewParent(t *testing.T) {
	st := newStore(t)
	parents := repository.NewParentRepository(repository.ParentLocks{})

	p := entity.NewParent(parentID, "Hello world.")
	err := st.InTx(context.Background(), func(ctx context.Context) error {
		saved, err := parents.SaveAndFlush(ctx, p)
		require.NoError(t, err)
		assert.Same(t, p, saved)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, p.Version)
	assert.Equal(t, int64(0), *p.Version)
}

func TestSaveMergesDetachedParent(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.ParentLocks{})

	detached := storedParent(t, st)
	detached.Name = "Renamed"

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		saved, err := parents.Save(ctx, detached)
		require.NoError(t, err)
		assert.NotSame(t, detached, saved)
		assert.Equal(t, "Renamed", saved.Name)
		assert.Len(t, saved.Children(), 2)
		return nil
	})
	require.NoError(t, err)

	p := storedParent(t, st)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, int64(1), *p.Version)
}

func TestSaveRejectsStaleDetachedParent(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.ParentLocks{})

	detached := storedParent(t, st)
	err := st.InTx(context.Background(), func(ctx context.Context) error {
		p, err := parents.FindByID(ctx, parentID)
		if err != nil {
			return err
		}
		p.Name = "Concurrent"
		return nil
	})
	require.NoError(t, err)

	err = st.InTx(context.Background(), func(ctx context.Context) error {
		_, err := parents.Save(ctx, detached)
		return err
	})
	assert.ErrorIs(t, err, store.ErrOptimisticLock)
}

func TestDeleteDetachedParent(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	parents := repository.NewParentRepository(repository.ParentLocks{})

	detached := storedParent(t, st)
	err := st.InTx(context.Background(), func(ctx context.Context) error {
		return parents.Delete(ctx, detached)
	})
	require.NoError(t, err)

	err = st.InTx(context.Background(), func(ctx context.Context) error {
		ok, err := parents.ExistsByID(ctx, parentID)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestChildRepositoryRename(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	children := repository.NewChildRepository(repository.DefaultChildLocks())

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		c, err := children.FindByID(ctx, 1002)
		require.NoError(t, err)
		c.Name = "Child2_Name_NEW"
		saved, err := children.SaveAndFlush(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, int64(1), *saved.Version)
		return nil
	})
	require.NoError(t, err)

	p := storedParent(t, st)
	assert.Equal(t, int64(0), *p.Version)
	c, ok := p.ChildByID(1002)
	require.True(t, ok)
	assert.Equal(t, "Child2_Name_NEW", c.Name)
}

func TestChildRepositoryDelete(t *testing.T) {
	st := newStore(t)
	seedParent(t, st)
	children := repository.NewChildRepository(repository.DefaultChildLocks())

	err := st.InTx(context.Background(), func(ctx context.Context) error {
		c, err := children.FindByID(ctx, 1001)
		if err != nil {
			return err
		}
		return children.Delete(ctx, c)
	})
	require.NoError(t, err)

	p := storedParent(t, st)
	assert.Len(t, p.Children(), 1)
	assert.Equal(t, int64(1), *p.Version)
}
