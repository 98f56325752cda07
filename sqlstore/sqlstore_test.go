package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/sqlstore"
	"github.com/jacentio/lockstore/store"
)

var (
	parentRef = entity.Ref{Kind: entity.KindParent, ID: 1}
	childRef  = entity.Ref{Kind: entity.KindChild, ID: 10}
)

func openSQLite(t *testing.T, lockTimeout time.Duration) *sqlstore.Backend {
	t.Helper()
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "lockstore.db")
	cfg.LockTimeout = lockTimeout
	b, err := sqlstore.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// openPostgres connects to LOCKSTORE_POSTGRES_DSN and wipes the tables.
func openPostgres(t *testing.T, lockTimeout time.Duration) *sqlstore.Backend {
	t.Helper()
	dsn := os.Getenv("LOCKSTORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LOCKSTORE_POSTGRES_DSN not set")
	}
	cfg := sqlstore.DefaultConfig()
	cfg.Driver = sqlstore.DriverPostgres
	cfg.DSN = dsn
	cfg.LockTimeout = lockTimeout
	b, err := sqlstore.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = b.DB().Exec("TRUNCATE grandchildren, children, parents")
	require.NoError(t, err)
	return b
}

func begin(t *testing.T, b store.Backend) store.Tx {
	t.Helper()
	tx, err := b.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

// seedRows commits parent 1 with child 10.
func seedRows(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()
	tx := begin(t, b)
	require.NoError(t, tx.Insert(ctx, store.Row{Ref: parentRef, Name: "parent"}))
	require.NoError(t, tx.Insert(ctx, store.Row{Ref: childRef, Name: "child", ParentID: 1}))
	require.NoError(t, tx.Commit(ctx))
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	cfg := sqlstore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "lockstore.db")

	for i := 0; i < 2; i++ {
		b, err := sqlstore.Open(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, "sqlite", b.Dialect())

		var count int
		require.NoError(t, b.DB().Get(&count, "SELECT COUNT(*) FROM schema_migrations"))
		assert.Equal(t, 1, count)
		require.NoError(t, b.Close())
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := sqlstore.DefaultConfig()
	cfg.Driver = "oracle"
	_, err := sqlstore.Open(context.Background(), cfg)
	require.Error(t, err)
}

func TestSQLiteRows(t *testing.T) {
	exerciseRows(t, openSQLite(t, time.Second))
}

func TestPostgresRows(t *testing.T) {
	exerciseRows(t, openPostgres(t, time.Second))
}

func exerciseRows(t *testing.T, b *sqlstore.Backend) {
	ctx := context.Background()
	seedRows(t, b)

	t.Run("get", func(t *testing.T) {
		tx := begin(t, b)
		row, err := tx.Get(ctx, childRef, store.RowLockNone)
		require.NoError(t, err)
		assert.Equal(t, store.Row{Ref: childRef, Version: 0, Name: "child", ParentID: 1}, row)

		_, err = tx.Get(ctx, entity.Ref{Kind: entity.KindParent, ID: 99}, store.RowLockNone)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.Get(ctx, entity.Ref{Kind: entity.KindParent, ID: 99}, store.RowLockExclusive)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("children", func(t *testing.T) {
		tx := begin(t, b)
		require.NoError(t, tx.Insert(ctx, store.Row{
			Ref:      entity.Ref{Kind: entity.KindGrandChild, ID: 100},
			Name:     "grandchild",
			ParentID: 10,
		}))
		rows, err := tx.Children(ctx, parentRef)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, childRef, rows[0].Ref)

		rows, err = tx.Children(ctx, childRef)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(10), rows[0].ParentID)

		rows, err = tx.Children(ctx, entity.Ref{Kind: entity.KindGrandChild, ID: 100})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("guarded writes", func(t *testing.T) {
		tx := begin(t, b)
		err := tx.Update(ctx, store.Row{Ref: childRef, Name: "stale", ParentID: 1}, 3)
		assert.ErrorIs(t, err, store.ErrOptimisticLock)

		require.NoError(t, tx.Update(ctx, store.Row{Ref: childRef, Name: "renamed", ParentID: 1}, 0))
		require.NoError(t, tx.IncrementVersion(ctx, childRef, 1))
		v, err := tx.Version(ctx, childRef)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		row, err := tx.Get(ctx, childRef, store.RowLockNone)
		require.NoError(t, err)
		assert.Equal(t, "renamed", row.Name)

		assert.ErrorIs(t, tx.Delete(ctx, childRef, 0), store.ErrOptimisticLock)
		require.NoError(t, tx.Delete(ctx, childRef, 2))
		_, err = tx.Version(ctx, childRef)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		tx := begin(t, b)
		err := tx.Insert(ctx, store.Row{Ref: parentRef, Name: "again"})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("missing owner", func(t *testing.T) {
		tx := begin(t, b)
		err := tx.Insert(ctx, store.Row{Ref: entity.Ref{Kind: entity.KindChild, ID: 20}, Name: "lost", ParentID: 99})
		assert.ErrorIs(t, err, store.ErrParentNotFound)
	})

	t.Run("delete owner first", func(t *testing.T) {
		tx := begin(t, b)
		err := tx.Delete(ctx, parentRef, 0)
		assert.ErrorIs(t, err, store.ErrHasChildren)
	})
}

func TestSQLiteExclusiveLockTimesOut(t *testing.T) {
	exerciseLockTimeout(t, openSQLite(t, 100*time.Millisecond))
}

func TestPostgresExclusiveLockTimesOut(t *testing.T) {
	exerciseLockTimeout(t, openPostgres(t, 100*time.Millisecond))
}

func exerciseLockTimeout(t *testing.T, b *sqlstore.Backend) {
	ctx := context.Background()
	seedRows(t, b)

	holder := begin(t, b)
	_, err := holder.Get(ctx, parentRef, store.RowLockExclusive)
	require.NoError(t, err)

	waiter := begin(t, b)
	_, err = waiter.Get(ctx, parentRef, store.RowLockExclusive)
	require.ErrorIs(t, err, store.ErrLockTimeout)
	require.NoError(t, waiter.Rollback(ctx))

	require.NoError(t, holder.Rollback(ctx))

	next := begin(t, b)
	row, err := next.Get(ctx, parentRef, store.RowLockExclusive)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Version)
}

func TestSQLiteStaleSnapshotIsOptimisticFailure(t *testing.T) {
	b := openSQLite(t, time.Second)
	ctx := context.Background()
	seedRows(t, b)

	reader := begin(t, b)
	_, err := reader.Get(ctx, parentRef, store.RowLockNone)
	require.NoError(t, err)

	writer := begin(t, b)
	require.NoError(t, writer.IncrementVersion(ctx, parentRef, 0))
	require.NoError(t, writer.Commit(ctx))

	err = reader.IncrementVersion(ctx, parentRef, 0)
	assert.ErrorIs(t, err, store.ErrOptimisticLock)
}

func TestSessionOverSQLite(t *testing.T) {
	b := openSQLite(t, time.Second)
	st := store.New(b, store.DefaultConfig())
	ctx := context.Background()

	err := st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p := entity.NewParent(1, "parent")
		c := entity.NewChild(10, "child")
		p.AddChild(c)
		c.AddGrandChild(entity.NewGrandChild(100, "grandchild"))
		return s.Persist(p)
	})
	require.NoError(t, err)

	s, err := st.Begin(ctx)
	require.NoError(t, err)
	defer s.Rollback(ctx)

	gc, err := s.FindGrandChild(ctx, 100, store.LockPessimisticForceIncrement)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *gc.Version)
	require.NotNil(t, gc.Child())
	require.NotNil(t, gc.Child().Parent())
	assert.Equal(t, int64(0), *gc.Child().Parent().Version)

	gc.Child().Parent().RemoveChild(gc.Child())
	require.NoError(t, s.Commit(ctx))

	var count int
	require.NoError(t, b.DB().Get(&count, "SELECT COUNT(*) FROM grandchildren"))
	assert.Zero(t, count)
	require.NoError(t, b.DB().Get(&count, "SELECT version FROM parents WHERE id = 1"))
	assert.Equal(t, 1, count)
}
