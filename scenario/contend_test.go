package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lockstore/store"
)

func TestContend_NoLostUpdates(t *testing.T) {
	modes := []store.LockMode{
		store.LockPessimisticForceIncrement,
		store.LockPessimisticWrite,
		store.LockOptimisticForceIncrement,
		store.LockOptimistic,
	}

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			st := store.New(newStore(t).Backend(), store.Config{MaxRetries: 10})

			result, err := Contend(context.Background(), st, ContendOptions{
				Workers:    3,
				Iterations: 4,
				ParentID:   900000,
				Mode:       mode,
			})
			require.NoError(t, err)

			assert.Equal(t, int64(12), result.Committed+result.Conflicts)
			assert.Equal(t, result.Committed, result.FinalVersion)
			assert.Positive(t, result.Committed)
			assert.Contains(t, result.String(), mode.String())
		})
	}
}

func TestContend_RerunStartsFromZero(t *testing.T) {
	st := newStore(t)
	opts := ContendOptions{Workers: 1, Iterations: 3, ParentID: 900001, Mode: store.LockPessimisticForceIncrement}

	for i := 0; i < 2; i++ {
		result, err := Contend(context.Background(), st, opts)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.FinalVersion)
		assert.Zero(t, result.Conflicts)
	}
}

func TestContend_RejectsEmptyRun(t *testing.T) {
	_, err := Contend(context.Background(), newStore(t), ContendOptions{ParentID: 1, Mode: store.LockNone})
	require.Error(t, err)
}
