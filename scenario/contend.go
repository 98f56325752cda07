package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// ErrLostUpdate is returned by Contend when the final version does not
// match the number of committed units of work.
var ErrLostUpdate = errors.New("scenario: lost update")

// ContendOptions configures a contention run.
type ContendOptions struct {
	// Workers is the number of concurrent workers.
	Workers int

	// Iterations is the number of units of work per worker.
	Iterations int

	// ParentID is the record every worker competes for. It is wiped and
	// recreated before the run.
	ParentID int64

	// Mode is the lock mode every worker reads the record with.
	Mode store.LockMode

	Logger *slog.Logger
}

// ContendResult summarizes a contention run.
type ContendResult struct {
	Mode         store.LockMode
	Committed    int64
	Conflicts    int64
	FinalVersion int64
	Duration     time.Duration
}

func (r *ContendResult) String() string {
	return fmt.Sprintf("%s: %d committed, %d conflicts, final version %d (%s)",
		r.Mode, r.Committed, r.Conflicts, r.FinalVersion, r.Duration.Round(time.Millisecond))
}

// Contend runs workers that all read one parent with the given lock mode and
// bump its version once per unit of work. Force increment modes bump it
// through the lock; every other mode renames the record. A unit of work that
// still fails with a lock error after the store's retries counts as a
// conflict. The run fails with ErrLostUpdate unless the final version equals
// the number of committed units.
func Contend(ctx context.Context, st *store.Store, opts ContendOptions) (*ContendResult, error) {
	if opts.Workers < 1 || opts.Iterations < 1 {
		return nil, fmt.Errorf("contend: need at least one worker and one iteration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &env{st: st}
	if err := e.wipe(ctx, opts.ParentID); err != nil {
		return nil, fmt.Errorf("contend: wipe: %w", err)
	}
	if err := st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		return s.Persist(entity.NewParent(opts.ParentID, "contended"))
	}); err != nil {
		return nil, fmt.Errorf("contend: setup: %w", err)
	}

	var committed, conflicts atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < opts.Iterations; i++ {
				err := st.InTx(gctx, func(ctx context.Context) error {
					return bump(ctx, opts.ParentID, opts.Mode, fmt.Sprintf("w%d-%d", w, i))
				})
				switch {
				case err == nil:
					committed.Add(1)
				case isLockConflict(err):
					conflicts.Add(1)
					logger.Debug("unit of work lost", "worker", w, "iteration", i, "error", err)
				default:
					return fmt.Errorf("worker %d: %w", w, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("contend: %w", err)
	}

	result := &ContendResult{
		Mode:      opts.Mode,
		Committed: committed.Load(),
		Conflicts: conflicts.Load(),
		Duration:  time.Since(start),
	}
	if err := st.InTx(ctx, func(ctx context.Context) error {
		s, err := store.SessionFrom(ctx)
		if err != nil {
			return err
		}
		p, err := s.FindParent(ctx, opts.ParentID, store.LockNone)
		if err != nil {
			return err
		}
		result.FinalVersion = *p.Version
		return nil
	}); err != nil {
		return result, fmt.Errorf("contend: read final version: %w", err)
	}

	logger.Info("contention run finished",
		"mode", opts.Mode,
		"workers", opts.Workers,
		"committed", result.Committed,
		"conflicts", result.Conflicts,
		"final_version", result.FinalVersion,
		"duration", result.Duration,
	)
	if result.FinalVersion != result.Committed {
		return result, fmt.Errorf("%w: version %d after %d commits", ErrLostUpdate, result.FinalVersion, result.Committed)
	}
	return result, nil
}

func bump(ctx context.Context, id int64, mode store.LockMode, name string) error {
	s, err := store.SessionFrom(ctx)
	if err != nil {
		return err
	}
	p, err := s.FindParent(ctx, id, mode)
	if err != nil {
		return err
	}
	if mode != store.LockPessimisticForceIncrement && mode != store.LockOptimisticForceIncrement {
		p.Name = name
	}
	return nil
}

func isLockConflict(err error) bool {
	return errors.Is(err, store.ErrOptimisticLock) ||
		errors.Is(err, store.ErrPessimisticLock) ||
		errors.Is(err, store.ErrLockTimeout)
}
