// Package store provides a session (persistence context) over pluggable
// storage backends with optimistic and pessimistic locking for the
// Parent -> Child -> GrandChild aggregate defined in package entity.
//
// A [Session] wraps one backend transaction. It keeps an identity map of the
// records it has loaded or persisted, detects changes at flush time and
// writes them with version-guarded statements.
//
// # Key Features
//
//   - Identity map: a record is represented by one instance per session
//   - Dirty checking with version counter increment on every update
//   - Cascading persist and remove, orphan removal for owned records
//   - Six lock modes, from [LockNone] to [LockPessimisticForceIncrement]
//   - Commit-time optimistic checks and force increments
//
// # Version Counters
//
// A record has a nil version until it is first flushed, after which its
// version is 0. Every flushed update increments the version by one.
// [LockPessimisticForceIncrement] increments immediately while the row is
// locked; [LockOptimisticForceIncrement] increments at commit.
//
//	st := store.New(backend, store.DefaultConfig())
//	s, _ := st.Begin(ctx)
//	p, _ := s.FindParent(ctx, 275, store.LockPessimisticForceIncrement)
//	// *p.Version is one higher than the stored value was
//	_ = s.Commit(ctx)
//
// # Backends
//
// Storage is abstracted by [Backend] and [Tx]. The relational implementation
// lives in package sqlstore and the DynamoDB implementation in dynamostore.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - record doesn't exist or was removed
//   - [ErrOptimisticLock] - version check failed
//   - [ErrLockTimeout] - a row lock could not be acquired in time
//   - [ErrPessimisticLock] - a row lock was lost or deadlocked
//   - [ErrParentNotFound] - owner row missing on insert
//   - [ErrHasChildren] - row still owns records on delete
//   - [ErrAlreadyExists] - row with the same id exists
package store
