package store

import "errors"

var (
	// ErrNotFound is returned when a record doesn't exist or has been removed.
	ErrNotFound = errors.New("lockstore: record not found")

	// ErrAlreadyExists is returned when inserting a record whose id is taken.
	ErrAlreadyExists = errors.New("lockstore: record already exists")

	// ErrAlreadyManaged is returned when a different instance with the same
	// identity is already managed by the session.
	ErrAlreadyManaged = errors.New("lockstore: another instance is already managed")

	// ErrNotManaged is returned when an operation needs a managed record.
	ErrNotManaged = errors.New("lockstore: record is not managed by this session")

	// ErrParentNotFound is returned when the owner row of a record is missing.
	ErrParentNotFound = errors.New("lockstore: parent record not found")

	// ErrParentRequired is returned when persisting an owned record that has
	// no owner.
	ErrParentRequired = errors.New("lockstore: owner is required")

	// ErrHasChildren is returned when deleting a row that still owns records.
	ErrHasChildren = errors.New("lockstore: record has children")

	// ErrOptimisticLock is returned when a version check fails.
	ErrOptimisticLock = errors.New("lockstore: record was modified concurrently")

	// ErrPessimisticLock is returned when a row lock is lost or deadlocked.
	ErrPessimisticLock = errors.New("lockstore: pessimistic lock failed")

	// ErrLockTimeout is returned when a row lock is not granted in time.
	ErrLockTimeout = errors.New("lockstore: lock wait timed out")

	// ErrSessionClosed is returned by a committed or rolled back session.
	ErrSessionClosed = errors.New("lockstore: session is closed")

	// ErrNoSession is returned when the context carries no session.
	ErrNoSession = errors.New("lockstore: no session in context")

	// ErrInvalidEntity is returned when a record fails validation.
	ErrInvalidEntity = errors.New("lockstore: invalid record")
)
