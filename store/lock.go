package store

import (
	"fmt"
	"strings"
)

// LockMode selects how a finder locks the row it reads.
type LockMode int

const (
	// LockNone reads without any lock or version check.
	LockNone LockMode = iota

	// LockOptimistic checks at commit that the version is unchanged.
	LockOptimistic

	// LockOptimisticForceIncrement increments the version at commit, guarded
	// by the version that was read.
	LockOptimisticForceIncrement

	// LockPessimisticRead takes a shared row lock until the transaction ends.
	LockPessimisticRead

	// LockPessimisticWrite takes an exclusive row lock until the transaction ends.
	LockPessimisticWrite

	// LockPessimisticForceIncrement takes an exclusive row lock and
	// increments the version immediately.
	LockPessimisticForceIncrement
)

var lockModeNames = map[LockMode]string{
	LockNone:                      "NONE",
	LockOptimistic:                "OPTIMISTIC",
	LockOptimisticForceIncrement:  "OPTIMISTIC_FORCE_INCREMENT",
	LockPessimisticRead:           "PESSIMISTIC_READ",
	LockPessimisticWrite:          "PESSIMISTIC_WRITE",
	LockPessimisticForceIncrement: "PESSIMISTIC_FORCE_INCREMENT",
}

func (m LockMode) String() string {
	if name, ok := lockModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("LockMode(%d)", int(m))
}

// ParseLockMode parses the names returned by LockMode.String, case-insensitively.
// "READ" and "WRITE" are accepted as aliases of the optimistic modes.
func ParseLockMode(s string) (LockMode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "READ":
		return LockOptimistic, nil
	case "WRITE":
		return LockOptimisticForceIncrement, nil
	}
	for mode, n := range lockModeNames {
		if n == name {
			return mode, nil
		}
	}
	return LockNone, fmt.Errorf("unknown lock mode %q", s)
}

// Pessimistic reports whether m takes a row lock.
func (m LockMode) Pessimistic() bool {
	return m == LockPessimisticRead || m == LockPessimisticWrite || m == LockPessimisticForceIncrement
}

// Optimistic reports whether m defers a version check or increment to commit.
func (m LockMode) Optimistic() bool {
	return m == LockOptimistic || m == LockOptimisticForceIncrement
}

// RowLock is the row-level lock a backend takes while reading.
type RowLock int

const (
	RowLockNone RowLock = iota
	RowLockShared
	RowLockExclusive
)

func (l RowLock) String() string {
	switch l {
	case RowLockShared:
		return "shared"
	case RowLockExclusive:
		return "exclusive"
	}
	return "none"
}

// rowLock maps a lock mode to the row lock taken while reading.
func (m LockMode) rowLock() RowLock {
	switch m {
	case LockPessimisticRead:
		return RowLockShared
	case LockPessimisticWrite, LockPessimisticForceIncrement:
		return RowLockExclusive
	}
	return RowLockNone
}
