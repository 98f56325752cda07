package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jacentio/lockstore/entity"
)

// Store opens sessions against a backend.
type Store struct {
	backend Backend
	config  Config
	logger  *slog.Logger
}

// New creates a new Store instance.
func New(backend Backend, config Config) *Store {
	config.validate()
	return &Store{
		backend: backend,
		config:  config,
		logger:  config.Logger,
	}
}

// Backend returns the underlying backend.
func (st *Store) Backend() Backend {
	return st.backend
}

// Close closes the backend.
func (st *Store) Close() error {
	return st.backend.Close()
}

// Begin starts a transaction and returns a session bound to it.
func (st *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := st.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s := &Session{
		id:      uuid.NewString(),
		tx:      tx,
		logger:  st.logger,
		entries: make(map[entity.Ref]*entry),
		pending: make(map[entity.Ref]LockMode),
	}
	s.logger.Debug("session started", "session", s.id)
	return s, nil
}

// InTx runs fn inside a new session bound to the context passed to fn.
// The session commits when fn returns nil and rolls back otherwise. Units of
// work failing with ErrOptimisticLock are re-run up to Config.MaxRetries times.
func (st *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= st.config.MaxRetries; attempt++ {
		err = st.runOnce(ctx, fn)
		if err == nil || !errors.Is(err, ErrOptimisticLock) || attempt == st.config.MaxRetries {
			return err
		}
		st.logger.Info("retrying unit of work after optimistic lock failure",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return err
}

func (st *Store) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	s, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(WithSession(ctx, s)); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			st.logger.Warn("rollback failed", "session", s.id, "error", rbErr)
		}
		return err
	}
	return s.Commit(ctx)
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx.
func SessionFrom(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
