// Package postgres implements store.Store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	*queries
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		queries: &queries{q: db},
		db:      db,
		logger:  logger,
	}
}

func (s *Store) WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, q store.Queries) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translate("begin", err)
	}

	if err := fn(ctx, &queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate("commit", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return translate("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}
