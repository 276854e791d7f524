package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

var _ persistence.Store = new(Store)

type Config struct {
	DSN      string
	MaxConns int32
}

type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to postgres and creates the schema if needed.
func NewStore(ctx context.Context, conf Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		pc.MaxConns = conf.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, mapError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, mapError("ping", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return mapError("init schema", err)
	}
	return nil
}

func isoLevel(l persistence.IsolationLevel) pgx.TxIsoLevel {
	switch l {
	case persistence.RepeatableRead:
		return pgx.RepeatableRead
	case persistence.Serializable:
		return pgx.Serializable
	}
	return pgx.ReadCommitted
}

func (s *Store) WithTx(ctx context.Context, opts persistence.TxOptions, fn func(ctx context.Context, tx persistence.Tx) error) error {
	txOpts := pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return mapError("begin", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Warn("error rolling back transaction", zap.Error(err))
		}
	}()
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// mapError turns driver errors into persistence and recovery errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", persistence.ErrNotFound, op)
	}
	if errors.Is(err, context.Canceled) {
		return recovery.Wrap(recovery.KindCanceled, op, err)
	}
	storageErr := persistence.StorageLayerError{Message: err.Error()}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return recovery.Wrap(recovery.KindTransaction, op, storageErr)
		case strings.HasPrefix(pgErr.Code, "23"):
			return recovery.Wrap(recovery.KindConstraint, op, storageErr)
		case pgErr.Code == "53300" || pgErr.Code == "53400":
			return recovery.Wrap(recovery.KindThrottled, op, storageErr)
		case pgErr.Code == "42501":
			return recovery.Wrap(recovery.KindPermission, op, storageErr)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return recovery.Wrap(recovery.KindConnection, op, storageErr)
		}
		return recovery.Wrap(recovery.KindInternal, op, storageErr)
	}
	if pgconn.Timeout(err) {
		return recovery.Wrap(recovery.KindTimeout, op, storageErr)
	}
	return recovery.Wrap(recovery.KindConnection, op, storageErr)
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}
