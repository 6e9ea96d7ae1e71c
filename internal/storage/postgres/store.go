// Package postgres — хранилище поверх pgxpool. Строки склада и нарядов
// блокируются SELECT … FOR UPDATE до конца транзакции.
package postgres

import (
	"context"
	"errors"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ pool *pgxpool.Pool }

var _ storage.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return wrap("postgres.Begin", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&tx{tx: pgTx}); err != nil {
		return wrap("postgres.InTx", err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return wrap("postgres.Commit", err)
	}
	return nil
}

// wrap переводит ошибки драйвера в apperr. Уже типизированные ошибки не трогает.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return apperr.Wrap(apperr.KindConcurrencyConflict, op, err)
		case "23505":
			return apperr.Wrap(apperr.KindValidation, op, err)
		case "23503":
			return apperr.Wrap(apperr.KindNotFound, op, err)
		}
	}
	return apperr.Wrap(apperr.KindInternal, op, err)
}

// notFound: для ErrNoRows — сообщение с понятным объектом, остальное через wrap.
func notFound(op string, err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, op, format, args...)
	}
	return wrap(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
