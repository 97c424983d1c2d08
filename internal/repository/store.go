// Package repository: реализация storage.Store поверх PostgreSQL (pgx/pgxpool).
package repository

import (
	"context"
	"errors"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Коды ошибок PostgreSQL, которые различаем явно.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// timeline: условие видимости сообщения в ленте беседы.
const timeline = `schedule_state IN ('none', 'promoted')`

var _ storage.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close не закрывает пул: им владеет main.
func (s *Store) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

// classify переводит ошибку драйвера в apperr: нет строки -> NotFound,
// нарушение уникальности -> Conflict, прочее -> StorageFailure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &apperr.Error{Kind: apperr.NotFound, Op: op, Message: "not found", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &apperr.Error{Kind: apperr.Conflict, Op: op, Message: "already exists", Err: err}
		case pgForeignKeyViolation, pgInvalidText:
			return &apperr.Error{Kind: apperr.NotFound, Op: op, Message: "not found", Err: err}
		}
	}
	return &apperr.Error{Kind: apperr.StorageFailure, Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// inTx выполняет fn в транзакции. Ошибка fn откатывает всё целиком.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit это no-op
	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}
