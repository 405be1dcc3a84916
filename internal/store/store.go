// Package store is the Postgres persistence layer. Every status change goes
// through a conditional UPDATE so concurrent writers cannot both win.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"AGEPayments/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDuplicateKey = errors.New("license key already taken")

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func insertEvent(ctx context.Context, q queryer, ev models.OrderEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var detail any
	if len(ev.Detail) > 0 {
		detail = json.RawMessage(ev.Detail)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO order_events (id, order_id, kind, from_status, to_status, old_amount, new_amount, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ev.ID, ev.OrderID, ev.Kind, ev.FromStatus, ev.ToStatus, ev.OldAmount, ev.NewAmount, detail)
	return err
}
