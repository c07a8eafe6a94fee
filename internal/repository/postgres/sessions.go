package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/repository"
)

type SessionRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *SessionRepo) With(db DB) *SessionRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *SessionRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const sessionColumns = `id, event_id, user_id, user_email, attendee_name, quantity, amount_cents, url, status, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	var amount int64
	var status string

	if err := row.Scan(
		&s.ID,
		&s.EventID,
		&s.UserID,
		&s.UserEmail,
		&s.AttendeeName,
		&s.Quantity,
		&amount,
		&s.URL,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.Amount = domain.Money(amount)
	s.Status = domain.SessionStatus(status)

	return &s, nil
}

func (r *SessionRepo) Insert(ctx context.Context, s *domain.PaymentSession) error {
	const op = "postgres.SessionRepo.Insert"

	if s.Status == "" {
		s.Status = domain.SessionOpen
	}

	if err := r.handle().QueryRow(ctx,
		`INSERT INTO payment_sessions(id, event_id, user_id, user_email, attendee_name, quantity, amount_cents, url, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		s.ID, s.EventID, s.UserID, s.UserEmail, s.AttendeeName, s.Quantity, int64(s.Amount), s.URL, string(s.Status),
	).Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.PaymentSession, error) {
	const op = "postgres.SessionRepo.Get"

	s, err := scanSession(r.handle().QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return s, nil
}

func (r *SessionRepo) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	const op = "postgres.SessionRepo.SetStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE payment_sessions SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListOpen returns open sessions created before olderThan, oldest first.
func (r *SessionRepo) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentSession, error) {
	const op = "postgres.SessionRepo.ListOpen"

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.handle().Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM payment_sessions
		 WHERE status = 'open' AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.PaymentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
