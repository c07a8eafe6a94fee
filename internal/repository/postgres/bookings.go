package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const bookingColumns = `id, event_id, user_id, attendee_name, quantity, booking_amount_cents, session_id, created_at, deleted_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var amount int64

	if err := row.Scan(
		&b.ID,
		&b.EventID,
		&b.UserID,
		&b.AttendeeName,
		&b.Quantity,
		&amount,
		&b.SessionID,
		&b.CreatedAt,
		&b.DeletedAt,
	); err != nil {
		return nil, err
	}

	b.BookingAmount = domain.Money(amount)

	return &b, nil
}

// BookedQuantity sums the quantity of active bookings for an event. Inside a
// transaction that holds the event row lock the result is authoritative;
// outside of one it is advisory.
func (r *BookingRepo) BookedQuantity(ctx context.Context, eventID int64) (int, error) {
	const op = "postgres.BookingRepo.BookedQuantity"

	var booked int64
	if err := r.handle().QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM bookings
		 WHERE event_id = $1 AND deleted_at IS NULL`,
		eventID,
	).Scan(&booked); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return int(booked), nil
}

// Insert stores a new booking. ID and CreatedAt are filled in.
//
// Returns:
//   - error: repository.ErrConflict if a booking for the same session id exists.
func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	if err := r.handle().QueryRow(ctx,
		`INSERT INTO bookings(id, event_id, user_id, attendee_name, quantity, booking_amount_cents, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		b.ID, b.EventID, b.UserID, b.AttendeeName, b.Quantity, int64(b.BookingAmount), b.SessionID,
	).Scan(&b.CreatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Get returns a booking by id, including cancelled ones.
func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetBySession"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE session_id = $1`,
		sessionID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) ListByUser(ctx context.Context, userID int64, page domain.Page) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByUser"

	limit, offset := clampPage(page.Limit, page.Offset)

	rows, err := r.handle().Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make([]domain.Booking, 0, limit)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// SoftDelete cancels an active booking.
//
// Returns:
//   - error: repository.ErrNotFound if there is no active booking with that id.
func (r *BookingRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.SoftDelete"

	tag, err := r.handle().Exec(ctx,
		`UPDATE bookings SET deleted_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
