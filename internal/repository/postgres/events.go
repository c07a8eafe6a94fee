package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/repository"
)

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const eventColumns = `id, owner_id, title, location, starts_at, ticket_price_cents, capacity, created_at, deleted_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var price int64

	if err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.Title,
		&e.Location,
		&e.StartsAt,
		&price,
		&e.Capacity,
		&e.CreatedAt,
		&e.DeletedAt,
	); err != nil {
		return nil, err
	}

	e.TicketPrice = domain.Money(price)

	return &e, nil
}

// Get retrieves an active event by its ID.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event does not exist or is deleted.
func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

// GetForUpdate retrieves an active event and takes a row-level exclusive lock
// on it. It must run inside a transaction; concurrent reservations for the
// same event queue up behind the lock.
//
// Returns:
//   - *domain.Event: the locked event.
//   - error: repository.ErrNotFound if the event does not exist or is deleted.
func (r *EventRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetForUpdate"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE id = $1 AND deleted_at IS NULL
		 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

func (r *EventRepo) List(ctx context.Context, page domain.Page) ([]domain.Event, error) {
	const op = "postgres.EventRepo.List"

	limit, offset := clampPage(page.Limit, page.Offset)

	rows, err := r.handle().Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE deleted_at IS NULL
		 ORDER BY starts_at, id
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *EventRepo) Create(ctx context.Context, e *domain.Event) (int64, error) {
	const op = "postgres.EventRepo.Create"

	var id int64
	if err := r.handle().QueryRow(ctx,
		`INSERT INTO events(owner_id, title, location, starts_at, ticket_price_cents, capacity)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		e.OwnerID, e.Title, e.Location, e.StartsAt, int64(e.TicketPrice), e.Capacity,
	).Scan(&id, &e.CreatedAt); err != nil {
		return 0, wrapDBErr(op, err)
	}

	e.ID = id

	return id, nil
}

func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Update"

	tag, err := r.handle().Exec(ctx,
		`UPDATE events
		 SET title = $2, location = $3, starts_at = $4, ticket_price_cents = $5, capacity = $6
		 WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.Title, e.Location, e.StartsAt, int64(e.TicketPrice), e.Capacity,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *EventRepo) SoftDelete(ctx context.Context, id int64) error {
	const op = "postgres.EventRepo.SoftDelete"

	tag, err := r.handle().Exec(ctx,
		`UPDATE events SET deleted_at = now()
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
