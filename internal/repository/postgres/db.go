package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// RunTx runs fn in a transaction, serializable and read-write unless opts says
// otherwise. The transaction is rolled back on every path that does not commit.
// Serialization failures are reported as repository.ErrRetryable.
func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return translateDBErr(err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		if IsRetryable(err) {
			return fmt.Errorf("%w: %w", errRetryable, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

func (s *Store) Events() *EventRepo     { return &EventRepo{pool: s.pool} }
func (s *Store) Bookings() *BookingRepo { return &BookingRepo{pool: s.pool} }
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{pool: s.pool} }
