package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/eventbook/internal/repository"
	postgres "github.com/kirinyoku/eventbook/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// Repos is the set of repositories bound to one handle: a transaction inside
// Do, the connection pool for Reader.
type Repos interface {
	Events() repository.EventRepository
	Bookings() repository.BookingRepository
	Sessions() repository.SessionRepository
}

// Runner runs a unit of work. fn must not keep tx after it returns.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Repos, after func(AfterCommit)) error) error
	Reader() Repos
}

// UoW represents a unit of work.
type UoW struct {
	store *postgres.Store
}

func NewUoW(store *postgres.Store) *UoW {
	return &UoW{store: store}
}

// Do runs fn inside a serializable transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx Repos, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx Repos, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
		return fn(ctx, repos{store: u.store, db: tx}, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// Reader returns repositories outside of any transaction.
func (u *UoW) Reader() Repos {
	return repos{store: u.store}
}

type repos struct {
	store *postgres.Store
	db    postgres.DB
}

func (r repos) Events() repository.EventRepository {
	if r.db == nil {
		return r.store.Events()
	}
	return r.store.Events().With(r.db)
}

func (r repos) Bookings() repository.BookingRepository {
	if r.db == nil {
		return r.store.Bookings()
	}
	return r.store.Bookings().With(r.db)
}

func (r repos) Sessions() repository.SessionRepository {
	if r.db == nil {
		return r.store.Sessions()
	}
	return r.store.Sessions().With(r.db)
}
