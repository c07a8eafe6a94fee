package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/eventbook/internal/authz"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/repository"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/uow"
	"github.com/kirinyoku/eventbook/internal/validation"
)

type Config struct {
	EventTTL        time.Duration
	AvailabilityTTL time.Duration
	TxRetries       int
}

type Service struct {
	uow    uow.Runner
	cache  *redisrepo.Cache
	pubsub *redisrepo.EventsPubSub
	log    *slog.Logger
	cfg    Config
}

func New(
	runner uow.Runner,
	cache *redisrepo.Cache,
	pubsub *redisrepo.EventsPubSub,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		uow:    runner,
		cache:  cache,
		pubsub: pubsub,
		log:    log,
		cfg:    cfg,
	}
}

type EventInput struct {
	Title       string       `json:"title" validate:"required,max=200"`
	Location    string       `json:"location" validate:"max=200"`
	StartsAt    time.Time    `json:"starts_at" validate:"required"`
	TicketPrice domain.Money `json:"ticket_price" validate:"gte=0"`
	Capacity    int          `json:"capacity" validate:"min=1"`
}

func (in EventInput) validate() error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.TicketPrice > domain.MaxTicketPrice {
		return validation.Field("ticket_price", "must be at most "+domain.MaxTicketPrice.String())
	}
	return nil
}

// Get retrieves an active event, utilizing the cache.
//
// Returns:
//   - *domain.Event: the event.
//   - error: domain.ErrEventNotFound if the event is missing or deleted.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.events.Get"

	ev, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEvent(id),
		s.cfg.EventTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.uow.Reader().Events().Get(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Event{}, domain.ErrEventNotFound
				}
				return domain.Event{}, err
			}
			return *e, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &ev, nil
}

// Availability returns an advisory capacity snapshot. It may lag behind
// bookings by up to the availability TTL.
func (s *Service) Availability(ctx context.Context, id int64) (*domain.CapacitySnapshot, error) {
	const op = "service.events.Availability"

	snap, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventAvailability(id),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.CapacitySnapshot, error) {
			repos := s.uow.Reader()

			e, err := repos.Events().Get(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.CapacitySnapshot{}, domain.ErrEventNotFound
				}
				return domain.CapacitySnapshot{}, err
			}

			booked, err := repos.Bookings().BookedQuantity(ctx, id)
			if err != nil {
				return domain.CapacitySnapshot{}, err
			}

			return domain.NewCapacitySnapshot(id, e.Capacity, booked), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &snap, nil
}

func (s *Service) List(ctx context.Context, page domain.Page) ([]domain.Event, error) {
	const op = "service.events.List"

	if page.Limit <= 0 {
		page.Limit = 20
	}
	if page.Limit > 100 {
		page.Limit = 100
	}

	events, err := s.uow.Reader().Events().List(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return events, nil
}

// Create adds an event owned by p.
//
// Returns:
//   - *domain.Event: the created event.
//   - error: domain.ErrForbidden unless p is an admin or event manager.
func (s *Service) Create(ctx context.Context, p domain.Principal, in EventInput) (*domain.Event, error) {
	const op = "service.events.Create"

	if err := authz.Check(p, authz.EventCreate, authz.Resource{}); err != nil {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ev := &domain.Event{
		OwnerID:     p.UserID,
		Title:       in.Title,
		Location:    in.Location,
		StartsAt:    in.StartsAt.UTC(),
		TicketPrice: in.TicketPrice,
		Capacity:    in.Capacity,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error {
		id, err := tx.Events().Create(ctx, ev)
		if err != nil {
			return err
		}
		ev.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.log.Info("event created", slog.Int64("event_id", ev.ID), slog.Int64("owner_id", ev.OwnerID))

	return ev, nil
}

// Update replaces the event's details. Existing bookings keep the amount they
// were booked at.
//
// Returns:
//   - error: domain.ErrEventNotFound, domain.ErrForbidden.
//   - error: events.ErrCapacityBelowBooked if capacity drops under the booked sum.
func (s *Service) Update(ctx context.Context, p domain.Principal, id int64, in EventInput) (*domain.Event, error) {
	const op = "service.events.Update"

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var updated *domain.Event

	err := s.mutate(ctx, p, authz.EventUpdate, id, func(ctx context.Context, tx uow.Repos, ev *domain.Event) error {
		booked, err := tx.Bookings().BookedQuantity(ctx, ev.ID)
		if err != nil {
			return err
		}
		if in.Capacity < booked {
			return ErrCapacityBelowBooked
		}

		ev.Title = in.Title
		ev.Location = in.Location
		ev.StartsAt = in.StartsAt.UTC()
		ev.TicketPrice = in.TicketPrice
		ev.Capacity = in.Capacity

		if err := tx.Events().Update(ctx, ev); err != nil {
			return err
		}

		updated = ev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return updated, nil
}

// Delete soft-deletes the event. Its bookings stay in the ledger.
func (s *Service) Delete(ctx context.Context, p domain.Principal, id int64) error {
	const op = "service.events.Delete"

	err := s.mutate(ctx, p, authz.EventDelete, id, func(ctx context.Context, tx uow.Repos, ev *domain.Event) error {
		return tx.Events().SoftDelete(ctx, ev.ID)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.log.Info("event deleted", slog.Int64("event_id", id), slog.Int64("by_user", p.UserID))

	return nil
}

// mutate locks the event, checks that p may perform action on it and runs fn
// in the same transaction.
func (s *Service) mutate(
	ctx context.Context,
	p domain.Principal,
	action authz.Action,
	id int64,
	fn func(ctx context.Context, tx uow.Repos, ev *domain.Event) error,
) error {
	err := uow.Retry(ctx, s.cfg.TxRetries, func(ctx context.Context) error {
		return s.uow.Do(ctx, func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error {
			ev, err := tx.Events().GetForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ErrEventNotFound
				}
				return err
			}

			if err := authz.Check(p, action, authz.Resource{OwnerID: ev.OwnerID}); err != nil {
				return domain.ErrForbidden
			}

			if err := fn(ctx, tx, ev); err != nil {
				return err
			}

			after(func(ctx context.Context) {
				_ = s.cache.InvalidateEvent(ctx, id)
				_ = s.pubsub.PublishEventChanged(ctx, id)
			})

			return nil
		})
	})
	if errors.Is(err, repository.ErrRetryable) {
		return fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
	}

	return err
}
