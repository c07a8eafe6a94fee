package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirinyoku/eventbook/internal/authz"
	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/repository"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/uow"
	"github.com/kirinyoku/eventbook/internal/validation"
)

type Config struct {
	// TxRetries is how many extra attempts a serialization failure gets.
	TxRetries int
	// VerifyPayment asks the provider for the session before confirming.
	VerifyPayment bool
}

type Service struct {
	uow      uow.Runner
	provider payment.Provider
	cache    *redisrepo.Cache
	pubsub   *redisrepo.EventsPubSub
	log      *slog.Logger
	cfg      Config
}

func New(
	runner uow.Runner,
	provider payment.Provider,
	cache *redisrepo.Cache,
	pubsub *redisrepo.EventsPubSub,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.TxRetries < 0 {
		cfg.TxRetries = 0
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		uow:      runner,
		provider: provider,
		cache:    cache,
		pubsub:   pubsub,
		log:      log,
		cfg:      cfg,
	}
}

type ReserveInput struct {
	EventID      int64  `json:"event_id" validate:"required,gt=0"`
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	AttendeeName string `json:"attendee_name" validate:"required,max=100"`
	Quantity     int    `json:"quantity" validate:"min=1,max=100"`
	SessionID    string `json:"session_id" validate:"required,max=255"`
}

type ConfirmInput struct {
	SessionID     string       `json:"session_id" validate:"required,max=255"`
	EventID       int64        `json:"event_id" validate:"required,gt=0"`
	UserID        int64        `json:"user_id" validate:"required,gt=0"`
	AttendeeName  string       `json:"attendee_name" validate:"required,max=100"`
	Quantity      int          `json:"quantity" validate:"min=1,max=100"`
	ClaimedAmount domain.Money `json:"booking_amount" validate:"gt=0"`
}

type Confirmation struct {
	Booking  *domain.Booking
	Replayed bool
}

// Reserve admits a booking against the event's remaining capacity. The
// capacity read and the insert happen in one serializable transaction with
// the event row locked, so concurrent reservations never oversell. The
// booking amount is always the event's ticket price times Quantity.
//
// Returns:
//   - *domain.Booking: the new booking, or the existing one for SessionID.
//   - error: domain.ErrEventNotFound if the event is missing or deleted.
//   - error: domain.CapacityExceededError if Quantity exceeds what is left.
//   - error: domain.ErrTransientConflict once retries are spent.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*domain.Booking, error) {
	const op = "service.booking.Reserve"

	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	b, _, err := s.reserve(ctx, in, nil)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// Confirm turns a paid checkout session into a booking. Replays of a session
// that already produced a booking return that booking.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: the session and the booking contract the client claims it paid for.
//
// Returns:
//   - *Confirmation: the booking and whether it already existed.
//   - error: booking.ErrPaymentNotCompleted if the session is not paid.
//   - error: booking.ErrPaymentAmountMismatch if amounts or contract differ.
//   - error: domain.ErrForbidden if the session was opened by another user.
//   - error: domain.ErrEventNotFound, domain.CapacityExceededError,
//     domain.ErrTransientConflict as for Reserve.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	const op = "service.booking.Confirm"

	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	existing, err := s.uow.Reader().Bookings().GetBySession(ctx, in.SessionID)
	switch {
	case err == nil:
		return s.replay(existing, in.UserID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.verifyPayment(ctx, in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	reserve := ReserveInput{
		EventID:      in.EventID,
		UserID:       in.UserID,
		AttendeeName: in.AttendeeName,
		Quantity:     in.Quantity,
		SessionID:    in.SessionID,
	}

	b, replayed, err := s.reserve(ctx, reserve, func(ctx context.Context, tx uow.Repos, ev *domain.Event) error {
		if err := checkSession(ctx, tx, in); err != nil {
			return err
		}
		if ev.TicketPrice.Times(in.Quantity) != in.ClaimedAmount {
			return ErrPaymentAmountMismatch
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if replayed {
		return s.replay(b, in.UserID)
	}

	s.log.Info("booking confirmed",
		slog.String("booking_id", b.ID.String()),
		slog.Int64("event_id", b.EventID),
		slog.Int("quantity", b.Quantity),
		slog.String("session_id", b.SessionID),
	)

	return &Confirmation{Booking: b}, nil
}

func (s *Service) replay(b *domain.Booking, userID int64) (*Confirmation, error) {
	if b.UserID != userID {
		return nil, domain.ErrForbidden
	}

	s.log.Info("booking confirm replayed",
		slog.String("booking_id", b.ID.String()),
		slog.String("session_id", b.SessionID),
	)

	return &Confirmation{Booking: b, Replayed: true}, nil
}

func (s *Service) verifyPayment(ctx context.Context, in ConfirmInput) error {
	if !s.cfg.VerifyPayment || s.provider == nil {
		return nil
	}

	v, err := s.provider.VerifySession(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return ErrPaymentNotCompleted
		}
		return err
	}

	if v.Status != payment.StatusPaid {
		return ErrPaymentNotCompleted
	}

	if v.UserID != 0 && v.UserID != in.UserID {
		return domain.ErrForbidden
	}

	if v.Amount != in.ClaimedAmount || v.EventID != in.EventID || v.Quantity != in.Quantity {
		s.log.Warn("payment does not match confirm request",
			slog.String("session_id", in.SessionID),
			slog.String("paid", v.Amount.String()),
			slog.String("claimed", in.ClaimedAmount.String()),
		)
		return ErrPaymentAmountMismatch
	}

	return nil
}

// checkSession binds a confirm to the checkout session it names: the session
// must exist, belong to the caller and carry the same contract.
func checkSession(ctx context.Context, tx uow.Repos, in ConfirmInput) error {
	sess, err := tx.Sessions().Get(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPaymentNotCompleted
		}
		return err
	}

	if sess.UserID != in.UserID {
		return domain.ErrForbidden
	}

	switch sess.Status {
	case domain.SessionExpired, domain.SessionFailed:
		return ErrPaymentNotCompleted
	}

	if sess.EventID != in.EventID || sess.Quantity != in.Quantity || sess.Amount != in.ClaimedAmount {
		return ErrPaymentAmountMismatch
	}

	return nil
}

// reserve runs the capacity protocol. check sees the locked event inside the
// transaction before capacity is computed and may veto the booking.
func (s *Service) reserve(
	ctx context.Context,
	in ReserveInput,
	check func(ctx context.Context, tx uow.Repos, ev *domain.Event) error,
) (*domain.Booking, bool, error) {
	var (
		booking  *domain.Booking
		replayed bool
	)

	err := uow.Retry(ctx, s.cfg.TxRetries, func(ctx context.Context) error {
		replayed = false

		return s.uow.Do(ctx, func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error {
			existing, err := tx.Bookings().GetBySession(ctx, in.SessionID)
			if err == nil {
				booking, replayed = existing, true
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			ev, err := tx.Events().GetForUpdate(ctx, in.EventID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ErrEventNotFound
				}
				return err
			}

			if check != nil {
				if err := check(ctx, tx, ev); err != nil {
					return err
				}
			}

			booked, err := tx.Bookings().BookedQuantity(ctx, ev.ID)
			if err != nil {
				return err
			}

			snap := domain.NewCapacitySnapshot(ev.ID, ev.Capacity, booked)
			if in.Quantity > snap.Remaining {
				return domain.CapacityExceededError{Remaining: max(snap.Remaining, 0)}
			}

			b := &domain.Booking{
				EventID:       ev.ID,
				UserID:        in.UserID,
				AttendeeName:  in.AttendeeName,
				Quantity:      in.Quantity,
				BookingAmount: ev.TicketPrice.Times(in.Quantity),
				SessionID:     in.SessionID,
			}
			if err := tx.Bookings().Insert(ctx, b); err != nil {
				return err
			}

			err = tx.Sessions().SetStatus(ctx, in.SessionID, domain.SessionConfirmed)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			booking = b
			s.afterChange(after, ev.ID)

			return nil
		})
	})

	switch {
	case err == nil:
		return booking, replayed, nil
	case errors.Is(err, repository.ErrConflict):
		// Another transaction inserted this session first.
		existing, gerr := s.uow.Reader().Bookings().GetBySession(ctx, in.SessionID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, true, nil
	case errors.Is(err, repository.ErrRetryable):
		return nil, false, fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
	default:
		return nil, false, err
	}
}

// Cancel soft-deletes a booking, returning its tickets to the event.
//
// Returns:
//   - error: booking.ErrBookingNotFound if missing or already cancelled.
//   - error: domain.ErrForbidden if p may not cancel it.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, p domain.Principal) error {
	const op = "service.booking.Cancel"

	err := uow.Retry(ctx, s.cfg.TxRetries, func(ctx context.Context) error {
		return s.uow.Do(ctx, func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error {
			b, err := tx.Bookings().Get(ctx, bookingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrBookingNotFound
				}
				return err
			}

			if !b.Active() {
				return ErrBookingNotFound
			}

			if err := authz.Check(p, authz.BookingCancel, authz.Resource{OwnerID: b.UserID}); err != nil {
				return domain.ErrForbidden
			}

			if err := tx.Bookings().SoftDelete(ctx, b.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrBookingNotFound
				}
				return err
			}

			s.afterChange(after, b.EventID)

			return nil
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrRetryable) {
			err = fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.log.Info("booking cancelled",
		slog.String("booking_id", bookingID.String()),
		slog.Int64("by_user", p.UserID),
		slog.String("role", string(p.Role)),
	)

	return nil
}

// ListMine returns the caller's bookings, newest first.
func (s *Service) ListMine(ctx context.Context, userID int64, page domain.Page) ([]domain.Booking, error) {
	const op = "service.booking.ListMine"

	bookings, err := s.uow.Reader().Bookings().ListByUser(ctx, userID, clampPage(page))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return bookings, nil
}

// Get returns one booking if p may read it. Event managers may read bookings
// of their own events.
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID, p domain.Principal) (*domain.Booking, error) {
	const op = "service.booking.Get"

	repos := s.uow.Reader()

	b, err := repos.Bookings().Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	res := authz.Resource{OwnerID: b.UserID}
	if p.Role == domain.RoleEventManager {
		ev, err := repos.Events().Get(ctx, b.EventID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if ev != nil {
			res.EventOwnerID = ev.OwnerID
		}
	}

	if !authz.Allowed(p, authz.BookingRead, res) {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	return b, nil
}

func (s *Service) afterChange(after func(uow.AfterCommit), eventID int64) {
	after(func(ctx context.Context) {
		if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
			s.log.Warn("invalidate event cache", slog.Int64("event_id", eventID), slog.Any("err", err))
		}
		if err := s.pubsub.PublishEventChanged(ctx, eventID); err != nil {
			s.log.Warn("publish event change", slog.Int64("event_id", eventID), slog.Any("err", err))
		}
	})
}

func clampPage(p domain.Page) domain.Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
