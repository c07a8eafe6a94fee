package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/repository"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/uow"
	"github.com/kirinyoku/eventbook/internal/validation"
)

type Limiter interface {
	Allow(ctx context.Context, id string) (redisrepo.Decision, error)
}

type Config struct {
	SuccessURL string
}

type Service struct {
	uow      uow.Runner
	provider payment.Provider
	limiter  Limiter
	log      *slog.Logger
	cfg      Config
}

func New(runner uow.Runner, provider payment.Provider, limiter Limiter, log *slog.Logger, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		uow:      runner,
		provider: provider,
		limiter:  limiter,
		log:      log,
		cfg:      cfg,
	}
}

type OpenInput struct {
	EventID      int64  `json:"event_id" validate:"required,gt=0"`
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	UserEmail    string `json:"email" validate:"omitempty,email"`
	AttendeeName string `json:"attendee_name" validate:"required,max=100"`
	Quantity     int    `json:"quantity" validate:"min=1,max=100"`
}

// OpenSession starts a hosted checkout priced on the server. No booking is
// created; that happens when the paid session is confirmed.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: what the caller wants to buy.
//
// Returns:
//   - *domain.PaymentSession: the persisted session with the checkout URL.
//   - error: domain.ErrEventNotFound if the event is missing or deleted.
//   - error: checkout.ErrEventClosed if the event already started.
//   - error: domain.CapacityExceededError if not enough tickets are left now.
//   - error: checkout.RateLimitedError if the caller opened too many sessions.
//   - error: payment.ErrUnavailable if the provider failed or timed out.
func (s *Service) OpenSession(ctx context.Context, in OpenInput) (*domain.PaymentSession, error) {
	const op = "service.checkout.OpenSession"

	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := s.allow(ctx, in.UserID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	repos := s.uow.Reader()

	ev, err := repos.Events().Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if ev.PastEvent(time.Now()) {
		return nil, fmt.Errorf("%s:%w", op, ErrEventClosed)
	}

	// Advisory only; Confirm re-checks under lock.
	booked, err := repos.Bookings().BookedQuantity(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if snap := domain.NewCapacitySnapshot(ev.ID, ev.Capacity, booked); in.Quantity > snap.Remaining {
		return nil, fmt.Errorf("%s:%w", op, domain.CapacityExceededError{Remaining: max(snap.Remaining, 0)})
	}

	amount := ev.TicketPrice.Times(in.Quantity)

	sess, err := s.provider.CreateSession(ctx, payment.CreateParams{
		ExternalID:    payment.NewExternalID(ev.ID, in.UserID),
		EventID:       ev.ID,
		UserID:        in.UserID,
		CustomerEmail: in.UserEmail,
		AttendeeName:  in.AttendeeName,
		Quantity:      in.Quantity,
		UnitPrice:     ev.TicketPrice,
		Amount:        amount,
		Description:   fmt.Sprintf("%d x %s", in.Quantity, ev.Title),
		SuccessURL:    s.cfg.SuccessURL,
	})
	if err != nil {
		s.log.Error("open payment session",
			slog.Int64("event_id", ev.ID),
			slog.Any("err", err),
		)
		if !errors.Is(err, payment.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", payment.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	rec := &domain.PaymentSession{
		ID:           sess.ID,
		EventID:      ev.ID,
		UserID:       in.UserID,
		UserEmail:    in.UserEmail,
		AttendeeName: in.AttendeeName,
		Quantity:     in.Quantity,
		Amount:       amount,
		URL:          sess.URL,
		Status:       domain.SessionOpen,
	}

	if err := repos.Sessions().Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return rec, nil
}

func (s *Service) allow(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}

	d, err := s.limiter.Allow(ctx, strconv.FormatInt(userID, 10))
	if err != nil {
		// fail open
		s.log.Warn("checkout rate limiter", slog.Any("err", err))
		return nil
	}

	if !d.Allowed {
		return RateLimitedError{RetryAfter: d.RetryAfter}
	}

	return nil
}
