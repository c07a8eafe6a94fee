// Package reconcile settles checkout sessions whose owner paid but never came
// back to confirm, and closes sessions the provider expired.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/uow"
)

type Confirmer interface {
	Confirm(ctx context.Context, in booking.ConfirmInput) (*booking.Confirmation, error)
}

type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context), ok bool)
}

type Config struct {
	Interval time.Duration
	// MinAge leaves young sessions to the customer's own confirm call.
	MinAge time.Duration
	Batch  int
}

type Result struct {
	Confirmed int
	Expired   int
	Failed    int
	Pending   int
}

type Service struct {
	uow       uow.Runner
	provider  payment.Provider
	confirmer Confirmer
	locker    Locker
	log       *slog.Logger
	cfg       Config
}

func New(
	runner uow.Runner,
	provider payment.Provider,
	confirmer Confirmer,
	locker Locker,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	if cfg.MinAge <= 0 {
		cfg.MinAge = 2 * time.Minute
	}

	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		uow:       runner,
		provider:  provider,
		confirmer: confirmer,
		locker:    locker,
		log:       log,
		cfg:       cfg,
	}
}

// Run reconciles every Interval until ctx is done. Only the instance holding
// the reconcile lock does work in a given round.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

func (s *Service) round(ctx context.Context) {
	if s.locker != nil {
		unlock, ok := s.locker.TryLock(ctx, redisrepo.KeyReconcileLock(), s.cfg.Interval)
		if !ok {
			s.log.Debug("reconcile lock held elsewhere")
			return
		}
		defer unlock(context.WithoutCancel(ctx))
	}

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("reconcile sessions", slog.Any("err", err))
		return
	}

	if res != (Result{}) {
		s.log.Info("reconciled sessions",
			slog.Int("confirmed", res.Confirmed),
			slog.Int("expired", res.Expired),
			slog.Int("failed", res.Failed),
			slog.Int("pending", res.Pending),
		)
	}
}

// RunOnce checks one batch of open sessions older than MinAge.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	const op = "service.reconcile.RunOnce"

	var res Result

	sessions, err := s.uow.Reader().Sessions().ListOpen(ctx, time.Now().Add(-s.cfg.MinAge), s.cfg.Batch)
	if err != nil {
		return res, fmt.Errorf("%s:%w", op, err)
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return res, nil
		}

		status, err := s.settle(ctx, sess)
		if err != nil {
			s.log.Warn("reconcile session",
				slog.String("session_id", sess.ID),
				slog.Any("err", err),
			)
			continue
		}

		switch status {
		case domain.SessionConfirmed:
			res.Confirmed++
		case domain.SessionExpired:
			res.Expired++
		case domain.SessionFailed:
			res.Failed++
		default:
			res.Pending++
		}
	}

	return res, nil
}

// settle moves sess to its final status if the provider has one for it.
func (s *Service) settle(ctx context.Context, sess domain.PaymentSession) (domain.SessionStatus, error) {
	v, err := s.provider.VerifySession(ctx, sess.ID)
	switch {
	case errors.Is(err, payment.ErrSessionNotFound), errors.Is(err, payment.ErrInvalidContract):
		return s.mark(ctx, sess.ID, domain.SessionFailed)
	case err != nil:
		return "", err
	}

	switch v.Status {
	case payment.StatusExpired:
		return s.mark(ctx, sess.ID, domain.SessionExpired)
	case payment.StatusPaid:
	default:
		return domain.SessionOpen, nil
	}

	_, err = s.confirmer.Confirm(ctx, booking.ConfirmInput{
		SessionID:     sess.ID,
		EventID:       sess.EventID,
		UserID:        sess.UserID,
		AttendeeName:  sess.AttendeeName,
		Quantity:      sess.Quantity,
		ClaimedAmount: sess.Amount,
	})
	if err == nil {
		return domain.SessionConfirmed, nil
	}

	if rejected(err) {
		s.log.Error("paid session cannot be booked, refund required",
			slog.String("session_id", sess.ID),
			slog.Int64("event_id", sess.EventID),
			slog.Int64("user_id", sess.UserID),
			slog.String("amount", sess.Amount.String()),
			slog.Any("err", err),
		)
		return s.mark(ctx, sess.ID, domain.SessionFailed)
	}

	return "", err
}

// rejected reports errors a later retry cannot fix.
func rejected(err error) bool {
	var capErr domain.CapacityExceededError
	return errors.As(err, &capErr) ||
		errors.Is(err, booking.ErrPaymentAmountMismatch) ||
		errors.Is(err, domain.ErrEventNotFound) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, payment.ErrInvalidContract)
}

func (s *Service) mark(ctx context.Context, id string, status domain.SessionStatus) (domain.SessionStatus, error) {
	err := s.uow.Do(ctx, func(ctx context.Context, tx uow.Repos, _ func(uow.AfterCommit)) error {
		return tx.Sessions().SetStatus(ctx, id, status)
	})
	if err != nil {
		return "", err
	}

	return status, nil
}
