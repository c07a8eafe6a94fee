package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	circuit "github.com/rubyist/circuitbreaker"
)

type GuardConfig struct {
	Timeout time.Duration
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int64
}

// Guarded bounds every provider call with a timeout and a circuit breaker.
type Guarded struct {
	next    Provider
	breaker *circuit.Breaker
	timeout time.Duration
}

func NewGuarded(next Provider, cfg GuardConfig) *Guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}

	return &Guarded{
		next:    next,
		breaker: circuit.NewThresholdBreaker(cfg.Threshold),
		timeout: cfg.Timeout,
	}
}

func (g *Guarded) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	const op = "payment.Guarded.CreateSession"

	var s *Session
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		s, err = g.next.CreateSession(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s, nil
}

func (g *Guarded) VerifySession(ctx context.Context, sessionID string) (*Verification, error) {
	const op = "payment.Guarded.VerifySession"

	var v *Verification
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		v, err = g.next.VerifySession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return v, nil
}

func (g *Guarded) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// A missing or foreign session is an answer, not a provider failure.
	var answer error
	err := g.breaker.Call(func() error {
		err := fn(ctx)
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrInvalidContract) {
			answer = err
			return nil
		}
		return err
	}, 0)

	switch {
	case err == nil && answer == nil:
		return nil
	case answer != nil:
		return answer
	case errors.Is(err, circuit.ErrBreakerOpen),
		errors.Is(err, context.DeadlineExceeded),
		ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
