package uow

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/kirinyoku/eventbook/internal/repository"
)

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// retries extra attempts were spent. The last error is returned as is, so
// callers can still match repository.ErrRetryable.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, backoff(attempt)); werr != nil {
				return err
			}
		}

		err = fn(ctx)
		if err == nil || !errors.Is(err, repository.ErrRetryable) {
			return err
		}
	}

	return err
}

// backoff is 5-15ms times attempt, jittered so that colliding transactions
// do not collide again.
func backoff(attempt int) time.Duration {
	base := 5*time.Millisecond + time.Duration(rand.Int64N(int64(10*time.Millisecond)))
	return base * time.Duration(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
