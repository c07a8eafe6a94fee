package checkout

import (
	"errors"
	"fmt"
	"time"
)

var ErrEventClosed = errors.New("event has already started")

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("too many checkout attempts, retry in %s", e.RetryAfter.Round(time.Second))
}
