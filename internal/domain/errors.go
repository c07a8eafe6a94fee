package domain

import (
	"errors"
	"fmt"
)

// Business errors shared by several services. Service-specific ones live
// next to their service.
var (
	ErrEventNotFound     = errors.New("event not found")
	ErrForbidden         = errors.New("not allowed to perform this action")
	ErrTransientConflict = errors.New("concurrent update, retry the request")
)

// CapacityExceededError reports how many tickets are still available.
type CapacityExceededError struct {
	Remaining int
}

func (e CapacityExceededError) Error() string {
	if e.Remaining <= 0 {
		return "event is fully booked"
	}
	return fmt.Sprintf("only %d tickets available", e.Remaining)
}
