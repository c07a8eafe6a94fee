package events

import "errors"

var ErrCapacityBelowBooked = errors.New("capacity cannot be lower than tickets already booked")
