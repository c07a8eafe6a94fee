package booking

import "errors"

var (
	ErrBookingNotFound = errors.New("booking not found")
	// ErrPaymentAmountMismatch means the paid or claimed amount differs from
	// price times quantity, or the payment was made for another event or
	// quantity.
	ErrPaymentAmountMismatch = errors.New("payment amount does not match booking")
	ErrPaymentNotCompleted   = errors.New("payment has not been completed")
)
