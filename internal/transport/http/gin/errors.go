package httpgin

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/service/checkout"
	"github.com/kirinyoku/eventbook/internal/service/events"
	"github.com/kirinyoku/eventbook/internal/validation"
)

const (
	kindNotFound              = "NotFound"
	kindCapacityExceeded      = "CapacityExceeded"
	kindCapacityBelowBooked   = "CapacityBelowBooked"
	kindPaymentAmountMismatch = "PaymentAmountMismatch"
	kindPaymentNotCompleted   = "PaymentNotCompleted"
	kindPaymentUnavailable    = "PaymentUnavailable"
	kindAuthorizationDenied   = "AuthorizationDenied"
	kindUnauthenticated       = "Unauthenticated"
	kindTransientConflict     = "TransientConflict"
	kindValidation            = "ValidationError"
	kindRateLimited           = "RateLimited"
	kindEventClosed           = "EventClosed"
	kindInternal              = "Internal"
)

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func success(data any) SuccessResponse {
	return SuccessResponse{Success: true, Data: data}
}

func abortWithKind(c *gin.Context, status int, kind, msg string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Kind:    kind,
		Message: msg,
		Details: details,
	})
}

func badRequest(c *gin.Context, msg string) {
	abortWithKind(c, http.StatusBadRequest, kindValidation, msg, nil)
}

// respondErr translates service errors into the error envelope. Anything
// unknown is a 500 and is attached to the context for the request log.
func respondErr(c *gin.Context, err error) {
	var (
		verr   *validation.Error
		capErr domain.CapacityExceededError
		rlErr  checkout.RateLimitedError
	)

	switch {
	case errors.As(err, &verr):
		abortWithKind(c, http.StatusBadRequest, kindValidation, "invalid input", gin.H{"fields": verr.Fields})
	case errors.Is(err, domain.ErrInvalidMoney):
		abortWithKind(c, http.StatusBadRequest, kindValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrEventNotFound):
		abortWithKind(c, http.StatusNotFound, kindNotFound, "event not found", nil)
	case errors.Is(err, booking.ErrBookingNotFound):
		abortWithKind(c, http.StatusNotFound, kindNotFound, "booking not found", nil)
	case errors.As(err, &capErr):
		abortWithKind(c, http.StatusConflict, kindCapacityExceeded, capErr.Error(), gin.H{"remaining": capErr.Remaining})
	case errors.Is(err, events.ErrCapacityBelowBooked):
		abortWithKind(c, http.StatusConflict, kindCapacityBelowBooked, events.ErrCapacityBelowBooked.Error(), nil)
	case errors.Is(err, checkout.ErrEventClosed):
		abortWithKind(c, http.StatusConflict, kindEventClosed, checkout.ErrEventClosed.Error(), nil)
	case errors.Is(err, booking.ErrPaymentAmountMismatch):
		abortWithKind(c, http.StatusUnprocessableEntity, kindPaymentAmountMismatch, booking.ErrPaymentAmountMismatch.Error(), nil)
	case errors.Is(err, payment.ErrInvalidContract):
		_ = c.Error(err)
		abortWithKind(c, http.StatusUnprocessableEntity, kindPaymentAmountMismatch, "payment session does not describe a booking", nil)
	case errors.Is(err, booking.ErrPaymentNotCompleted):
		abortWithKind(c, http.StatusPaymentRequired, kindPaymentNotCompleted, booking.ErrPaymentNotCompleted.Error(), nil)
	case errors.Is(err, payment.ErrUnavailable):
		_ = c.Error(err)
		abortWithKind(c, http.StatusBadGateway, kindPaymentUnavailable, "payment provider unavailable, try again later", nil)
	case errors.Is(err, domain.ErrForbidden):
		abortWithKind(c, http.StatusForbidden, kindAuthorizationDenied, domain.ErrForbidden.Error(), nil)
	case errors.Is(err, domain.ErrTransientConflict):
		c.Header("Retry-After", "1")
		abortWithKind(c, http.StatusServiceUnavailable, kindTransientConflict, domain.ErrTransientConflict.Error(), nil)
	case errors.As(err, &rlErr):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
		abortWithKind(c, http.StatusTooManyRequests, kindRateLimited, rlErr.Error(), nil)
	default:
		_ = c.Error(err)
		abortWithKind(c, http.StatusInternalServerError, kindInternal, "internal error", nil)
	}
}

// invalidBody keeps money parse errors as they are and reports anything else
// as a malformed body.
func invalidBody(err error) error {
	if errors.Is(err, domain.ErrInvalidMoney) {
		return err
	}
	return validation.Field("body", "must be valid JSON")
}
