package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kirinyoku/eventbook/internal/domain"
)

var (
	// ErrUnavailable means the provider could not be reached in time or the
	// breaker is open. Nothing was created.
	ErrUnavailable     = errors.New("payment provider unavailable")
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrInvalidContract means the provider returned a session whose
	// reference or line item does not describe an event booking.
	ErrInvalidContract = errors.New("payment session has no valid booking contract")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

type CreateParams struct {
	// ExternalID is our reference for the session, unique per attempt. See
	// NewExternalID.
	ExternalID    string
	EventID       int64
	UserID        int64
	CustomerEmail string
	AttendeeName  string
	Quantity      int
	UnitPrice     domain.Money
	Amount        domain.Money
	Description   string
	SuccessURL    string
}

type Session struct {
	ID     string
	URL    string
	Amount domain.Money
}

// Verification is what the provider reports about a session.
type Verification struct {
	SessionID string
	Status    Status
	Amount    domain.Money
	EventID   int64
	UserID    int64
	Quantity  int
}

type Provider interface {
	CreateSession(ctx context.Context, p CreateParams) (*Session, error)
	VerifySession(ctx context.Context, sessionID string) (*Verification, error)
}

const externalIDPrefix = "eventbook"

// NewExternalID builds the reference sent with a session:
// eventbook-<event id>-<user id>-<uuid>.
func NewExternalID(eventID, userID int64) string {
	return fmt.Sprintf("%s-%d-%d-%s", externalIDPrefix, eventID, userID, uuid.NewString())
}

// ParseExternalID returns the event and user encoded by NewExternalID.
func ParseExternalID(id string) (eventID, userID int64, err error) {
	parts := strings.SplitN(id, "-", 4)
	if len(parts) != 4 || parts[0] != externalIDPrefix {
		return 0, 0, fmt.Errorf("%w: external id %q", ErrInvalidContract, id)
	}

	eventID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || eventID <= 0 {
		return 0, 0, fmt.Errorf("%w: external id %q", ErrInvalidContract, id)
	}

	userID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("%w: external id %q", ErrInvalidContract, id)
	}

	return eventID, userID, nil
}
