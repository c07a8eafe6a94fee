package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleEventManager Role = "event_manager"
	RoleCustomer     Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEventManager, RoleCustomer:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID int64
	Role   Role
	Email  string
	Name   string
}

type Event struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Title       string     `json:"title"`
	Location    string     `json:"location"`
	StartsAt    time.Time  `json:"starts_at"`
	TicketPrice Money      `json:"ticket_price"`
	Capacity    int        `json:"capacity"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"-"`
}

// PastEvent reports whether the event has already started at now.
func (e Event) PastEvent(now time.Time) bool {
	return e.StartsAt.Before(now)
}

type Booking struct {
	ID            uuid.UUID  `json:"id"`
	EventID       int64      `json:"event_id"`
	UserID        int64      `json:"user_id"`
	AttendeeName  string     `json:"attendee_name"`
	Quantity      int        `json:"quantity"`
	BookingAmount Money      `json:"booking_amount"`
	SessionID     string     `json:"session_id"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func (b Booking) Active() bool {
	return b.DeletedAt == nil
}

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionConfirmed SessionStatus = "confirmed"
	SessionExpired   SessionStatus = "expired"
	SessionFailed    SessionStatus = "failed"
)

// PaymentSession records a checkout opened with the payment provider. It carries the
// price/quantity contract the booking is later confirmed against.
type PaymentSession struct {
	ID           string        `json:"session_id"`
	EventID      int64         `json:"event_id"`
	UserID       int64         `json:"user_id"`
	UserEmail    string        `json:"-"`
	AttendeeName string        `json:"attendee_name"`
	Quantity     int           `json:"quantity"`
	Amount       Money         `json:"amount"`
	URL          string        `json:"url"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type CapacitySnapshot struct {
	EventID   int64 `json:"event_id"`
	Capacity  int   `json:"capacity"`
	Booked    int   `json:"booked"`
	Remaining int   `json:"remaining"`
	IsFull    bool  `json:"is_full"`
}

func NewCapacitySnapshot(eventID int64, capacity, booked int) CapacitySnapshot {
	remaining := capacity - booked
	return CapacitySnapshot{
		EventID:   eventID,
		Capacity:  capacity,
		Booked:    booked,
		Remaining: remaining,
		IsFull:    remaining <= 0,
	}
}

type Page struct {
	Limit  int
	Offset int
}
