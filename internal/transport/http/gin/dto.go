package httpgin

import (
	"time"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/service/events"
)

type EventRequest struct {
	Title       string       `json:"title"`
	Location    string       `json:"location"`
	StartsAt    time.Time    `json:"starts_at" swaggertype:"string" format:"date-time"`
	TicketPrice domain.Money `json:"ticket_price" swaggertype:"number"`
	Capacity    int          `json:"capacity"`
}

func (r EventRequest) input() events.EventInput {
	return events.EventInput{
		Title:       r.Title,
		Location:    r.Location,
		StartsAt:    r.StartsAt,
		TicketPrice: r.TicketPrice,
		Capacity:    r.Capacity,
	}
}

type EventResponse struct {
	domain.Event
	PastEvent bool `json:"past_event"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{Event: e, PastEvent: e.PastEvent(time.Now())}
}

type OpenSessionRequest struct {
	EventID      int64  `json:"event_id"`
	Quantity     int    `json:"quantity"`
	AttendeeName string `json:"attendee_name"`
}

type SessionResponse struct {
	SessionID string       `json:"session_id"`
	URL       string       `json:"url"`
	Amount    domain.Money `json:"amount" swaggertype:"number"`
	EventID   int64        `json:"event_id"`
	Quantity  int          `json:"quantity"`
}

type ConfirmBookingRequest struct {
	EventID       int64        `json:"event_id"`
	AttendeeName  string       `json:"attendee_name"`
	Quantity      int          `json:"quantity"`
	BookingAmount domain.Money `json:"booking_amount" swaggertype:"number"`
	SessionID     string       `json:"session_id"`
}

type BookingResponse struct {
	domain.Booking
	Replayed bool `json:"replayed,omitempty"`
}
