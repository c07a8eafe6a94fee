package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventbook/internal/domain"
)

type EventRepository interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
	// GetForUpdate reads an active event and locks its row until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Event, error)
	List(ctx context.Context, page domain.Page) ([]domain.Event, error)
	Create(ctx context.Context, e *domain.Event) (int64, error)
	Update(ctx context.Context, e *domain.Event) error
	SoftDelete(ctx context.Context, id int64) error
}

type BookingRepository interface {
	// BookedQuantity sums quantity over active bookings of the event.
	BookedQuantity(ctx context.Context, eventID int64) (int, error)
	Insert(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64, page domain.Page) ([]domain.Booking, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type SessionRepository interface {
	Insert(ctx context.Context, s *domain.PaymentSession) error
	Get(ctx context.Context, id string) (*domain.PaymentSession, error)
	SetStatus(ctx context.Context, id string, status domain.SessionStatus) error
	ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentSession, error)
}
