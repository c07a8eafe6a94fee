package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/payment/paymenttest"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/uow/uowtest"
)

type stubLimiter struct {
	d   redisrepo.Decision
	err error
}

func (l stubLimiter) Allow(context.Context, string) (redisrepo.Decision, error) {
	return l.d, l.err
}

func seedEvent(mem *uowtest.Memory, startsIn time.Duration, capacity int) int64 {
	return mem.SeedEvent(domain.Event{
		OwnerID:     1,
		Title:       "Concert",
		StartsAt:    time.Now().Add(startsIn),
		TicketPrice: domain.Money(12550),
		Capacity:    capacity,
	})
}

func openInput(eventID int64, qty int) OpenInput {
	return OpenInput{
		EventID:      eventID,
		UserID:       7,
		UserEmail:    "ann@example.com",
		AttendeeName: "Ann",
		Quantity:     qty,
	}
}

func TestOpenSession(t *testing.T) {
	mem := uowtest.NewMemory()
	fake := paymenttest.NewFake()
	svc := New(mem, fake, nil, nil, Config{SuccessURL: "https://app.example.com/done"})
	eventID := seedEvent(mem, time.Hour, 10)

	s, err := svc.OpenSession(context.Background(), openInput(eventID, 2))
	require.NoError(t, err)

	assert.Equal(t, domain.Money(25100), s.Amount)
	assert.NotEmpty(t, s.URL)
	assert.Equal(t, domain.SessionOpen, s.Status)

	stored, ok := mem.Session(s.ID)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Quantity)
	assert.Empty(t, mem.ActiveBookings(eventID))

	v, err := fake.VerifySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(25100), v.Amount)
	assert.Equal(t, eventID, v.EventID)
	assert.Equal(t, int64(7), v.UserID)
}

func TestOpenSessionMissingEventSkipsProvider(t *testing.T) {
	mem := uowtest.NewMemory()
	fake := paymenttest.NewFake()
	svc := New(mem, fake, nil, nil, Config{})

	_, err := svc.OpenSession(context.Background(), openInput(404, 1))
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	assert.Zero(t, fake.Creates())
}

func TestOpenSessionRejects(t *testing.T) {
	t.Run("past event", func(t *testing.T) {
		mem := uowtest.NewMemory()
		fake := paymenttest.NewFake()
		svc := New(mem, fake, nil, nil, Config{})
		eventID := seedEvent(mem, -time.Hour, 10)

		_, err := svc.OpenSession(context.Background(), openInput(eventID, 1))
		assert.ErrorIs(t, err, ErrEventClosed)
		assert.Zero(t, fake.Creates())
	})

	t.Run("not enough tickets", func(t *testing.T) {
		mem := uowtest.NewMemory()
		fake := paymenttest.NewFake()
		svc := New(mem, fake, nil, nil, Config{})
		eventID := seedEvent(mem, time.Hour, 3)
		mem.SeedBooking(domain.Booking{EventID: eventID, UserID: 9, AttendeeName: "X", Quantity: 2})

		_, err := svc.OpenSession(context.Background(), openInput(eventID, 2))

		var capErr domain.CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 1, capErr.Remaining)
		assert.Zero(t, fake.Creates())
	})

	t.Run("rate limited", func(t *testing.T) {
		mem := uowtest.NewMemory()
		fake := paymenttest.NewFake()
		limiter := stubLimiter{d: redisrepo.Decision{Allowed: false, RetryAfter: 30 * time.Second}}
		svc := New(mem, fake, limiter, nil, Config{})
		eventID := seedEvent(mem, time.Hour, 10)

		_, err := svc.OpenSession(context.Background(), openInput(eventID, 1))

		var rlErr RateLimitedError
		require.ErrorAs(t, err, &rlErr)
		assert.Equal(t, 30*time.Second, rlErr.RetryAfter)
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		mem := uowtest.NewMemory()
		fake := paymenttest.NewFake()
		svc := New(mem, fake, stubLimiter{err: errors.New("redis down")}, nil, Config{})
		eventID := seedEvent(mem, time.Hour, 10)

		_, err := svc.OpenSession(context.Background(), openInput(eventID, 1))
		assert.NoError(t, err)
	})

	t.Run("invalid input", func(t *testing.T) {
		mem := uowtest.NewMemory()
		svc := New(mem, paymenttest.NewFake(), nil, nil, Config{})

		_, err := svc.OpenSession(context.Background(), OpenInput{EventID: 1, UserID: 7, Quantity: 0})
		assert.Error(t, err)
	})
}

func TestOpenSessionProviderTimeoutWritesNothing(t *testing.T) {
	mem := uowtest.NewMemory()
	fake := paymenttest.NewFake()
	fake.Block = true
	provider := payment.NewGuarded(fake, payment.GuardConfig{Timeout: 20 * time.Millisecond})
	svc := New(mem, provider, nil, nil, Config{})
	eventID := seedEvent(mem, time.Hour, 10)

	_, err := svc.OpenSession(context.Background(), openInput(eventID, 1))
	assert.ErrorIs(t, err, payment.ErrUnavailable)
	assert.Zero(t, mem.Transactions())
}

func TestOpenSessionProviderError(t *testing.T) {
	mem := uowtest.NewMemory()
	fake := paymenttest.NewFake()
	fake.CreateErr = errors.New("invalid api key")
	svc := New(mem, fake, nil, nil, Config{})
	eventID := seedEvent(mem, time.Hour, 10)

	_, err := svc.OpenSession(context.Background(), openInput(eventID, 1))
	assert.ErrorIs(t, err, payment.ErrUnavailable)
}
