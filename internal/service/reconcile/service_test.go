package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/payment/paymenttest"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/uow/uowtest"
)

type stubLocker struct {
	ok       bool
	unlocked bool
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (func(context.Context), bool) {
	if !l.ok {
		return nil, false
	}
	return func(context.Context) { l.unlocked = true }, true
}

type fixture struct {
	mem      *uowtest.Memory
	provider *paymenttest.Fake
	svc      *Service
	eventID  int64
}

func newFixture(t *testing.T, capacity int, locker Locker) *fixture {
	t.Helper()

	mem := uowtest.NewMemory()
	provider := paymenttest.NewFake()
	bookings := booking.New(mem, provider, nil, nil, nil, booking.Config{VerifyPayment: true})

	eventID := mem.SeedEvent(domain.Event{
		OwnerID:     1,
		Title:       "Workshop",
		StartsAt:    time.Now().Add(24 * time.Hour),
		TicketPrice: 1000,
		Capacity:    capacity,
	})

	return &fixture{
		mem:      mem,
		provider: provider,
		svc:      New(mem, provider, bookings, locker, nil, Config{MinAge: time.Minute}),
		eventID:  eventID,
	}
}

func (f *fixture) session(id string, qty int, age time.Duration, status payment.Status) {
	f.mem.SeedSession(domain.PaymentSession{
		ID:           id,
		EventID:      f.eventID,
		UserID:       7,
		AttendeeName: "Ann",
		Quantity:     qty,
		Amount:       domain.Money(1000).Times(qty),
		CreatedAt:    time.Now().Add(-age),
	})
	f.provider.Put(payment.Verification{
		SessionID: id,
		Status:    status,
		Amount:    domain.Money(1000).Times(qty),
		EventID:   f.eventID,
		Quantity:  qty,
	})
}

func status(t *testing.T, f *fixture, id string) domain.SessionStatus {
	t.Helper()
	s, ok := f.mem.Session(id)
	require.True(t, ok)
	return s.Status
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t, 3, nil)

	f.session("paid", 2, 5*time.Minute, payment.StatusPaid)
	f.session("expired", 1, 5*time.Minute, payment.StatusExpired)
	f.session("pending", 1, 5*time.Minute, payment.StatusPending)
	f.session("young", 1, 10*time.Second, payment.StatusPaid)
	// Oldest, so it is settled first and takes capacity before "paid".
	f.session("first", 1, 10*time.Minute, payment.StatusPaid)

	res, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Confirmed: 2, Expired: 1, Pending: 1}, res)
	assert.Equal(t, domain.SessionConfirmed, status(t, f, "first"))
	assert.Equal(t, domain.SessionConfirmed, status(t, f, "paid"))
	assert.Equal(t, domain.SessionExpired, status(t, f, "expired"))
	assert.Equal(t, domain.SessionOpen, status(t, f, "pending"))
	assert.Equal(t, domain.SessionOpen, status(t, f, "young"))
	assert.Len(t, f.mem.ActiveBookings(f.eventID), 2)
}

func TestRunOnceMarksUnbookableAsFailed(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.session("first", 1, 10*time.Minute, payment.StatusPaid)
	f.session("late", 1, 5*time.Minute, payment.StatusPaid)

	res, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Confirmed: 1, Failed: 1}, res)
	assert.Equal(t, domain.SessionFailed, status(t, f, "late"))
	assert.Len(t, f.mem.ActiveBookings(f.eventID), 1)
}

func TestRunOnceFailsSessionsWithoutContract(t *testing.T) {
	f := newFixture(t, 5, nil)
	f.session("foreign", 1, 5*time.Minute, payment.StatusPaid)
	f.provider.VerifyErr = payment.ErrInvalidContract

	res, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	assert.Equal(t, domain.SessionFailed, status(t, f, "foreign"))
	assert.Empty(t, f.mem.ActiveBookings(f.eventID))
}

func TestRunOnceKeepsSessionsOnProviderError(t *testing.T) {
	f := newFixture(t, 5, nil)
	f.session("paid", 1, 5*time.Minute, payment.StatusPaid)
	f.provider.VerifyErr = payment.ErrUnavailable

	res, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.Equal(t, domain.SessionOpen, status(t, f, "paid"))
}

func TestRoundNeedsLock(t *testing.T) {
	t.Run("lock held elsewhere", func(t *testing.T) {
		locker := &stubLocker{}
		f := newFixture(t, 5, locker)
		f.session("paid", 1, 5*time.Minute, payment.StatusPaid)

		f.svc.round(context.Background())

		assert.Equal(t, domain.SessionOpen, status(t, f, "paid"))
		assert.Zero(t, f.provider.Verifies())
	})

	t.Run("lock acquired", func(t *testing.T) {
		locker := &stubLocker{ok: true}
		f := newFixture(t, 5, locker)
		f.session("paid", 1, 5*time.Minute, payment.StatusPaid)

		f.svc.round(context.Background())

		assert.Equal(t, domain.SessionConfirmed, status(t, f, "paid"))
		assert.True(t, locker.unlocked)
	})
}
