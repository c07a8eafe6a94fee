package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/payment/paymenttest"
	"github.com/kirinyoku/eventbook/internal/repository"
	"github.com/kirinyoku/eventbook/internal/uow"
	"github.com/kirinyoku/eventbook/internal/uow/uowtest"
	"github.com/kirinyoku/eventbook/internal/validation"
)

const (
	managerID  int64 = 50
	customerID int64 = 7
	price            = domain.Money(2500)
)

type fixture struct {
	mem      *uowtest.Memory
	provider *paymenttest.Fake
	svc      *Service
	eventID  int64
}

func newFixture(t *testing.T, capacity int, cfg Config) *fixture {
	t.Helper()

	mem := uowtest.NewMemory()
	provider := paymenttest.NewFake()

	eventID := mem.SeedEvent(domain.Event{
		OwnerID:     managerID,
		Title:       "Go Meetup",
		Location:    "Jakarta",
		StartsAt:    time.Now().Add(48 * time.Hour),
		TicketPrice: price,
		Capacity:    capacity,
	})

	return &fixture{
		mem:      mem,
		provider: provider,
		svc:      New(mem, provider, nil, nil, nil, cfg),
		eventID:  eventID,
	}
}

func (f *fixture) seedBookings(t *testing.T, userID int64, quantity int) domain.Booking {
	t.Helper()
	return f.mem.SeedBooking(domain.Booking{
		EventID:       f.eventID,
		UserID:        userID,
		AttendeeName:  "Seed",
		Quantity:      quantity,
		BookingAmount: price.Times(quantity),
	})
}

func (f *fixture) booked() int {
	total := 0
	for _, b := range f.mem.ActiveBookings(f.eventID) {
		total += b.Quantity
	}
	return total
}

func reserveInput(eventID int64, qty int) ReserveInput {
	return ReserveInput{
		EventID:      eventID,
		UserID:       customerID,
		AttendeeName: "Ann",
		Quantity:     qty,
		SessionID:    uuid.NewString(),
	}
}

func TestReserveNeverOversells(t *testing.T) {
	f := newFixture(t, 10, Config{TxRetries: 2})

	var ok atomic.Int32
	var g errgroup.Group
	for range 25 {
		g.Go(func() error {
			_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 1))
			if err == nil {
				ok.Add(1)
				return nil
			}
			var capErr domain.CapacityExceededError
			if !errors.As(err, &capErr) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 10, f.booked())
}

func TestReserveRandomQuantities(t *testing.T) {
	f := newFixture(t, 20, Config{TxRetries: 2})

	var g errgroup.Group
	for range 40 {
		qty := 1 + rand.IntN(4)
		g.Go(func() error {
			_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, qty))
			var capErr domain.CapacityExceededError
			if err != nil && !errors.As(err, &capErr) {
				return err
			}
			if err != nil && capErr.Remaining >= qty {
				return fmt.Errorf("rejected %d with %d remaining", qty, capErr.Remaining)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, f.booked(), 20)
	// Every request fits while 4 or more tickets remain.
	assert.Greater(t, f.booked(), 16)
}

func TestReserveFullEvent(t *testing.T) {
	f := newFixture(t, 10, Config{})
	f.seedBookings(t, 99, 10)

	_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 1))

	var capErr domain.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Remaining)
}

func TestReserveConcurrentTwoAndThree(t *testing.T) {
	f := newFixture(t, 10, Config{TxRetries: 2})
	f.seedBookings(t, 99, 7)

	var (
		mu       sync.Mutex
		won      []int
		rejected []domain.CapacityExceededError
		start    = make(chan struct{})
		g        errgroup.Group
	)

	for _, qty := range []int{2, 3} {
		g.Go(func() error {
			<-start
			_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, qty))
			mu.Lock()
			defer mu.Unlock()
			var capErr domain.CapacityExceededError
			switch {
			case err == nil:
				won = append(won, qty)
			case errors.As(err, &capErr):
				rejected = append(rejected, capErr)
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	require.Len(t, won, 1)
	require.Len(t, rejected, 1)
	assert.Equal(t, 3-won[0], rejected[0].Remaining)
	assert.Equal(t, 7+won[0], f.booked())
}

func TestReserveEventNotFound(t *testing.T) {
	f := newFixture(t, 10, Config{})

	_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID+100, 1))
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, 10, Config{})

	in := reserveInput(f.eventID, 0)
	in.AttendeeName = ""

	_, err := f.svc.Reserve(context.Background(), in)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "quantity")
	assert.Contains(t, verr.Fields, "attendee_name")
	assert.Zero(t, f.mem.Transactions())
}

func TestReserveTransientConflict(t *testing.T) {
	t.Run("retried until success", func(t *testing.T) {
		f := newFixture(t, 10, Config{TxRetries: 2})
		f.mem.FailCommits(repository.ErrRetryable, repository.ErrRetryable)

		b, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 2))
		require.NoError(t, err)
		assert.Equal(t, price.Times(2), b.BookingAmount)
		assert.Equal(t, 3, f.mem.Transactions())
	})

	t.Run("surfaced after retries", func(t *testing.T) {
		f := newFixture(t, 10, Config{TxRetries: 1})
		f.mem.FailCommits(repository.ErrRetryable, repository.ErrRetryable)

		_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 2))
		assert.ErrorIs(t, err, domain.ErrTransientConflict)
		assert.Zero(t, f.booked())
	})
}

func confirmInput(eventID int64, sessionID string, qty int) ConfirmInput {
	return ConfirmInput{
		SessionID:     sessionID,
		EventID:       eventID,
		UserID:        customerID,
		AttendeeName:  "Ann",
		Quantity:      qty,
		ClaimedAmount: price.Times(qty),
	}
}

// session records an open checkout of qty tickets by customerID.
func (f *fixture) session(sessionID string, qty int) {
	f.mem.SeedSession(domain.PaymentSession{
		ID:           sessionID,
		EventID:      f.eventID,
		UserID:       customerID,
		AttendeeName: "Ann",
		Quantity:     qty,
		Amount:       price.Times(qty),
		Status:       domain.SessionOpen,
	})
}

func (f *fixture) paid(sessionID string, qty int) {
	f.provider.Put(payment.Verification{
		SessionID: sessionID,
		Status:    payment.StatusPaid,
		Amount:    price.Times(qty),
		EventID:   f.eventID,
		UserID:    customerID,
		Quantity:  qty,
	})
	f.session(sessionID, qty)
}

func TestConfirmCreatesBooking(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true})
	f.paid("sess_1", 2)

	c, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	require.NoError(t, err)

	assert.False(t, c.Replayed)
	assert.Equal(t, "sess_1", c.Booking.SessionID)
	assert.Equal(t, domain.Money(5000), c.Booking.BookingAmount)

	s, ok := f.mem.Session("sess_1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionConfirmed, s.Status)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true})
	f.paid("sess_1", 2)

	first, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	require.NoError(t, err)

	second, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Len(t, f.mem.ActiveBookings(f.eventID), 1)
}

func TestConfirmConcurrentReplays(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true, TxRetries: 2})
	f.paid("sess_1", 2)

	ids := make([]uuid.UUID, 8)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			c, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
			if err != nil {
				return err
			}
			ids[i] = c.Booking.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.mem.ActiveBookings(f.eventID), 1)
	assert.Equal(t, 2, f.booked())
}

// conflictingRunner commits a booking for the same session from "another
// instance" right before the first transaction, which then fails on the
// unique session constraint.
type conflictingRunner struct {
	*uowtest.Memory
	once    sync.Once
	booking domain.Booking
}

func (r *conflictingRunner) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx uow.Repos, after func(uow.AfterCommit)) error,
) error {
	conflicted := false
	r.once.Do(func() {
		r.Memory.SeedBooking(r.booking)
		conflicted = true
	})
	if conflicted {
		return fmt.Errorf("insert booking:%w", repository.ErrConflict)
	}
	return r.Memory.Do(ctx, fn)
}

func TestConfirmUniqueViolationIsReplay(t *testing.T) {
	f := newFixture(t, 10, Config{})
	runner := &conflictingRunner{
		Memory: f.mem,
		booking: domain.Booking{
			EventID:       f.eventID,
			UserID:        customerID,
			AttendeeName:  "Ann",
			Quantity:      2,
			BookingAmount: price.Times(2),
			SessionID:     "sess_1",
		},
	}
	svc := New(runner, nil, nil, nil, nil, Config{})

	c, err := svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	require.NoError(t, err)
	assert.True(t, c.Replayed)
	assert.Equal(t, "sess_1", c.Booking.SessionID)
	assert.Len(t, f.mem.ActiveBookings(f.eventID), 1)
}

func TestConfirmAmountMismatch(t *testing.T) {
	t.Run("claimed one cent short", func(t *testing.T) {
		f := newFixture(t, 10, Config{})
		f.session("sess_1", 2)

		in := confirmInput(f.eventID, "sess_1", 2)
		in.ClaimedAmount = price.Times(2) - 1

		_, err := f.svc.Confirm(context.Background(), in)
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
		assert.Empty(t, f.mem.ActiveBookings(f.eventID))
	})

	t.Run("provider amount differs", func(t *testing.T) {
		f := newFixture(t, 10, Config{VerifyPayment: true})
		f.paid("sess_1", 2)
		f.provider.Put(payment.Verification{
			SessionID: "sess_1",
			Status:    payment.StatusPaid,
			Amount:    price.Times(1),
			EventID:   f.eventID,
			Quantity:  1,
		})

		_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
		assert.Empty(t, f.mem.ActiveBookings(f.eventID))
	})

	t.Run("price changed after checkout", func(t *testing.T) {
		f := newFixture(t, 10, Config{})
		f.mem.SeedSession(domain.PaymentSession{
			ID:           "sess_1",
			EventID:      f.eventID,
			UserID:       customerID,
			AttendeeName: "Ann",
			Quantity:     2,
			Amount:       domain.Money(2000).Times(2),
			Status:       domain.SessionOpen,
		})

		in := confirmInput(f.eventID, "sess_1", 2)
		in.ClaimedAmount = domain.Money(2000).Times(2)

		_, err := f.svc.Confirm(context.Background(), in)
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
	})

	t.Run("quantity differs from session", func(t *testing.T) {
		f := newFixture(t, 10, Config{})
		f.session("sess_1", 2)

		_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 3))
		assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
		assert.Empty(t, f.mem.ActiveBookings(f.eventID))
	})
}

func TestConfirmPaymentNotCompleted(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true})
	f.paid("sess_1", 2)
	f.provider.SetStatus("sess_1", payment.StatusPending)

	_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	_, err = f.svc.Confirm(context.Background(), confirmInput(f.eventID, "unknown", 2))
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Empty(t, f.mem.ActiveBookings(f.eventID))
}

func TestConfirmCapacityExceeded(t *testing.T) {
	f := newFixture(t, 3, Config{})
	f.seedBookings(t, 99, 2)
	f.session("sess_1", 2)

	_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))

	var capErr domain.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, capErr.Remaining)
}

func TestConfirmReplayOfOtherUser(t *testing.T) {
	f := newFixture(t, 10, Config{})
	f.session("sess_1", 1)

	_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 1))
	require.NoError(t, err)

	in := confirmInput(f.eventID, "sess_1", 1)
	in.UserID = customerID + 1

	_, err = f.svc.Confirm(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConfirmSessionOfAnotherUser(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true})
	f.paid("sess_1", 2)

	in := confirmInput(f.eventID, "sess_1", 2)
	in.UserID = 999

	_, err := f.svc.Confirm(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.mem.ActiveBookings(f.eventID))

	c, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 2))
	require.NoError(t, err)
	assert.Equal(t, customerID, c.Booking.UserID)
	assert.False(t, c.Replayed)
}

func TestConfirmSessionRowRequired(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, 10, Config{})

		_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_x", 1))
		assert.ErrorIs(t, err, ErrPaymentNotCompleted)
		assert.Empty(t, f.mem.ActiveBookings(f.eventID))
	})

	t.Run("owned by someone else without provider check", func(t *testing.T) {
		f := newFixture(t, 10, Config{})
		f.session("sess_1", 1)

		in := confirmInput(f.eventID, "sess_1", 1)
		in.UserID = 999

		_, err := f.svc.Confirm(context.Background(), in)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("expired session", func(t *testing.T) {
		f := newFixture(t, 10, Config{})
		f.mem.SeedSession(domain.PaymentSession{
			ID:           "sess_1",
			EventID:      f.eventID,
			UserID:       customerID,
			AttendeeName: "Ann",
			Quantity:     1,
			Amount:       price,
			Status:       domain.SessionExpired,
		})

		_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 1))
		assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	})
}

func TestConfirmForeignProviderSession(t *testing.T) {
	f := newFixture(t, 10, Config{VerifyPayment: true})
	f.session("sess_1", 1)
	f.provider.VerifyErr = payment.ErrInvalidContract

	_, err := f.svc.Confirm(context.Background(), confirmInput(f.eventID, "sess_1", 1))
	assert.ErrorIs(t, err, payment.ErrInvalidContract)
	assert.NotErrorIs(t, err, ErrPaymentAmountMismatch)
	assert.Empty(t, f.mem.ActiveBookings(f.eventID))
}

func TestReserveStoresServerPrice(t *testing.T) {
	f := newFixture(t, 10, Config{})

	b, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 3))
	require.NoError(t, err)
	assert.Equal(t, price.Times(3), b.BookingAmount)

	stored := f.mem.ActiveBookings(f.eventID)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.Money(7500), stored[0].BookingAmount)
}

func TestCancel(t *testing.T) {
	admin := domain.Principal{UserID: 1, Role: domain.RoleAdmin}
	owner := domain.Principal{UserID: customerID, Role: domain.RoleCustomer}
	other := domain.Principal{UserID: customerID + 1, Role: domain.RoleCustomer}
	manager := domain.Principal{UserID: managerID, Role: domain.RoleEventManager}

	tests := []struct {
		name    string
		p       domain.Principal
		wantErr error
	}{
		{"admin", admin, nil},
		{"owner", owner, nil},
		{"other customer", other, domain.ErrForbidden},
		{"event manager", manager, domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, Config{})
			b := f.seedBookings(t, customerID, 4)

			err := f.svc.Cancel(context.Background(), b.ID, tt.p)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 4, f.booked())
				return
			}
			require.NoError(t, err)
			assert.Zero(t, f.booked())
		})
	}
}

func TestCancelReleasesCapacity(t *testing.T) {
	f := newFixture(t, 5, Config{})
	b := f.seedBookings(t, customerID, 5)

	_, err := f.svc.Reserve(context.Background(), reserveInput(f.eventID, 1))
	require.Error(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), b.ID, domain.Principal{UserID: customerID, Role: domain.RoleCustomer}))

	_, err = f.svc.Reserve(context.Background(), reserveInput(f.eventID, 5))
	assert.NoError(t, err)
}

func TestCancelNotFound(t *testing.T) {
	f := newFixture(t, 5, Config{})
	admin := domain.Principal{UserID: 1, Role: domain.RoleAdmin}

	err := f.svc.Cancel(context.Background(), uuid.New(), admin)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	b := f.seedBookings(t, customerID, 1)
	require.NoError(t, f.svc.Cancel(context.Background(), b.ID, admin))

	err = f.svc.Cancel(context.Background(), b.ID, admin)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestGet(t *testing.T) {
	f := newFixture(t, 10, Config{})
	b := f.seedBookings(t, customerID, 1)

	_, err := f.svc.Get(context.Background(), b.ID, domain.Principal{UserID: managerID, Role: domain.RoleEventManager})
	assert.NoError(t, err)

	_, err = f.svc.Get(context.Background(), b.ID, domain.Principal{UserID: managerID + 1, Role: domain.RoleEventManager})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.Get(context.Background(), b.ID, domain.Principal{UserID: customerID, Role: domain.RoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.svc.Get(context.Background(), uuid.New(), domain.Principal{UserID: 1, Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestListMine(t *testing.T) {
	f := newFixture(t, 10, Config{})
	for range 3 {
		f.seedBookings(t, customerID, 1)
	}
	f.seedBookings(t, 99, 1)

	all, err := f.svc.ListMine(context.Background(), customerID, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := f.svc.ListMine(context.Background(), customerID, domain.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
