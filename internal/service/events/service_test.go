package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/eventbook/internal/domain"
	"github.com/kirinyoku/eventbook/internal/uow/uowtest"
	"github.com/kirinyoku/eventbook/internal/validation"
)

var (
	admin    = domain.Principal{UserID: 1, Role: domain.RoleAdmin}
	manager  = domain.Principal{UserID: 2, Role: domain.RoleEventManager}
	rival    = domain.Principal{UserID: 3, Role: domain.RoleEventManager}
	customer = domain.Principal{UserID: 4, Role: domain.RoleCustomer}
)

func input(capacity int) EventInput {
	return EventInput{
		Title:       "GopherCon",
		Location:    "Bandung",
		StartsAt:    time.Now().Add(72 * time.Hour),
		TicketPrice: domain.Money(150000),
		Capacity:    capacity,
	}
}

func TestCreateAndGet(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	ev, err := svc.Create(context.Background(), manager, input(50))
	require.NoError(t, err)
	assert.Equal(t, manager.UserID, ev.OwnerID)

	got, err := svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "GopherCon", got.Title)
	assert.Equal(t, domain.Money(150000), got.TicketPrice)

	_, err = svc.Create(context.Background(), customer, input(50))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Create(context.Background(), manager, EventInput{Capacity: 0})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "title")
	assert.Contains(t, verr.Fields, "capacity")
}

func TestTicketPriceBounded(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	in := input(10)
	in.TicketPrice = domain.MaxTicketPrice + 1

	_, err := svc.Create(context.Background(), manager, in)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "ticket_price")

	in.TicketPrice = domain.MaxTicketPrice
	ev, err := svc.Create(context.Background(), manager, in)
	require.NoError(t, err)

	in.TicketPrice = domain.MaxTicketPrice + 1
	_, err = svc.Update(context.Background(), manager, ev.ID, in)
	require.ErrorAs(t, err, &verr)
}

func TestAvailability(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	ev, err := svc.Create(context.Background(), manager, input(10))
	require.NoError(t, err)
	mem.SeedBooking(domain.Booking{EventID: ev.ID, UserID: 4, AttendeeName: "A", Quantity: 7})

	snap, err := svc.Availability(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Booked)
	assert.Equal(t, 3, snap.Remaining)
	assert.False(t, snap.IsFull)

	_, err = svc.Availability(context.Background(), ev.ID+1)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestUpdate(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	ev, err := svc.Create(context.Background(), manager, input(10))
	require.NoError(t, err)
	mem.SeedBooking(domain.Booking{EventID: ev.ID, UserID: 4, AttendeeName: "A", Quantity: 6, BookingAmount: 900000})

	_, err = svc.Update(context.Background(), rival, ev.ID, input(20))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Update(context.Background(), manager, ev.ID, input(5))
	assert.ErrorIs(t, err, ErrCapacityBelowBooked)

	in := input(6)
	in.TicketPrice = 200000
	updated, err := svc.Update(context.Background(), admin, ev.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 6, updated.Capacity)
	assert.Equal(t, manager.UserID, updated.OwnerID)

	bookings := mem.ActiveBookings(ev.ID)
	require.Len(t, bookings, 1)
	assert.Equal(t, domain.Money(900000), bookings[0].BookingAmount)

	_, err = svc.Update(context.Background(), admin, ev.ID+1, input(6))
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestDelete(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	ev, err := svc.Create(context.Background(), manager, input(10))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(context.Background(), rival, ev.ID), domain.ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), manager, ev.ID))

	_, err = svc.Get(context.Background(), ev.ID)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	assert.ErrorIs(t, svc.Delete(context.Background(), manager, ev.ID), domain.ErrEventNotFound)
}

func TestList(t *testing.T) {
	mem := uowtest.NewMemory()
	svc := New(mem, nil, nil, nil, Config{})

	later := input(10)
	later.StartsAt = time.Now().Add(96 * time.Hour)
	_, err := svc.Create(context.Background(), manager, later)
	require.NoError(t, err)

	sooner, err := svc.Create(context.Background(), manager, input(10))
	require.NoError(t, err)

	list, err := svc.List(context.Background(), domain.Page{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sooner.ID, list[0].ID)
}
