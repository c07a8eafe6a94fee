package service

import (
	"log/slog"

	"github.com/kirinyoku/eventbook/internal/payment"
	redis "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/service/checkout"
	"github.com/kirinyoku/eventbook/internal/service/events"
	"github.com/kirinyoku/eventbook/internal/service/reconcile"
	"github.com/kirinyoku/eventbook/internal/uow"
)

type Services struct {
	Events    *events.Service
	Checkout  *checkout.Service
	Bookings  *booking.Service
	Reconcile *reconcile.Service
}

type Config struct {
	Events    events.Config
	Checkout  checkout.Config
	Booking   booking.Config
	Reconcile reconcile.Config
}

type Deps struct {
	UoW      uow.Runner
	Provider payment.Provider
	Cache    *redis.Cache
	PubSub   *redis.EventsPubSub
	Limiter  checkout.Limiter
	Locker   reconcile.Locker
	Logger   *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	bookings := booking.New(d.UoW, d.Provider, d.Cache, d.PubSub, d.Logger.With("service", "booking"), cfg.Booking)

	return &Services{
		Events:    events.New(d.UoW, d.Cache, d.PubSub, d.Logger.With("service", "events"), cfg.Events),
		Checkout:  checkout.New(d.UoW, d.Provider, d.Limiter, d.Logger.With("service", "checkout"), cfg.Checkout),
		Bookings:  bookings,
		Reconcile: reconcile.New(d.UoW, d.Provider, bookings, d.Locker, d.Logger.With("service", "reconcile"), cfg.Reconcile),
	}
}
