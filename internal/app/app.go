package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/eventbook/internal/config"
	"github.com/kirinyoku/eventbook/internal/payment"
	"github.com/kirinyoku/eventbook/internal/postgres"
	"github.com/kirinyoku/eventbook/internal/redis"
	postgresrepo "github.com/kirinyoku/eventbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
	"github.com/kirinyoku/eventbook/internal/service"
	"github.com/kirinyoku/eventbook/internal/service/booking"
	"github.com/kirinyoku/eventbook/internal/service/checkout"
	"github.com/kirinyoku/eventbook/internal/service/events"
	"github.com/kirinyoku/eventbook/internal/service/reconcile"
	httpgin "github.com/kirinyoku/eventbook/internal/transport/http/gin"
	"github.com/kirinyoku/eventbook/internal/uow"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	services   *service.Services
	cache      *redisrepo.Cache
	pubsub     *redisrepo.EventsPubSub
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()

	pgxPool, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN(), MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if err := postgres.Migrate(ctx, pgxPool); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewEventsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "checkout", cfg.Checkout.RateLimit, time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 24*time.Hour)

	provider := payment.NewGuarded(
		payment.NewXenditProvider(payment.XenditConfig{
			SecretKey: cfg.Xendit.SecretKey,
			Currency:  cfg.Payment.Currency,
		}),
		payment.GuardConfig{Timeout: cfg.Payment.Timeout},
	)

	// Initialize services
	services := service.NewServices(service.Deps{
		UoW:      uow.NewUoW(store),
		Provider: provider,
		Cache:    cache,
		PubSub:   pubsub,
		Limiter:  limiter,
		Locker:   redis.NewLocker(rdb),
		Logger:   logger,
	}, service.Config{
		Events:    events.Config{TxRetries: cfg.Booking.TxRetries},
		Checkout:  checkout.Config{SuccessURL: cfg.Payment.SuccessURL},
		Booking:   booking.Config{TxRetries: cfg.Booking.TxRetries, VerifyPayment: cfg.Payment.Verify},
		Reconcile: reconcile.Config{Interval: cfg.Reconcile.Interval, MinAge: cfg.Reconcile.MinAge},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger, httpgin.RouterConfig{
		JWTSecret:   []byte(cfg.JWT.Secret),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		pool:     pgxPool,
		rdb:      rdb,
		services: services,
		cache:    cache,
		pubsub:   pubsub,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Settle paid sessions nobody confirmed
	g.Go(func() error {
		return a.services.Reconcile.Run(gCtx)
	})

	// Drop cached event data when another instance changes an event
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, eventID int64) {
			if err := a.cache.InvalidateEvent(ctx, eventID); err != nil {
				a.logger.Warn("cache invalidation failed", "event_id", eventID, "err", err)
			}
		})
		if err != nil && gCtx.Err() == nil {
			return fmt.Errorf("events subscription: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("redis close", "err", err)
	}
	a.pool.Close()
}
