package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "redis.New"

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := redis.NewClient(opts)

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctxPing).Result(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return client, nil
}

// Locker hands out distributed mutexes shared by every instance talking to
// the same Redis.
type Locker struct {
	rs *redsync.Redsync
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(client))}
}

// TryLock makes a single attempt to take name for ttl. The returned unlock
// must be called once the work is done.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context), ok bool) {
	m := l.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		return nil, false
	}

	return func(ctx context.Context) {
		_, _ = m.UnlockContext(ctx)
	}, true
}
