// Package lock provides the short-lived mutex checkout takes per purchasable
// so two tabs of the same user do not race the gateway.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("lock held by another request")

// Release never fails loudly; an expired lock is simply gone.
type Release func()

type Redsync struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	log    *slog.Logger
}

func NewRedsync(client *redis.Client, expiry time.Duration, logger *slog.Logger) *Redsync {
	if expiry <= 0 {
		expiry = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redsync{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		tries:  3,
		log:    logger,
	}
}

func (l *Redsync) Acquire(ctx context.Context, key string) (Release, error) {
	m := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("%w: %s", ErrHeld, key)
		}
		return nil, err
	}
	return func() {
		// The request context may already be gone; unlock on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := m.UnlockContext(ctx); err != nil {
			l.log.Warn("unlock failed", "key", key, "err", err)
		}
	}, nil
}

// Noop is used when no Redis is configured. The partial unique index on
// pending orders still holds without it.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, key string) (Release, error) {
	return func() {}, nil
}
