// Package lock provides core.Locker implementations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartmarket/internal/core"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis hands out short-lived keys through redislock so that only one
// server instance works on a given payment at a time.
type Redis struct {
	client *redislock.Client
	prefix string
	logger *logrus.Logger
}

func NewRedis(rdb redis.UniversalClient, prefix string, logger *logrus.Logger) *Redis {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{client: redislock.New(rdb), prefix: prefix, logger: logger}
}

// Connect dials addr and verifies the connection with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db, PoolSize: 20})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l, err := r.client.Obtain(ctx, r.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, core.ErrLockNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return func() {
		// a background context so the key is released even after the caller's ctx ends
		if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}, nil
}

// Noop grants every lock. Used when no redis address is configured, which
// is only safe with a single server instance.
type Noop struct{}

func (Noop) Obtain(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
