package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// Client, when set, is used instead of dialing Addr.
	Client *redis.Client
}

// RedisTracker stores one expiring counter per session. Every failure
// refreshes the expiry, so the key disappears exactly one window after the
// last failure and all instances sharing the redis see the same lockout.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg RedisConfig) (*RedisTracker, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mzgate:"
	}
	return &RedisTracker{client: client, prefix: prefix + "attempt:"}, nil
}

func (r *RedisTracker) key(session string) string {
	return r.prefix + session
}

func (r *RedisTracker) RecordFailure(ctx context.Context, session string) error {
	k := r.key(session)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, k)
		p.PExpire(ctx, k, LockoutWindow)
		return nil
	})
	return err
}

func (r *RedisTracker) IsLocked(ctx context.Context, session string) (bool, error) {
	n, err := r.Count(ctx, session)
	if err != nil {
		return false, err
	}
	return n >= MaxFailures, nil
}

func (r *RedisTracker) Reset(ctx context.Context, session string) error {
	return r.client.Del(ctx, r.key(session)).Err()
}

func (r *RedisTracker) Count(ctx context.Context, session string) (int, error) {
	n, err := r.client.Get(ctx, r.key(session)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisTracker) Close() error {
	return r.client.Close()
}
