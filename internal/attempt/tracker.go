// Package attempt throttles repeated failed license attempts per session.
package attempt

import (
	"context"
	"fmt"
	"time"
)

const (
	// MaxFailures is the number of failures that locks a session.
	MaxFailures = 10
	// LockoutWindow is how long a session stays locked after its last failure.
	LockoutWindow = 5 * time.Minute
)

// Tracker is a local throttle, not a substitute for rate limiting at the
// network boundary.
type Tracker interface {
	RecordFailure(ctx context.Context, session string) error
	IsLocked(ctx context.Context, session string) (bool, error)
	// Reset clears the counter, called after a successful validation.
	Reset(ctx context.Context, session string) error
	// Count reports the current counter, evaluating expiry first.
	Count(ctx context.Context, session string) (int, error)
}

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// New builds a tracker for driver. The redis driver requires client options.
func New(driver string, redisCfg *RedisConfig) (Tracker, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		if redisCfg == nil {
			return nil, fmt.Errorf("redis attempt tracker requires redis configuration")
		}
		return NewRedis(*redisCfg)
	default:
		return nil, fmt.Errorf("unsupported attempt tracker driver: %s", driver)
	}
}
