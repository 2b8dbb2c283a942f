// Package lock keeps two worker runs from processing the queues at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run holds the lock.
var ErrHeld = errors.New("lock: held by another run")

// Locker acquires the run lock. The returned function releases it.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// Noop is a Locker that always succeeds, used when no redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// Client is the subset of a redis client the lock uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only if it still holds our token, so a run
// whose lock expired cannot release a lock taken by the next run.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client Client
	key    string
	ttl    time.Duration
}

// NewRedis creates a lock on key that expires after ttl.
func NewRedis(c Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: c, key: key, ttl: ttl}
}

// Dial connects to redis at addr and checks it answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lock: redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func(ctx context.Context) error {
		if err := r.client.Eval(ctx, releaseScript, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("lock: release %s: %w", r.key, err)
		}
		return nil
	}
	return release, nil
}
