// Package lock keeps two processes from running a poll cycle against the same
// status store at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("cycle lock held by another process")

// Release gives a lock back. It is safe to call after the TTL expired.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// Noop always succeeds. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// only the holder's token may delete the key
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", r.key, err)
		}
		return nil
	}, nil
}
