// Package lock keeps periodic passes from overlapping. LocalLocker covers one
// process; RedisLocker covers every indexer sharing a Redis.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker hands out a non-blocking exclusive lock. When ok is false the caller
// skips its pass; release must be called exactly once when ok is true.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	newToken func() string
}

// NewRedisLocker locks key for at most ttl, so a crashed holder cannot block passes forever.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, newToken: uuid.NewString}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := l.newToken()

	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		// the caller's context may already be cancelled at shutdown
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil {
			zap.L().Warn("Failed to release lock", zap.String("key", l.key), zap.Error(err))
		}
	}
	return release, true, nil
}
