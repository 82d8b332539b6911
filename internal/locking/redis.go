package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix     = "arena:lock:"
	redisRetryInterval = 15 * time.Millisecond
	redisUnlockTimeout = 2 * time.Second
)

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL expired cannot release somebody else's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lock shared by every API replica pointing at the same
// Redis. A lock lives at most ttl; the conditional counter update in the
// catalog still rejects a write if a holder outlives it.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker on top of client
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Lock polls SET NX until it wins the key or ctx is done
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(redisRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; release regardless.
			unlockCtx, cancel := context.WithTimeout(context.Background(), redisUnlockTimeout)
			defer cancel()

			if err := releaseScript.Run(unlockCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("Failed to release lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}, nil
}
