package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers idempotency keys for a bounded time
type Deduper interface {
	// Claim binds key to voteID. When key is already bound it returns the
	// earlier vote id and false.
	Claim(ctx context.Context, key string, voteID uuid.UUID) (uuid.UUID, bool, error)
	// Release forgets key
	Release(ctx context.Context, key string) error
}

const (
	redisDedupePrefix = "arena:vote:idem:"
	sweepEvery        = 1024
)

// MemoryDeduper keeps keys in process. Expired keys are swept lazily.
type MemoryDeduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	keys   map[string]dedupeEntry
	claims int
	now    func() time.Time
}

type dedupeEntry struct {
	voteID  uuid.UUID
	expires time.Time
}

// NewMemoryDeduper creates an in-process deduper
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		keys: make(map[string]dedupeEntry),
		now:  time.Now,
	}
}

// Claim binds key to voteID unless an unexpired binding exists
func (d *MemoryDeduper) Claim(_ context.Context, key string, voteID uuid.UUID) (uuid.UUID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.claims++
	if d.claims%sweepEvery == 0 {
		for k, e := range d.keys {
			if !now.Before(e.expires) {
				delete(d.keys, k)
			}
		}
	}

	if e, ok := d.keys[key]; ok && now.Before(e.expires) {
		return e.voteID, false, nil
	}
	d.keys[key] = dedupeEntry{voteID: voteID, expires: now.Add(d.ttl)}
	return voteID, true, nil
}

// Release forgets key
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

// RedisDeduper shares keys across API replicas
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on top of client
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Claim binds key with SET NX, reading the earlier binding on conflict
func (d *RedisDeduper) Claim(ctx context.Context, key string, voteID uuid.UUID) (uuid.UUID, bool, error) {
	redisKey := redisDedupePrefix + key
	ok, err := d.client.SetNX(ctx, redisKey, voteID.String(), d.ttl).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return voteID, true, nil
	}

	existing, err := d.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; try once more
		ok, err = d.client.SetNX(ctx, redisKey, voteID.String(), d.ttl).Result()
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if ok {
			return voteID, true, nil
		}
		existing, err = d.client.Get(ctx, redisKey).Result()
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	id, err := uuid.Parse(existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt idempotency key %s: %w", key, err)
	}
	return id, false, nil
}

// Release forgets key
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, redisDedupePrefix+key).Err()
}
