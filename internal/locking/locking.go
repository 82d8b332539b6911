// Package locking provides the per-prompt critical section used by the
// allocator. Locks are keyed, so callers for different prompts never contend.
package locking

import (
	"context"
	"sync"
)

// Locker acquires a keyed lock. The returned unlock function is safe to call
// more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process keyed mutex. Waiting honours ctx cancellation.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an empty in-process locker
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

// Lock blocks until key is free or ctx is done
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.release(key, lk)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Local) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
