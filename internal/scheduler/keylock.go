package scheduler

import (
	"context"
	"sync"
)

type lockKey struct {
	userID string
	cardID string
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// keyLocks hands out one mutual-exclusion lock per (user, card). Entries are reference
// counted and removed when the last holder or waiter leaves, so idle keys cost nothing.
type keyLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[lockKey]*keyLock)}
}

// acquire blocks until the key is free or ctx is done. A ctx that is already done never
// takes the lock, even when the key is free.
func (k *keyLocks) acquire(ctx context.Context, key lockKey) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.leave(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.leave(key, l)
		})
	}, nil
}

func (k *keyLocks) leave(key lockKey, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
