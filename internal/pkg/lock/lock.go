// Package lock provides keyed mutual exclusion. The wager engine uses it to
// serialize session starts per user inside one process; the database
// uniqueness constraint remains the cross-process guard.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key cannot be acquired within the timeout.
var ErrLockTimeout = errors.New("lock acquisition timeout")

// entry is a one-slot semaphore shared by the holder and all waiters of a key.
type entry struct {
	slot chan struct{}
	refs int
}

// KeyedLock hands out an independent mutex per key. Entries are dropped once
// no goroutine holds or waits for them.
type KeyedLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty KeyedLock.
func New[K comparable]() *KeyedLock[K] {
	return &KeyedLock[K]{entries: make(map[K]*entry)}
}

func (l *KeyedLock[K]) ref(key K) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLock[K]) unref(key K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Lock blocks until the key is acquired.
func (l *KeyedLock[K]) Lock(key K) {
	e := l.ref(key)
	e.slot <- struct{}{}
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (l *KeyedLock[K]) Unlock(key K) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-e.slot:
		l.unref(key, e)
	default:
	}
}

// LockContext blocks until the key is acquired or ctx is done.
func (l *KeyedLock[K]) LockContext(ctx context.Context, key K) error {
	e := l.ref(key)
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return ctx.Err()
	}
}

// WithLockContext runs fn while holding the key. It returns ErrLockTimeout if
// the key could not be acquired within timeout, or the context error if the
// caller's context ended first.
func (l *KeyedLock[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.LockContext(waitCtx, key); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return err
	}
	defer l.Unlock(key)

	return fn()
}
