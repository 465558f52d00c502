// Package lock provides the per-auction serialization scope used by the
// bidding engine. At most one holder owns a key at a time; different keys
// never contend.
package lock

//go:generate mockgen -source=lock.go -destination=mock_lock.go -package=lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker grants exclusive scopes keyed by string. Acquire blocks until the
// scope is held or ctx is done; the returned release func is safe to call
// more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedLocker is an in-process Locker. Waiters on the same key are admitted
// in FIFO order. Entries are dropped once no holder or waiter references them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLocker creates an empty KeyedLocker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*keyedEntry)}
}

// Acquire implements Locker
func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, e)
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

func (l *KeyedLocker) unref(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or waited on
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// NoopLocker never blocks. Use it when several instances share one database
// and rely on optimistic version checks alone.
type NoopLocker struct{}

// Acquire implements Locker
func (NoopLocker) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

// Compile-time interface checks.
var (
	_ Locker = (*KeyedLocker)(nil)
	_ Locker = NoopLocker{}
	_ Locker = (*RedisLocker)(nil)
)
