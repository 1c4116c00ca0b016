package session

import (
	"context"
	"sync"
)

// Locker serializes work per session ID. Waiters for the same key are
// served in arrival order; different keys never contend beyond the map
// mutex. Entries are dropped once nobody holds or waits on a key.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	waiters []chan struct{}
}

func NewLocker() *Locker {
	return &Locker{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the caller owns key or ctx is done. The returned
// release func is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, held := l.entries[key]
	if !held {
		l.entries[key] = &lockEntry{}
		l.mu.Unlock()
		return l.releaseFunc(key), nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaseFunc(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-ch:
		// Ownership was handed over while we were giving up; pass it on.
		l.mu.Unlock()
		l.release(key)
		return nil, ctx.Err()
	default:
	}
	for i, w := range e.waiters {
		if w == ch {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	return nil, ctx.Err()
}

func (l *Locker) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(l.entries, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}

// ActiveCount reports how many keys are currently held.
func (l *Locker) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Waiting reports how many callers are queued behind the holder of key.
func (l *Locker) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return len(e.waiters)
	}
	return 0
}
