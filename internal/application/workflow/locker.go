package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedLocker grants exclusive access per invoice ID.
// Entries are reference counted and dropped once nobody holds or waits on them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[int64]*lockEntry)}
}

// Acquire blocks until the lock for id is held or ctx is done.
// The returned release func must be called exactly once.
func (l *keyedLocker) Acquire(ctx context.Context, id int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.unref(id, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.unref(id, entry)
		})
	}, nil
}

func (l *keyedLocker) unref(id int64, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

// size returns the number of live entries
func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
