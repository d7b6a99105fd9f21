package service

import (
	"context"
	"sync"
	"time"
)

// JobLocker grants exclusive runs of a named job. release is safe to call once the job
// is done; ok is false when another holder owns the lock.
type JobLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalJobLocker only excludes runs inside one process.
type LocalJobLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalJobLocker() *LocalJobLocker {
	return &LocalJobLocker{held: make(map[string]struct{})}
}

func (l *LocalJobLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[name]; busy {
		return func() {}, false, nil
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
