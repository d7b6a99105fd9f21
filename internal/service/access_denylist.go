package service

import (
	"context"
	"sync"
	"time"
)

// AccessDenylist records, per subject, an instant before which every access token is
// considered revoked. Entries only need to outlive the access-token lifetime.
type AccessDenylist interface {
	DenySubject(ctx context.Context, subjectID string, before time.Time, ttl time.Duration) error
	DeniedBefore(ctx context.Context, subjectID string) (time.Time, bool, error)
}

type NoopAccessDenylist struct{}

func NewNoopAccessDenylist() *NoopAccessDenylist {
	return &NoopAccessDenylist{}
}

func (d *NoopAccessDenylist) DenySubject(context.Context, string, time.Time, time.Duration) error {
	return nil
}

func (d *NoopAccessDenylist) DeniedBefore(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type denyEntry struct {
	before    time.Time
	expiresAt time.Time
}

// InMemoryAccessDenylist serves single-replica deployments and tests.
type InMemoryAccessDenylist struct {
	mu    sync.RWMutex
	now   func() time.Time
	store map[string]denyEntry
}

func NewInMemoryAccessDenylist() *InMemoryAccessDenylist {
	return &InMemoryAccessDenylist{
		now:   time.Now,
		store: make(map[string]denyEntry),
	}
}

func (d *InMemoryAccessDenylist) WithClock(now func() time.Time) *InMemoryAccessDenylist {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *InMemoryAccessDenylist) DenySubject(_ context.Context, subjectID string, before time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.store[subjectID]; ok && existing.before.After(before) {
		before = existing.before
	}
	d.store[subjectID] = denyEntry{before: before.UTC(), expiresAt: d.now().UTC().Add(ttl)}
	return nil
}

func (d *InMemoryAccessDenylist) DeniedBefore(_ context.Context, subjectID string) (time.Time, bool, error) {
	now := d.now().UTC()
	d.mu.RLock()
	entry, ok := d.store[subjectID]
	d.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if now.After(entry.expiresAt) {
		d.mu.Lock()
		if current, ok := d.store[subjectID]; ok && current == entry {
			delete(d.store, subjectID)
		}
		d.mu.Unlock()
		return time.Time{}, false, nil
	}
	return entry.before, true, nil
}
