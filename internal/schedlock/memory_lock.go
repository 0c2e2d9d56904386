package schedlock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// MemoryLock is an in-memory implementation of Lock for single-process
// deployments and tests.
type MemoryLock struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLock creates an in-memory lock manager.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lease unless a live one exists under another token.
func (l *MemoryLock) Acquire(_ context.Context, name, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[name]; ok && cur.expiresAt.After(l.now()) && cur.token != token {
		return ErrNotAcquired
	}
	l.leases[name] = lease{token: token, expiresAt: l.now().Add(ttl)}
	return nil
}

// Extend renews the TTL if the token still owns a live lease.
func (l *MemoryLock) Extend(_ context.Context, name, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[name]
	if !ok || cur.token != token || !cur.expiresAt.After(l.now()) {
		return ErrNotHeld
	}
	l.leases[name] = lease{token: token, expiresAt: l.now().Add(ttl)}
	return nil
}

// Release drops the lease if the token owns it.
func (l *MemoryLock) Release(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[name]
	if !ok || cur.token != token {
		return ErrNotHeld
	}
	delete(l.leases, name)
	return nil
}

var _ Lock = (*MemoryLock)(nil)
