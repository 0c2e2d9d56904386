// Package schedlock provides the per-run lease that keeps two workers
// from executing the same run. A lease has an owner token and a TTL;
// the holder extends it periodically and a crashed holder's lease
// simply expires.
package schedlock

import (
	"context"
	"errors"
	"time"
)

// Lock errors.
var (
	// ErrNotAcquired is returned when another holder owns the lease.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrNotHeld is returned when extending or releasing a lease this
	// token does not own.
	ErrNotHeld = errors.New("lock not held by this token")
)

// Lock is a TTL lease keyed by name.
type Lock interface {
	// Acquire takes the lease. Returns ErrNotAcquired if another token holds it.
	Acquire(ctx context.Context, name, token string, ttl time.Duration) error

	// Extend renews the lease TTL. Returns ErrNotHeld if the token no
	// longer owns it (expired and possibly re-acquired elsewhere).
	Extend(ctx context.Context, name, token string, ttl time.Duration) error

	// Release drops the lease if the token owns it. Releasing a lease
	// owned by someone else returns ErrNotHeld.
	Release(ctx context.Context, name, token string) error
}
