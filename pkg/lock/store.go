package lock

import (
	"context"
	"time"
)

// Store is a keyed TTL mutual exclusion primitive. Every operation
// compares the stored token, so a holder can never release or extend
// a key it lost to expiry.
type Store interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Check(ctx context.Context, key, token string) (bool, error)
}
