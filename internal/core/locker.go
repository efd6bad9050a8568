package core

import (
	"context"
	"time"
)

// Locker serializes ride operations on the same user or vehicle.
type Locker interface {
	// Acquire takes key for at most ttl. It reports false when the key is held.
	// The returned token identifies the holder.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees key only while it is still held under token.
	Release(ctx context.Context, key, token string) error
}
