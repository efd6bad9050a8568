// Package lock provides the ride operation lockers.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/autopeer-io/velopark/internal/core"
)

// ErrNotHeld is returned by Release when the key expired or changed holder.
var ErrNotHeld = errors.New("lock is not held by this token")

var _ core.Locker = (*Local)(nil)

// Local is an in-process locker with expiring keys.
type Local struct {
	mu   sync.Mutex
	keys *cache.Cache
}

// NewLocal creates a Local locker that sweeps expired keys every cleanup.
func NewLocal(cleanup time.Duration) *Local {
	return &Local{keys: cache.New(cache.NoExpiration, cleanup)}
}

// Acquire takes key unless it is held and not expired.
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	token := uuid.NewString()
	if err := l.keys.Add(key, token, ttl); err != nil {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if token still holds it.
func (l *Local) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.keys.Get(key)
	if !ok || held.(string) != token {
		return ErrNotHeld
	}
	l.keys.Delete(key)
	return nil
}
