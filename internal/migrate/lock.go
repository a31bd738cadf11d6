package migrate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/internal/errors"
)

// DefaultLockWait bounds how long an apply or rollback waits for the
// namespace lock before failing with LOCK_TIMEOUT.
const DefaultLockWait = 5 * time.Second

// lockManager serializes apply/rollback per namespace. Acquisition
// waits up to maxWait and then fails fast rather than queuing.
type lockManager struct {
	mu      sync.Mutex
	holders map[string]string // namespace -> lock token
	maxWait time.Duration
}

func newLockManager(maxWait time.Duration) *lockManager {
	if maxWait <= 0 {
		maxWait = DefaultLockWait
	}
	return &lockManager{
		holders: make(map[string]string),
		maxWait: maxWait,
	}
}

// acquire takes the namespace lock, returning a token that must be
// passed back to release. A lock already held by another caller is
// retried until maxWait elapses.
func (l *lockManager) acquire(ctx context.Context, namespace string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		l.mu.Lock()
		if _, held := l.holders[namespace]; !held {
			l.holders[namespace] = token
			l.mu.Unlock()
			return token, nil
		}
		l.mu.Unlock()

		if time.Now().After(deadline) {
			return "", errors.NewLockTimeoutError(namespace)
		}
		select {
		case <-ctx.Done():
			return "", errors.NewLockTimeoutError(namespace)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// release frees the namespace lock if token still holds it.
func (l *lockManager) release(namespace, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[namespace] == token {
		delete(l.holders, namespace)
	}
}
