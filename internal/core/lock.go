package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the project lock cannot be acquired before the
// lock timeout or the caller's context expires.
var ErrLocked = errors.New("project is locked by another writer")

const lockRetryDelay = 20 * time.Millisecond

// projectLock serializes mutations of one project. The mutex orders
// goroutines sharing a handle; the advisory file lock orders handles, in
// this process or another, that share the directory.
type projectLock struct {
	mu      sync.Mutex
	file    *flock.Flock
	timeout time.Duration
}

func newProjectLock(path string, timeout time.Duration) *projectLock {
	return &projectLock{file: flock.New(path), timeout: timeout}
}

// acquire blocks until both locks are held and returns the release func.
func (l *projectLock) acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	ok, err := l.file.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		l.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("locking %s: %w", l.file.Path(), err)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, l.file.Path())
	}
	return func() {
		_ = l.file.Unlock()
		l.mu.Unlock()
	}, nil
}

func (l *projectLock) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
