package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"fieldrig/internal/logger"
)

var ErrLocked = errors.New("another fieldrig run holds the lock")

const lockRetryInterval = 50 * time.Millisecond

type Lock struct {
	fl  *flock.Flock
	log *logger.Logger
}

// AcquireLock takes an exclusive flock on path, retrying for up to wait. When the
// lock stays held the error wraps ErrLocked.
func AcquireLock(ctx context.Context, path string, wait time.Duration, log *logger.Logger) (*Lock, error) {
	if log == nil {
		log = logger.Discard()
	}
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		_ = fl.Close()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s after %s: %w", path, wait, ErrLocked)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		_ = fl.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, ErrLocked)
	}
	log.Debug("run lock acquired", "path", path)
	return &Lock{fl: fl, log: log}, nil
}

// Release drops the lock. The file stays on disk; removing it would race with a
// second invocation that already opened it.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Close(); err != nil {
		l.log.Debug("failed to release run lock", "path", l.fl.Path(), "error", err)
	}
}
