package dolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/unix"
)

// ErrLockBusy is returned when a non-blocking flock attempt finds the file
// already held by another process.
var ErrLockBusy = errors.New("lock busy: database directory is held by another process")

// accessLockFile is the suffix of the advisory lock file placed alongside a
// Dolt data directory, one level up and named after that directory, so
// multiple processes opening the same product database serialize on
// filesystem open rather than relying solely on the embedded engine's own
// locking, while sibling product databases each get their own lock.
const accessLockFile = "access.lock"

const lockPollInterval = 50 * time.Millisecond

// AccessLock coordinates process-level access to an embedded Dolt database
// directory using flock(2). Unix-only; the server deployment target is
// Linux.
type AccessLock struct {
	file *os.File
}

// AcquireAccessLock acquires an exclusive advisory flock on
// <dir>/../<base of dir>.access.lock, polling until timeout. There is no shared/read
// variant: reads go through the same *sql.DB connection pool as writes.
func AcquireAccessLock(ctx context.Context, dataDir string, timeout time.Duration) (*AccessLock, error) {
	parent := filepath.Dir(dataDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lockPath := filepath.Join(parent, filepath.Base(dataDir)+"."+accessLockFile)

	// #nosec G304 - path is derived from server-controlled product config
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open access lock: %w", err)
	}

	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("dolt.lock.dir", dataDir))

	deadline := start.Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			doltMetrics.lockWaitMs.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			return &AccessLock{file: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("access lock: %w", err)
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("access lock timeout after %v on %s: %w", timeout, dataDir, ErrLockBusy)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release releases the lock and closes the underlying file. Safe to call
// more than once.
func (l *AccessLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
