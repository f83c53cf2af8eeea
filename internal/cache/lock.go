//go:build !windows

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive advisory lock scoped to one fingerprint. It serializes
// builders across processes sharing the same on-disk cache: the kernel
// releases the flock automatically when the descriptor is closed, including
// on process crash, so an orphaned lock file is harmless.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the exclusive build lock for a fingerprint, blocking
// until it is available.
func (c *Cache) AcquireLock(fingerprint string) (*Lock, error) {
	path := c.lockPath(fingerprint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// PID is recorded for debugging only; the flock is the actual exclusion.
	_ = file.Truncate(0)
	_, _ = file.WriteString(strconv.Itoa(os.Getpid()))

	return &Lock{path: path, file: file}, nil
}

// Release unlocks and closes the lock file. Safe to call multiple times.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
