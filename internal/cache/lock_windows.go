//go:build windows

package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a best-effort build lock on Windows, where the expander cannot
// load plugins anyway; only warming a shared cache from Windows would reach
// this path. Exclusion relies on the O_EXCL-free open being process-local.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock opens the per-fingerprint lock file without kernel-level
// advisory locking.
func (c *Cache) AcquireLock(fingerprint string) (*Lock, error) {
	path := c.lockPath(fingerprint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release closes the lock file. Safe to call multiple times.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = l.file.Close()
	l.file = nil
}
