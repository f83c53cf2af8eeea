// Package cache maps fingerprints to compiled macro artifacts on disk.
//
// The cache survives across host compilations:
//
//  1. Metadata lives in a BoltDB database, one entry per fingerprint
//  2. Artifacts live in the filesystem under fingerprint-keyed directories
//  3. An entry is valid only while its recorded toolchain identity matches
//     the current one; stale entries are evicted on access
//  4. Artifacts are stored via temp file + atomic rename, so a concurrent
//     reader never observes a partially written plugin
//  5. Per-fingerprint advisory file locks serialize builders across processes
//
// A truncated or missing artifact is treated as a miss and rebuilt, never as
// an error.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/macrokit/promex/internal/utils"
)

const (
	// DefaultCacheDirName is the cache directory created under the user
	// cache root when no explicit directory is configured
	DefaultCacheDirName = "promex"

	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "builds"

	// ArtifactName is the file name of the compiled plugin inside an
	// entry's artifact directory
	ArtifactName = "macro.so"
)

// Cache manages macro build artifacts and metadata using BoltDB
type Cache struct {
	db   *bbolt.DB
	root string
}

// DefaultDir returns the per-user default cache directory.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}

	return filepath.Join(base, DefaultCacheDirName), nil
}

// New creates a new cache instance rooted at cacheDir.
// If cacheDir is empty, the per-user default directory is used.
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}

		cacheDir = dir
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Lookup retrieves the entry for a fingerprint. It returns nil on a miss.
// An entry recorded under a different toolchain identity, or whose artifact
// file is missing or empty, is evicted and reported as a miss.
func (c *Cache) Lookup(fingerprint, toolchain string) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data := b.Get([]byte(fingerprint))
		if data == nil {
			return nil // Cache miss
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}

	if entry.Fingerprint == "" {
		return nil, nil // Cache miss
	}

	if entry.Toolchain != toolchain {
		// Built by a different toolchain; the artifact cannot be loaded
		// into this process.
		if err := c.Invalidate(fingerprint); err != nil {
			return nil, err
		}
		return nil, nil
	}

	info, err := os.Stat(entry.Artifact)
	if err != nil || info.Size() == 0 {
		// Corrupt or missing artifact is a miss, not an error.
		if err := c.Invalidate(fingerprint); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &entry, nil
}

// Store records an entry and moves the built artifact into the cache. The
// artifact is copied next to its final location and atomically renamed, and
// storing under an existing fingerprint overwrites. Store sets
// entry.Artifact and entry.Timestamp.
func (c *Cache) Store(entry *Entry, builtArtifact string) error {
	artifactDir := c.ArtifactDir(entry.Fingerprint)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	final := filepath.Join(artifactDir, ArtifactName)

	tmpFile, err := os.CreateTemp(artifactDir, "."+ArtifactName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary artifact: %w", err)
	}
	tmp := tmpFile.Name()
	tmpFile.Close()

	if err := utils.CopyFile(builtArtifact, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to copy artifact: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish artifact: %w", err)
	}

	entry.Artifact = final
	entry.Timestamp = time.Now()

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(entry.Fingerprint), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Invalidate removes an entry and its artifacts
func (c *Cache) Invalidate(fingerprint string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	if err := os.RemoveAll(c.ArtifactDir(fingerprint)); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// Clear removes all cache entries, artifacts and work directories
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(bucketName))
	})
	if err != nil {
		return err
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return err
	}

	for _, sub := range []string{"artifacts", "work", "locks"} {
		if err := os.RemoveAll(filepath.Join(c.root, sub)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", sub, err)
		}
	}

	return nil
}

// Stats returns the entry count and total artifact size
func (c *Cache) Stats() (int, int64, error) {
	var count int
	var totalSize int64

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	artifactsDir := filepath.Join(c.root, "artifacts")
	err = filepath.Walk(artifactsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return count, totalSize, err
	}

	return count, totalSize, nil
}

// ArtifactDir returns the artifact directory for a fingerprint
func (c *Cache) ArtifactDir(fingerprint string) string {
	return filepath.Join(c.root, "artifacts", fingerprint)
}

// WorkDir returns the ephemeral project directory for a fingerprint
func (c *Cache) WorkDir(fingerprint string) string {
	return filepath.Join(c.root, "work", fingerprint)
}

// lockPath returns the advisory lock file for a fingerprint
func (c *Cache) lockPath(fingerprint string) string {
	return filepath.Join(c.root, "locks", fingerprint+".lock")
}
