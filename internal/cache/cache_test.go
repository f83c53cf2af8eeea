package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToolchain = "go version go1.25.2 linux/amd64"

func testFingerprint(seed string) string {
	return strings.Repeat("0", 64-len(seed)) + seed
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "macro.so")
	err := os.WriteFile(path, []byte(content), 0o755)
	require.NoError(t, err)

	return path
}

func storeEntry(t *testing.T, c *Cache, fp, toolchain string) *Entry {
	t.Helper()

	entry := &Entry{
		Fingerprint: fp,
		Package:     "widgets",
		Toolchain:   toolchain,
		Exports:     []string{"shout"},
	}
	err := c.Store(entry, writeArtifact(t, "fake plugin bytes"))
	require.NoError(t, err)

	return entry
}

func TestCache_StoreAndLookup(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("1")

	// Miss before store
	entry, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	assert.Nil(t, entry)

	stored := storeEntry(t, c, fp, testToolchain)
	assert.Equal(t, filepath.Join(c.ArtifactDir(fp), ArtifactName), stored.Artifact)
	assert.False(t, stored.Timestamp.IsZero())

	got, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stored.Artifact, got.Artifact)
	assert.Equal(t, []string{"shout"}, got.Exports)

	data, err := os.ReadFile(got.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "fake plugin bytes", string(data))
}

func TestCache_StoreOverwrites(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("2")

	storeEntry(t, c, fp, testToolchain)

	entry := &Entry{Fingerprint: fp, Toolchain: testToolchain}
	err := c.Store(entry, writeArtifact(t, "second build"))
	require.NoError(t, err)

	got, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	require.NotNil(t, got)

	data, err := os.ReadFile(got.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "second build", string(data))
}

func TestCache_StaleToolchainIsMiss(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("3")

	stored := storeEntry(t, c, fp, "go version go1.24.0 linux/amd64")

	// Queried under a different toolchain the entry is a miss and gets
	// evicted, artifact included.
	entry, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = os.Stat(stored.Artifact)
	assert.True(t, os.IsNotExist(err), "stale artifact should be evicted")

	// Still a miss under the original toolchain: the entry is gone.
	entry, err = c.Lookup(fp, "go version go1.24.0 linux/amd64")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCache_CorruptArtifactIsMiss(t *testing.T) {
	c := newTestCache(t)

	t.Run("missing artifact", func(t *testing.T) {
		fp := testFingerprint("4a")
		stored := storeEntry(t, c, fp, testToolchain)
		require.NoError(t, os.Remove(stored.Artifact))

		entry, err := c.Lookup(fp, testToolchain)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("truncated artifact", func(t *testing.T) {
		fp := testFingerprint("4b")
		stored := storeEntry(t, c, fp, testToolchain)
		require.NoError(t, os.Truncate(stored.Artifact, 0))

		entry, err := c.Lookup(fp, testToolchain)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("5")

	stored := storeEntry(t, c, fp, testToolchain)

	require.NoError(t, c.Invalidate(fp))

	entry, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = os.Stat(stored.Artifact)
	assert.True(t, os.IsNotExist(err))
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t)

	storeEntry(t, c, testFingerprint("6a"), testToolchain)
	storeEntry(t, c, testFingerprint("6b"), testToolchain)

	count, _, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, c.Clear())

	count, size, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(t)

	count, size, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)

	storeEntry(t, c, testFingerprint("7"), testToolchain)

	count, size, err = c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(len("fake plugin bytes")), size)
}

func TestCache_LockSerializesBuilders(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("8")

	lock, err := c.AcquireLock(fp)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := c.AcquireLock(fp)
		assert.NoError(t, err)
		second.Release()
		close(acquired)
	}()

	// The second acquisition must not proceed while we hold the lock. A
	// flock is per-descriptor, so this exercises the cross-process path.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	default:
	}

	lock.Release()
	<-acquired

	// Release is idempotent
	lock.Release()
}

func TestCache_ConcurrentStores(t *testing.T) {
	c := newTestCache(t)
	fp := testFingerprint("9")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			entry := &Entry{Fingerprint: fp, Toolchain: testToolchain}
			assert.NoError(t, c.Store(entry, writeArtifact(t, "fake plugin bytes")))
		}()
	}
	wg.Wait()

	got, err := c.Lookup(fp, testToolchain)
	require.NoError(t, err)
	require.NotNil(t, got)

	data, err := os.ReadFile(got.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "fake plugin bytes", string(data), "no torn artifact after concurrent stores")
}
