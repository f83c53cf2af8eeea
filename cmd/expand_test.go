package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetDirs(t *testing.T) {
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "pkg")
	require.NoError(t, os.Mkdir(subDir, 0o755))

	file := filepath.Join(subDir, "widgets.go")
	require.NoError(t, os.WriteFile(file, []byte("package pkg\n"), 0o644))

	// A file argument means its containing directory
	dirs, err := targetDirs([]string{file})
	require.NoError(t, err)
	assert.Equal(t, []string{subDir}, dirs)

	// Duplicates collapse: the directory and a file inside it are one target
	dirs, err = targetDirs([]string{subDir, file, tempDir})
	require.NoError(t, err)
	assert.Equal(t, []string{subDir, tempDir}, dirs)

	// Nonexistent targets are an error
	_, err = targetDirs([]string{filepath.Join(tempDir, "missing")})
	assert.Error(t, err)
}

func TestTargetDirs_DefaultsToCurrent(t *testing.T) {
	dirs, err := targetDirs(nil)
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, []string{cwd}, dirs)
}
