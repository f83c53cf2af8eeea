package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindLocalConfig(t *testing.T) {
	// Create a temporary directory structure
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "subdir")
	err := os.Mkdir(subDir, 0o755)
	assert.NoError(t, err)

	// Create config files
	configYML := filepath.Join(subDir, ".promex.yml")
	err = os.WriteFile(configYML, []byte("keep_work: true"), 0o644)
	assert.NoError(t, err)

	// Test finding in subdir
	result := FindLocalConfig(subDir)
	assert.Equal(t, configYML, result)

	// Test finding in parent
	result = FindLocalConfig(filepath.Join(subDir, "deep"))
	assert.Equal(t, configYML, result)

	// Test not found
	result = FindLocalConfig(tempDir)
	assert.Equal(t, "", result)
}

func TestFindLocalConfig_ExtensionOrder(t *testing.T) {
	tempDir := t.TempDir()

	configJSON := filepath.Join(tempDir, ".promex.json")
	err := os.WriteFile(configJSON, []byte("{}"), 0o644)
	assert.NoError(t, err)

	configYML := filepath.Join(tempDir, ".promex.yml")
	err = os.WriteFile(configYML, []byte("verbose: true"), 0o644)
	assert.NoError(t, err)

	// yml wins over json when both exist in the same directory
	result := FindLocalConfig(tempDir)
	assert.Equal(t, configYML, result)
}
