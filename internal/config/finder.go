package config

import (
	"os"
	"path/filepath"
)

// configExtensions are the accepted config file formats, in precedence order.
var configExtensions = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig locates the project-level dotfile governing a target
// directory. The search starts in dir and walks toward the filesystem root,
// so a `.promex.yml` at the module root applies to every package under it;
// the nearest file wins. Returns "" when no ancestor carries one.
func FindLocalConfig(dir string) string {
	for {
		for _, ext := range configExtensions {
			path := filepath.Join(dir, ".promex."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}

		dir = parent
	}
}
