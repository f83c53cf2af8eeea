// Package hostmod reads the host project's module metadata. The synthesizer
// pins macro dependencies against the versions the host resolved, so types
// crossing the artifact boundary are built from the same module versions on
// both sides.
package hostmod

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/mod/modfile"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/macro"
)

// Host is the resolved dependency context of the host module.
type Host struct {
	ModulePath string
	GoVersion  string
	Dir        string

	require map[string]string
}

// Load locates the enclosing go.mod by walking up from dir and parses it.
func Load(dir string) (*Host, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve module directory: %w", err)
	}

	modPath := findGoMod(abs)
	if modPath == "" {
		return nil, fmt.Errorf("no go.mod found in %s or any parent directory", abs)
	}

	data, err := os.ReadFile(modPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", modPath, err)
	}

	mf, err := modfile.Parse(modPath, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", modPath, err)
	}

	h := &Host{
		Dir:     filepath.Dir(modPath),
		require: make(map[string]string, len(mf.Require)),
	}
	if mf.Module != nil {
		h.ModulePath = mf.Module.Mod.Path
	}
	if mf.Go != nil {
		h.GoVersion = mf.Go.Version
	}
	for _, r := range mf.Require {
		h.require[r.Mod.Path] = r.Mod.Version
	}

	return h, nil
}

// Version returns the host's pinned version for a module path.
func (h *Host) Version(path string) (string, bool) {
	v, ok := h.require[path]
	return v, ok
}

// Resolve pins each declared dependency: an explicit version wins, otherwise
// the host's pinned version is used. A dependency the host does not require
// and that carries no explicit version cannot be resolved. The result is
// sorted by module path so downstream consumers are deterministic.
func (h *Host) Resolve(deps []macro.Dep) ([]macro.Dep, error) {
	resolved := make([]macro.Dep, 0, len(deps))
	for _, dep := range deps {
		if dep.Version == "" {
			v, ok := h.Version(dep.Path)
			if !ok {
				return nil, diag.New(diag.KindDependencyResolution, diag.Span{},
					"dependency %s is not required by the host module and declares no version", dep.Path)
			}
			dep.Version = v
		}
		resolved = append(resolved, dep)
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Path < resolved[j].Path })

	return resolved, nil
}

func findGoMod(dir string) string {
	for {
		path := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
