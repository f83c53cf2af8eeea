package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/macrokit/promex/internal/macro"
	"github.com/macrokit/promex/internal/wire"
)

// Fingerprint creates the cache key for a macro body and its resolved build
// context. The hash covers:
// - the extracted body source and its import block
// - the resolved dependency set (sorted for consistency)
// - the toolchain identity string
// - the wire protocol revision
//
// It is a pure function of these inputs: no filesystem paths and no
// timestamps participate, so repeated runs in the same environment produce
// identical fingerprints. Hash equality is treated as identity; at SHA-256
// width no collision handling is needed.
func Fingerprint(body *macro.Body, deps []macro.Dep, toolchain string) string {
	h := sha256.New()

	io.WriteString(h, wire.Convention)
	h.Write([]byte{0})
	io.WriteString(h, toolchain)
	h.Write([]byte{0})
	io.WriteString(h, body.Source)
	h.Write([]byte{0})

	imports := make([]string, len(body.Imports))
	copy(imports, body.Imports)
	sort.Strings(imports)
	io.WriteString(h, strings.Join(imports, "\n"))
	h.Write([]byte{0})

	depLines := make([]string, 0, len(deps))
	for _, dep := range deps {
		depLines = append(depLines, dep.String())
	}
	sort.Strings(depLines)
	io.WriteString(h, strings.Join(depLines, "\n"))

	return hex.EncodeToString(h.Sum(nil))
}
