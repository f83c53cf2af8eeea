package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/promex/internal/macro"
)

func testBody(source string) *macro.Body {
	return &macro.Body{
		Package: "widgets",
		Source:  source,
		Imports: []string{`"strings"`},
	}
}

func TestFingerprint(t *testing.T) {
	body := testBody("func Shout(s string) (string, error) { return s, nil }")
	deps := []macro.Dep{
		{Path: "github.com/fxamacker/cbor/v2", Version: "v2.5.0"},
		{Path: "golang.org/x/text", Version: "v0.29.0"},
	}
	toolchain := "go version go1.25.2 linux/amd64"

	fp1 := Fingerprint(body, deps, toolchain)
	require.NotEmpty(t, fp1)
	assert.Len(t, fp1, 64)

	fp2 := Fingerprint(body, deps, toolchain)
	assert.Equal(t, fp1, fp2, "fingerprint should be deterministic")

	// Dependency order shouldn't matter (sorted internally)
	reversed := []macro.Dep{deps[1], deps[0]}
	assert.Equal(t, fp1, Fingerprint(body, reversed, toolchain))

	// Different body = different fingerprint
	other := testBody("func Shout(s string) (string, error) { return s + s, nil }")
	assert.NotEqual(t, fp1, Fingerprint(other, deps, toolchain))

	// Different dependency version = different fingerprint
	bumped := []macro.Dep{deps[0], {Path: "golang.org/x/text", Version: "v0.30.0"}}
	assert.NotEqual(t, fp1, Fingerprint(body, bumped, toolchain))

	// Different toolchain = different fingerprint
	assert.NotEqual(t, fp1, Fingerprint(body, deps, "go version go1.24.0 linux/amd64"))

	// Different imports = different fingerprint
	imports := testBody(body.Source)
	imports.Imports = []string{`"bytes"`}
	assert.NotEqual(t, fp1, Fingerprint(imports, deps, toolchain))
}
