package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/hostmod"
	"github.com/macrokit/promex/internal/macro"
	"github.com/macrokit/promex/internal/synthesis"
)

type recordedCall struct {
	dir  string
	name string
	args []string
}

// mockRunner implements Runner for testing
type mockRunner struct {
	calls   []recordedCall
	results map[string]mockResult
	block   time.Duration
}

type mockResult struct {
	output []byte
	err    error
}

func (m *mockRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, recordedCall{dir: dir, name: name, args: args})

	if m.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.block):
		}
	}

	key := strings.Join(args, " ")
	for prefix, res := range m.results {
		if strings.HasPrefix(key, prefix) {
			return res.output, res.err
		}
	}

	return nil, nil
}

func testProject(t *testing.T) *synthesis.Project {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/app\n\ngo 1.25.2\n"), 0o644)
	require.NoError(t, err)

	host, err := hostmod.Load(dir)
	require.NoError(t, err)

	body := &macro.Body{
		Package: "widgets",
		Source:  "//macro:export echo bang\nfunc Echo(s string) (string, error) {\n\treturn s, nil\n}",
		Segments: []macro.Segment{
			{File: "/src/app/macros.go", Line: 7, Count: 4},
		},
		Exports: []macro.Export{{Name: "echo", Func: "Echo"}},
	}

	proj, err := synthesis.Synthesize(filepath.Join(dir, "work"), strings.Repeat("a", 64), body, nil, host)
	require.NoError(t, err)

	return proj
}

func TestBuilder_Build(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("plugin build mode is not supported on windows")
	}

	proj := testProject(t)
	runner := &mockRunner{}
	b := NewBuilder("go", time.Minute, runner)

	artifact, log, err := b.Build(context.Background(), proj)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(proj.Dir, "macro.so"), artifact)
	assert.Empty(t, log)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"mod", "tidy"}, runner.calls[0].args)
	assert.Equal(t, proj.Dir, runner.calls[0].dir)
	assert.Equal(t, []string{"build", "-buildmode=plugin", "-trimpath", "-o", artifact, "."}, runner.calls[1].args)
	assert.Equal(t, proj.Dir, runner.calls[1].dir)
}

func TestBuilder_BuildError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("plugin build mode is not supported on windows")
	}

	proj := testProject(t)
	diagText := "./main.go:11:9: undefined: nope\n"
	runner := &mockRunner{
		results: map[string]mockResult{
			"build": {output: []byte(diagText), err: fmt.Errorf("exit status 1")},
		},
	}
	b := NewBuilder("go", time.Minute, runner)

	_, log, err := b.Build(context.Background(), proj)
	require.Error(t, err)
	assert.Equal(t, diagText, string(log))

	kind, ok := diag.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindBuild, kind)

	// The captured log is written next to the project sources.
	data, readErr := os.ReadFile(filepath.Join(proj.Dir, BuildLogName))
	require.NoError(t, readErr)
	assert.Equal(t, diagText, string(data))
}

func TestBuilder_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("plugin build mode is not supported on windows")
	}

	proj := testProject(t)
	runner := &mockRunner{block: time.Second}
	b := NewBuilder("go", 20*time.Millisecond, runner)

	_, _, err := b.Build(context.Background(), proj)
	require.Error(t, err)

	kind, ok := diag.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindBuildTimeout, kind)
}

func TestBuilder_Identity(t *testing.T) {
	runner := &mockRunner{
		results: map[string]mockResult{
			"version": {output: []byte("go version go1.25.2 linux/amd64\n")},
		},
	}
	b := NewBuilder("go", time.Minute, runner)

	id, err := b.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "go version go1.25.2 linux/amd64", id)

	// Cached per process: no second invocation
	_, err = b.Identity(context.Background())
	require.NoError(t, err)
	assert.Len(t, runner.calls, 1)
}

func TestBuilder_IdentityRetriesAfterFailure(t *testing.T) {
	runner := &mockRunner{
		results: map[string]mockResult{
			"version": {err: fmt.Errorf("signal: interrupt")},
		},
	}
	b := NewBuilder("go", time.Minute, runner)

	_, err := b.Identity(context.Background())
	require.Error(t, err)

	// A transient failure is not cached; the next call asks again.
	runner.results["version"] = mockResult{output: []byte("go version go1.25.2 linux/amd64\n")}

	id, err := b.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "go version go1.25.2 linux/amd64", id)
	assert.Len(t, runner.calls, 2)
}

func TestRemapDiagnostics(t *testing.T) {
	proj := testProject(t)

	main, err := os.ReadFile(proj.MainFile)
	require.NoError(t, err)

	lines := strings.Split(string(main), "\n")
	bodyStart := 0
	for i, line := range lines {
		if line == "//macro:export echo bang" {
			bodyStart = i + 1
			break
		}
	}
	require.NotZero(t, bodyStart)

	// A position inside the embedded body maps to the inline source; the
	// directive line of the body is line 7 of the original file.
	in := fmt.Sprintf("./main.go:%d:9: undefined: nope\n", bodyStart+1)
	out := RemapDiagnostics(proj, in)
	assert.Equal(t, "/src/app/macros.go:8:9: undefined: nope\n", out)

	// Wrapper positions stay untouched
	in = "./main.go:1:1: some wrapper problem\n"
	assert.Equal(t, in, RemapDiagnostics(proj, in))

	// Unrelated files stay untouched
	in = "other.go:3:1: message\n"
	assert.Equal(t, in, RemapDiagnostics(proj, in))
}
