// Package toolchain drives the external Go toolchain to compile ephemeral
// projects into loadable plugin artifacts.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/synthesis"
	"github.com/macrokit/promex/internal/utils"
)

// BuildLogName is the file the combined toolchain output is written to
// inside the work directory.
const BuildLogName = "build.log"

// Runner abstracts command execution for testing
type Runner interface {
	// Run executes a command in dir and returns its combined output.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Builder invokes the toolchain against synthesized projects. Safe for
// concurrent use across different fingerprints; per-fingerprint exclusion is
// the cache's job.
type Builder struct {
	runner  Runner
	goBin   string
	timeout time.Duration

	identityMu sync.Mutex
	identity   string
}

// NewBuilder creates a builder using goBin (the go command to invoke) and a
// per-build timeout. A nil runner means real subprocess execution.
func NewBuilder(goBin string, timeout time.Duration, runner Runner) *Builder {
	if goBin == "" {
		goBin = "go"
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Builder{
		runner:  runner,
		goBin:   goBin,
		timeout: timeout,
	}
}

// Identity returns the toolchain identity string, the trimmed output of
// "go version". It identifies the toolchain that produces artifacts, which
// is not necessarily the one that built this binary. Only a successful
// lookup is cached; a failed subprocess is retried on the next call.
func (b *Builder) Identity(ctx context.Context) (string, error) {
	b.identityMu.Lock()
	defer b.identityMu.Unlock()

	if b.identity != "" {
		return b.identity, nil
	}

	out, err := b.runner.Run(ctx, "", b.goBin, "version")
	if err != nil {
		return "", fmt.Errorf("failed to identify toolchain: %w", err)
	}

	b.identity = strings.TrimSpace(string(out))
	return b.identity, nil
}

// Build compiles the project into a plugin artifact, returning the artifact
// path and the combined build log. Dependency resolution runs first so the
// ephemeral module picks up checksums for its pinned requirements. The log is
// also written to build.log in the work directory.
func (b *Builder) Build(ctx context.Context, proj *synthesis.Project) (string, []byte, error) {
	if runtime.GOOS == "windows" {
		return "", nil, diag.New(diag.KindBuild, diag.Span{},
			"plugin build mode is not supported on windows")
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var log []byte

	out, err := b.runner.Run(ctx, proj.Dir, b.goBin, "mod", "tidy")
	log = append(log, out...)
	if err != nil {
		b.writeLog(proj, log)
		return "", log, b.classify(ctx, proj, log, err)
	}

	artifact := filepath.Join(proj.Dir, "macro.so")
	out, err = b.runner.Run(ctx, proj.Dir, b.goBin,
		"build", "-buildmode=plugin", "-trimpath", "-o", artifact, ".")
	log = append(log, out...)
	b.writeLog(proj, log)
	if err != nil {
		return "", log, b.classify(ctx, proj, log, err)
	}

	return artifact, log, nil
}

func (b *Builder) writeLog(proj *synthesis.Project, log []byte) {
	// Best effort; the log also travels in memory.
	path := filepath.Join(proj.Dir, BuildLogName)
	_ = utils.WriteFileAtomic(path, log, 0o644)
}

// classify turns a toolchain failure into a pipeline error. Timeouts are
// their own kind; anything else carries the diagnostics verbatim, with
// positions inside the embedded body mapped back to the inline source.
func (b *Builder) classify(ctx context.Context, proj *synthesis.Project, log []byte, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return diag.Wrap(diag.KindBuildTimeout, diag.Span{}, err,
			"build exceeded %s", b.timeout)
	}

	return diag.Wrap(diag.KindBuild, diag.Span{}, err, "%s", RemapDiagnostics(proj, string(log)))
}

var mainGoPos = regexp.MustCompile(`(?m)^(?:\./)?main\.go:(\d+)(:\d+)?`)

// RemapDiagnostics rewrites main.go positions in toolchain output to the
// inline source positions they were extracted from, so failures read as if
// they originated from the macro body itself. Positions in the wrapper
// section are left untouched.
func RemapDiagnostics(proj *synthesis.Project, out string) string {
	return mainGoPos.ReplaceAllStringFunc(out, func(match string) string {
		sub := mainGoPos.FindStringSubmatch(match)
		line, err := strconv.Atoi(sub[1])
		if err != nil {
			return match
		}

		file, origLine, ok := proj.Origin(line)
		if !ok {
			return match
		}

		return fmt.Sprintf("%s:%d%s", file, origLine, sub[2])
	})
}
