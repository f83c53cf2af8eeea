// Package expand orchestrates the compile-and-load pipeline: extract the
// macro body, fingerprint it, reuse or build the plugin artifact, invoke the
// macros, and splice their output into generated files.
package expand

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/macrokit/promex/internal/cache"
	"github.com/macrokit/promex/internal/config"
	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/hostmod"
	"github.com/macrokit/promex/internal/loader"
	"github.com/macrokit/promex/internal/macro"
	"github.com/macrokit/promex/internal/splice"
	"github.com/macrokit/promex/internal/synthesis"
	"github.com/macrokit/promex/internal/toolchain"
	"github.com/macrokit/promex/internal/utils"
	"github.com/macrokit/promex/internal/wire"
)

// Pipeline runs macro expansion for host packages. Safe for concurrent use;
// builds for the same fingerprint are serialized in-process by a keyed mutex
// and across processes by the cache's advisory locks.
type Pipeline struct {
	cfg      *config.Config
	cache    *cache.Cache
	builder  *toolchain.Builder
	registry *loader.Registry
	log      *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// New wires a pipeline from its collaborators. A nil registry uses the
// process-wide one.
func New(cfg *config.Config, c *cache.Cache, b *toolchain.Builder, r *loader.Registry, log *logrus.Logger) *Pipeline {
	if r == nil {
		r = loader.Process
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.GenSuffix == "" {
		// Without a suffix the scanner cannot tell generated siblings from
		// host files and would skip everything.
		cfg.GenSuffix = config.DefaultGenSuffix
	}
	return &Pipeline{
		cfg:      cfg,
		cache:    c,
		builder:  b,
		registry: r,
		log:      log,
		inflight: make(map[string]*sync.Mutex),
	}
}

// unit is the classified source of one package directory.
type unit struct {
	body      *macro.Body
	hostFiles []string
}

// ExpandDir expands every macro invocation in the package at dir, writing
// one generated sibling file per host file that invokes macros. It returns
// the number of invocations expanded.
func (p *Pipeline) ExpandDir(ctx context.Context, dir string) (int, error) {
	u, err := p.scan(dir)
	if err != nil {
		return 0, err
	}

	type fileInvs struct {
		pkg  string
		invs []macro.Invocation
	}
	perFile := make(map[string]fileInvs)
	total := 0
	for _, hostFile := range u.hostFiles {
		invs, pkg, err := macro.ScanFile(hostFile)
		if err != nil {
			return 0, err
		}
		if len(invs) > 0 {
			perFile[hostFile] = fileInvs{pkg: pkg, invs: invs}
			total += len(invs)
		}
	}

	if total == 0 {
		return 0, nil
	}

	if u.body == nil {
		first := ""
		for f := range perFile {
			if first == "" || f < first {
				first = f
			}
		}
		return 0, diag.New(diag.KindMalformedBody, diag.Span{File: first},
			"found macro invocations but no macros-tagged file in %s", dir)
	}

	artifact, err := p.ensureArtifact(ctx, dir, u.body)
	if err != nil {
		return 0, err
	}

	files := make([]string, 0, len(perFile))
	for f := range perFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, hostFile := range files {
		fi := perFile[hostFile]
		exps := make([]splice.Expansion, 0, len(fi.invs))

		for _, inv := range fi.invs {
			if _, ok := u.body.Export(inv.Macro); !ok {
				return 0, diag.New(diag.KindMalformedBody,
					diag.Span{File: inv.File, Line: inv.Line, Col: inv.Col},
					"no macro named %q is exported by this package", inv.Macro)
			}

			res, err := p.registry.Invoke(artifact, inv.Macro, &wire.Input{
				Kind: inv.Kind,
				In:   inv.Input,
				Attr: inv.Attr,
			})
			if err != nil {
				return 0, err
			}
			if res.Err != nil {
				return 0, splice.Diagnostic(inv, res.Err)
			}

			exps = append(exps, splice.Expansion{Inv: inv, Tokens: res.Out})
		}

		out, err := splice.RenderFile(fi.pkg, exps)
		if err != nil {
			return 0, err
		}

		genPath := splice.OutputPath(hostFile, p.cfg.GenSuffix)
		if err := utils.WriteFileAtomic(genPath, out, 0o644); err != nil {
			return 0, diag.Wrap(diag.KindSynthesisIO, diag.Span{File: genPath}, err,
				"failed to write generated file")
		}

		p.log.WithFields(logrus.Fields{
			"file":       hostFile,
			"generated":  genPath,
			"expansions": len(exps),
		}).Debug("spliced macro output")
	}

	return total, nil
}

// Warm builds (or revalidates) the package's macro artifact without invoking
// anything. Returns the artifact path, or "" when the package has no macros.
func (p *Pipeline) Warm(ctx context.Context, dir string) (string, error) {
	u, err := p.scan(dir)
	if err != nil {
		return "", err
	}
	if u.body == nil {
		return "", nil
	}

	return p.ensureArtifact(ctx, dir, u.body)
}

// scan classifies the .go files of dir into the macro body (merged across
// macros-tagged files) and host files. Generated siblings and tests are not
// scanned for invocations.
func (p *Pipeline) scan(dir string) (*unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	u := &unit{}
	var bodies []*macro.Body
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}
		if strings.HasSuffix(name, "_test.go") ||
			strings.HasSuffix(name, p.cfg.GenSuffix+".go") {
			continue
		}

		path := filepath.Join(dir, name)
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if macro.IsMacroFile(src) {
			body, err := macro.ExtractFile(path)
			if err != nil {
				return nil, err
			}
			bodies = append(bodies, body)
		} else {
			u.hostFiles = append(u.hostFiles, path)
		}
	}

	if len(bodies) > 0 {
		body, err := macro.Merge(bodies...)
		if err != nil {
			return nil, err
		}
		u.body = body
	}

	sort.Strings(u.hostFiles)

	return u, nil
}

// ensureArtifact returns the loadable artifact for the body, building it on
// a cache miss. Concurrent callers for the same fingerprint are serialized;
// only one performs the external build and the rest observe its result.
func (p *Pipeline) ensureArtifact(ctx context.Context, dir string, body *macro.Body) (string, error) {
	host, err := hostmod.Load(dir)
	if err != nil {
		return "", err
	}

	deps, err := host.Resolve(body.Deps)
	if err != nil {
		return "", err
	}

	identity, err := p.builder.Identity(ctx)
	if err != nil {
		return "", err
	}

	fp := cache.Fingerprint(body, deps, identity)
	log := p.log.WithField("fingerprint", fp[:12])

	unlock := p.lockFingerprint(fp)
	defer unlock()

	flock, err := p.cache.AcquireLock(fp)
	if err != nil {
		return "", err
	}
	defer flock.Release()

	if !p.cfg.NoCache {
		entry, err := p.cache.Lookup(fp, identity)
		if err != nil {
			return "", err
		}
		if entry != nil {
			log.Debug("cache hit")
			return entry.Artifact, nil
		}
	}

	log.Debug("cache miss, building")

	workDir := p.cache.WorkDir(fp)
	proj, err := synthesis.Synthesize(workDir, fp, body, deps, host)
	if err != nil {
		return "", err
	}

	start := time.Now()
	built, _, err := p.builder.Build(ctx, proj)
	if err != nil {
		// Failed work dirs are always retained for inspection.
		return "", err
	}
	log.WithField("duration", time.Since(start)).Debug("build finished")

	exports := make([]string, 0, len(body.Exports))
	for _, exp := range body.Exports {
		exports = append(exports, exp.Name)
	}

	entry := &cache.Entry{
		Fingerprint: fp,
		Package:     body.Package,
		MacroFiles:  body.Files,
		Toolchain:   identity,
		Exports:     exports,
	}
	if err := p.cache.Store(entry, built); err != nil {
		return "", err
	}

	if !p.cfg.KeepWork {
		_ = os.RemoveAll(workDir)
	}

	return entry.Artifact, nil
}

// lockFingerprint serializes in-process builders of one fingerprint.
func (p *Pipeline) lockFingerprint(fp string) func() {
	p.mu.Lock()
	m, ok := p.inflight[fp]
	if !ok {
		m = &sync.Mutex{}
		p.inflight[fp] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
