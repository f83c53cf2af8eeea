// Package synthesis materializes ephemeral plugin projects.
//
// Each cache miss produces a minimal standalone module under a
// fingerprint-keyed work directory: a go.mod pinning the macro's dependencies
// against the host module, and a single main.go wrapping the extracted body
// with the exported entry point. Synthesis is deterministic: the same
// fingerprint always materializes byte-identical contents, so re-synthesis is
// idempotent.
package synthesis

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/hostmod"
	"github.com/macrokit/promex/internal/macro"
	"github.com/macrokit/promex/internal/utils"
	"github.com/macrokit/promex/internal/wire"
)

// The wrapper needs the payload codec on its side of the boundary. When the
// host module pins it, that version wins so both sides decode identically.
const (
	codecModule         = "github.com/fxamacker/cbor/v2"
	defaultCodecVersion = "v2.5.0"

	fallbackGoVersion = "1.25"
)

// Project is a synthesized ephemeral build unit.
type Project struct {
	Dir         string
	Fingerprint string
	MainFile    string
	Body        *macro.Body

	// bodyLine is the 1-based line in main.go where the extracted body
	// starts, used to map build diagnostics back to the inline source.
	bodyLine  int
	bodyLines int
}

// Synthesize materializes the ephemeral project for a fingerprint in dir.
// deps must already be resolved against the host module.
func Synthesize(dir, fingerprint string, body *macro.Body, deps []macro.Dep, host *hostmod.Host) (*Project, error) {
	gomod, err := renderGoMod(fingerprint, deps, host)
	if err != nil {
		return nil, err
	}

	main, bodyLine := renderMain(body)

	proj := &Project{
		Dir:         dir,
		Fingerprint: fingerprint,
		MainFile:    filepath.Join(dir, "main.go"),
		Body:        body,
		bodyLine:    bodyLine,
		bodyLines:   strings.Count(body.Source, "\n") + 1,
	}

	if err := writeRetry(filepath.Join(dir, "go.mod"), gomod); err != nil {
		return nil, err
	}
	if err := writeRetry(proj.MainFile, []byte(main)); err != nil {
		return nil, err
	}

	return proj, nil
}

// Origin maps a 1-based line of the generated main.go back to the host file
// and line it came from. Lines belonging to the wrapper have no origin.
func (p *Project) Origin(mainLine int) (string, int, bool) {
	if mainLine < p.bodyLine || mainLine >= p.bodyLine+p.bodyLines {
		return "", 0, false
	}
	return p.Body.Origin(mainLine - p.bodyLine + 1)
}

func renderGoMod(fingerprint string, deps []macro.Dep, host *hostmod.Host) ([]byte, error) {
	mf := new(modfile.File)

	if err := mf.AddModuleStmt("promex.invalid/macro-" + fingerprint[:12]); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}

	goVersion := host.GoVersion
	if goVersion == "" {
		goVersion = fallbackGoVersion
	}
	if err := mf.AddGoStmt(goVersion); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}

	codecPinned := false
	for _, dep := range deps {
		if dep.Path == codecModule {
			codecPinned = true
		}
		if err := mf.AddRequire(dep.Path, dep.Version); err != nil {
			return nil, fmt.Errorf("failed to require %s: %w", dep.Path, err)
		}
	}

	if !codecPinned {
		version := defaultCodecVersion
		if v, ok := host.Version(codecModule); ok {
			version = v
		}
		if err := mf.AddRequire(codecModule, version); err != nil {
			return nil, fmt.Errorf("failed to require %s: %w", codecModule, err)
		}
	}

	return mf.Format()
}

// renderMain generates the single source file of the ephemeral project:
// header, imports, the body verbatim, then the wrapper that exposes the
// entry point. Returns the source and the 1-based line the body starts at.
func renderMain(body *macro.Body) (string, int) {
	var sb strings.Builder

	sb.WriteString("// Code generated by promex. DO NOT EDIT.\n\n")
	sb.WriteString("package main\n\n")
	sb.WriteString("import (\n")
	sb.WriteString("\tmacrov1fmt \"fmt\"\n\n")
	sb.WriteString("\tmacrov1cbor \"" + codecModule + "\"\n")
	if len(body.Imports) > 0 {
		sb.WriteString("\n")
		for _, imp := range body.Imports {
			sb.WriteString("\t" + imp + "\n")
		}
	}
	sb.WriteString(")\n\n")

	bodyLine := strings.Count(sb.String(), "\n") + 1
	sb.WriteString(body.Source)
	sb.WriteString("\n\n")

	// The envelope definitions mirror the host's wire package; the encoding
	// is the only contract shared across the boundary.
	sb.WriteString(`type macrov1Input struct {
	Kind string ` + "`cbor:\"k\"`" + `
	In   string ` + "`cbor:\"in\"`" + `
	Attr string ` + "`cbor:\"attr,omitempty\"`" + `
}

type macrov1Error struct {
	Msg  string ` + "`cbor:\"msg\"`" + `
	Line int    ` + "`cbor:\"line,omitempty\"`" + `
	Col  int    ` + "`cbor:\"col,omitempty\"`" + `
}

type macrov1Result struct {
	Out string        ` + "`cbor:\"out,omitempty\"`" + `
	Err *macrov1Error ` + "`cbor:\"err,omitempty\"`" + `
}

var macrov1EncMode macrov1cbor.EncMode

func init() {
	em, err := macrov1cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	macrov1EncMode = em
}

func macrov1Fail(msg string) []byte {
	out, err := macrov1EncMode.Marshal(macrov1Result{Err: &macrov1Error{Msg: msg}})
	if err != nil {
		panic(err)
	}
	return out
}

`)

	sb.WriteString("var macrov1Exports = map[string]func(macrov1Input) (string, error){\n")
	for _, exp := range body.Exports {
		if exp.Kind == wire.KindAttribute {
			sb.WriteString(fmt.Sprintf("\t%q: func(in macrov1Input) (string, error) { return %s(in.Attr, in.In) },\n",
				exp.Name, exp.Func))
		} else {
			sb.WriteString(fmt.Sprintf("\t%q: func(in macrov1Input) (string, error) { return %s(in.In) },\n",
				exp.Name, exp.Func))
		}
	}
	sb.WriteString("}\n\n")

	sb.WriteString(`// ` + wire.EntrySymbol + ` is the artifact entry point: bytes in, bytes out.
// A panic inside the macro is recovered here so it never unwinds across the
// plugin boundary.
func ` + wire.EntrySymbol + `(name string, payload []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			out = macrov1Fail(macrov1fmt.Sprintf("macro panicked: %v", r))
		}
	}()

	var in macrov1Input
	if err := macrov1cbor.Unmarshal(payload, &in); err != nil {
		return macrov1Fail("failed to decode input payload: " + err.Error())
	}

	fn, ok := macrov1Exports[name]
	if !ok {
		return macrov1Fail("unknown macro " + name)
	}

	res, err := fn(in)
	if err != nil {
		return macrov1Fail(err.Error())
	}

	out, err = macrov1EncMode.Marshal(macrov1Result{Out: res})
	if err != nil {
		return macrov1Fail("failed to encode result payload: " + err.Error())
	}
	return out
}
`)

	return sb.String(), bodyLine
}

// writeRetry writes atomically, retrying once on a transient filesystem
// failure before giving up.
func writeRetry(path string, data []byte) error {
	err := utils.WriteFileAtomic(path, data, 0o644)
	if err != nil {
		err = utils.WriteFileAtomic(path, data, 0o644)
	}
	if err != nil {
		return diag.Wrap(diag.KindSynthesisIO, diag.Span{}, err, "failed to write %s", path)
	}
	return nil
}
