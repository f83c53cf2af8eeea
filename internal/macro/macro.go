// Package macro extracts inline macro definitions and macro invocations from
// Go source.
//
// Macro bodies live in ordinary package files guarded by the "macros" build
// tag, so the host build never compiles them. Inside such a file:
//
//	//macro:export <name> <bang|derive|attribute>   on a function, exports it
//	//macro:include                                 on any declaration, ships it with the body
//	//macro:dep <module-path> [version]             declares an external dependency
//
// Exported functions must have the signature func(string) (string, error) for
// bang and derive macros, or func(string, string) (string, error) for
// attribute macros (attribute arguments first, annotated item second).
//
// Host files invoke macros through directives:
//
//	//macro:call <name>(<tokens>)    anywhere, expands in place of the directive
//	//macro:derive <Name>            on a declaration, feeds it the declaration source
//	//macro:attr <name>(<args>)      on a declaration, feeds it args and the declaration
package macro

import (
	"fmt"

	"github.com/macrokit/promex/internal/wire"
)

// Dep is one external dependency a macro body declares. Version may be empty,
// in which case the host module's pinned version is used.
type Dep struct {
	Path    string
	Version string
}

func (d Dep) String() string {
	if d.Version == "" {
		return d.Path
	}
	return d.Path + "@" + d.Version
}

// Export binds a public macro name to a function in the body.
type Export struct {
	Name string
	Func string
	Kind wire.Kind
	Line int
}

// Segment maps a run of lines in the extracted source back to its origin, so
// build diagnostics can be reported against the inline definition. A segment
// with an empty File covers synthesized filler lines.
type Segment struct {
	File  string
	Line  int // 1-based line in File where the segment starts
	Count int
}

// Body is the verbatim source of one macro unit: everything needed to build
// it out-of-band. Immutable after extraction.
type Body struct {
	Package  string
	Files    []string
	Source   string
	Segments []Segment
	Imports  []string
	Deps     []Dep
	Exports  []Export
}

// Export looks up an exported macro by its public name.
func (b *Body) Export(name string) (*Export, bool) {
	for i := range b.Exports {
		if b.Exports[i].Name == name {
			return &b.Exports[i], true
		}
	}
	return nil, false
}

// Origin resolves a 1-based line within Source to the host file and line it
// was extracted from.
func (b *Body) Origin(line int) (string, int, bool) {
	for _, seg := range b.Segments {
		if line <= seg.Count {
			if seg.File == "" {
				return "", 0, false
			}
			return seg.File, seg.Line + line - 1, true
		}
		line -= seg.Count
	}
	return "", 0, false
}

// Invocation is one use of a macro found in a host file.
type Invocation struct {
	Macro string
	Kind  wire.Kind
	Input string
	Attr  string
	File  string
	Line  int
	Col   int
}

func (inv Invocation) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", inv.Macro, inv.Kind, inv.File, inv.Line)
}
