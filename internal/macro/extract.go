package macro

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/wire"
)

// BuildTag guards macro definition files so the host build skips them.
const BuildTag = "macros"

const (
	dirExport  = "//macro:export"
	dirInclude = "//macro:include"
	dirDep     = "//macro:dep"
)

// IsMacroFile reports whether src carries the macros build constraint. Only
// the header (before the package clause) is inspected.
func IsMacroFile(src []byte) bool {
	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return false
		}
		if !strings.HasPrefix(trimmed, "//go:build") {
			continue
		}
		expr := strings.TrimSpace(strings.TrimPrefix(trimmed, "//go:build"))
		for _, tok := range strings.FieldsFunc(expr, func(r rune) bool {
			return r == ' ' || r == '(' || r == ')' || r == '&' || r == '|' || r == '!'
		}) {
			if tok == BuildTag {
				return true
			}
		}
	}
	return false
}

// ExtractFile pulls the macro body out of one macros-tagged file: its
// exported macros, included helper declarations, dependency requirements and
// import block, all as verbatim source text.
func ExtractFile(path string) (*Body, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read macro file: %w", err)
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, diag.Wrap(diag.KindMalformedBody, diag.Span{File: path}, err, "parse error")
	}

	body := &Body{
		Package: f.Name.Name,
		Files:   []string{path},
	}

	// Dependency directives may appear in any comment group.
	for _, cg := range f.Comments {
		for _, c := range cg.List {
			if !strings.HasPrefix(c.Text, dirDep) {
				continue
			}
			dep, err := parseDep(c.Text, fset.Position(c.Pos()))
			if err != nil {
				return nil, err
			}
			body.Deps = append(body.Deps, dep)
		}
	}

	for _, imp := range f.Imports {
		body.Imports = append(body.Imports, nodeText(src, fset, imp.Pos(), imp.End()))
	}

	var pieces []string
	for _, decl := range f.Decls {
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			continue
		}

		doc := declDoc(decl)
		directive, arg := findDeclDirective(doc)

		switch directive {
		case "":
			continue

		case dirInclude:
			// carried verbatim, nothing to record

		case dirExport:
			fd, ok := decl.(*ast.FuncDecl)
			if !ok {
				return nil, diag.New(diag.KindMalformedBody, spanAt(fset, doc.Pos()),
					"//macro:export must be attached to a function")
			}
			exp, err := parseExport(arg, fset.Position(doc.Pos()))
			if err != nil {
				return nil, err
			}
			if fd.Recv != nil || !validSignature(fd.Type, exp.Kind) {
				return nil, diag.New(diag.KindMalformedBody, spanAt(fset, fd.Pos()),
					"macro %q has the wrong signature for kind %s (want %s)",
					exp.Name, exp.Kind, wantSignature(exp.Kind))
			}
			exp.Func = fd.Name.Name
			exp.Line = fset.Position(fd.Pos()).Line
			if _, dup := body.Export(exp.Name); dup {
				return nil, diag.New(diag.KindMalformedBody, spanAt(fset, fd.Pos()),
					"duplicate macro export %q", exp.Name)
			}
			body.Exports = append(body.Exports, exp)

		default:
			return nil, diag.New(diag.KindMalformedBody, spanAt(fset, doc.Pos()),
				"unknown macro directive %s", directive)
		}

		start := decl.Pos()
		if doc != nil {
			start = doc.Pos()
		}
		snippet := nodeText(src, fset, start, decl.End())
		if len(pieces) > 0 {
			body.Segments = append(body.Segments, Segment{Count: 1})
		}
		body.Segments = append(body.Segments, Segment{
			File:  path,
			Line:  fset.Position(start).Line,
			Count: strings.Count(snippet, "\n") + 1,
		})
		pieces = append(pieces, snippet)
	}

	if len(body.Exports) == 0 {
		return nil, diag.New(diag.KindMalformedBody, diag.Span{File: path},
			"macro file exports no macros")
	}

	body.Source = strings.Join(pieces, "\n\n")

	return body, nil
}

// Merge combines the macro bodies of one package into a single build unit.
func Merge(bodies ...*Body) (*Body, error) {
	if len(bodies) == 0 {
		return nil, fmt.Errorf("no macro bodies to merge")
	}
	if len(bodies) == 1 {
		return bodies[0], nil
	}

	merged := &Body{Package: bodies[0].Package}
	seenImports := make(map[string]bool)
	depVersions := make(map[string]string)
	var pieces []string

	for _, b := range bodies {
		merged.Files = append(merged.Files, b.Files...)

		for _, imp := range b.Imports {
			if !seenImports[imp] {
				seenImports[imp] = true
				merged.Imports = append(merged.Imports, imp)
			}
		}

		for _, dep := range b.Deps {
			prev, seen := depVersions[dep.Path]
			if seen && prev != dep.Version {
				return nil, diag.New(diag.KindMalformedBody, diag.Span{File: b.Files[0]},
					"conflicting versions for dependency %s: %q vs %q", dep.Path, prev, dep.Version)
			}
			if !seen {
				depVersions[dep.Path] = dep.Version
				merged.Deps = append(merged.Deps, dep)
			}
		}

		for _, exp := range b.Exports {
			if _, dup := merged.Export(exp.Name); dup {
				return nil, diag.New(diag.KindMalformedBody, diag.Span{File: b.Files[0], Line: exp.Line},
					"duplicate macro export %q", exp.Name)
			}
			merged.Exports = append(merged.Exports, exp)
		}

		if len(pieces) > 0 {
			merged.Segments = append(merged.Segments, Segment{Count: 1})
		}
		merged.Segments = append(merged.Segments, b.Segments...)
		pieces = append(pieces, b.Source)
	}

	merged.Source = strings.Join(pieces, "\n\n")

	return merged, nil
}

func parseDep(text string, pos token.Position) (Dep, error) {
	fields := strings.Fields(strings.TrimPrefix(text, dirDep))
	switch len(fields) {
	case 1:
		return Dep{Path: fields[0]}, nil
	case 2:
		return Dep{Path: fields[0], Version: fields[1]}, nil
	default:
		return Dep{}, diag.New(diag.KindMalformedBody,
			diag.Span{File: pos.Filename, Line: pos.Line},
			"malformed dependency directive: want //macro:dep <module-path> [version]")
	}
}

func parseExport(arg string, pos token.Position) (Export, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return Export{}, diag.New(diag.KindMalformedBody,
			diag.Span{File: pos.Filename, Line: pos.Line},
			"malformed export directive: want //macro:export <name> <bang|derive|attribute>")
	}

	kind := wire.Kind(fields[1])
	if !kind.Valid() {
		return Export{}, diag.New(diag.KindMalformedBody,
			diag.Span{File: pos.Filename, Line: pos.Line},
			"unknown macro kind %q", fields[1])
	}

	return Export{Name: fields[0], Kind: kind}, nil
}

// findDeclDirective returns the first macro directive in a declaration's doc
// comment, with its argument text.
func findDeclDirective(doc *ast.CommentGroup) (string, string) {
	if doc == nil {
		return "", ""
	}
	for _, c := range doc.List {
		switch {
		case strings.HasPrefix(c.Text, dirExport):
			return dirExport, strings.TrimPrefix(c.Text, dirExport)
		case c.Text == dirInclude || strings.HasPrefix(c.Text, dirInclude+" "):
			return dirInclude, ""
		}
	}
	return "", ""
}

func declDoc(decl ast.Decl) *ast.CommentGroup {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return d.Doc
	case *ast.GenDecl:
		return d.Doc
	}
	return nil
}

// validSignature checks the fixed macro calling convention: bang and derive
// macros are func(string) (string, error), attribute macros take the
// attribute arguments before the item.
func validSignature(ft *ast.FuncType, kind wire.Kind) bool {
	wantParams := 1
	if kind == wire.KindAttribute {
		wantParams = 2
	}

	if fieldCount(ft.Params) != wantParams || fieldCount(ft.Results) != 2 {
		return false
	}
	for _, p := range ft.Params.List {
		if !isIdent(p.Type, "string") {
			return false
		}
	}
	return isIdent(ft.Results.List[0].Type, "string") && isIdent(ft.Results.List[1].Type, "error")
}

func wantSignature(kind wire.Kind) string {
	if kind == wire.KindAttribute {
		return "func(attr string, item string) (string, error)"
	}
	return "func(input string) (string, error)"
}

func fieldCount(fl *ast.FieldList) int {
	if fl == nil {
		return 0
	}
	n := 0
	for _, f := range fl.List {
		if len(f.Names) == 0 {
			n++
		} else {
			n += len(f.Names)
		}
	}
	return n
}

func isIdent(expr ast.Expr, name string) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == name
}

func nodeText(src []byte, fset *token.FileSet, from, to token.Pos) string {
	return string(src[fset.Position(from).Offset:fset.Position(to).Offset])
}

func spanAt(fset *token.FileSet, pos token.Pos) diag.Span {
	p := fset.Position(pos)
	return diag.Span{File: p.Filename, Line: p.Line, Col: p.Column}
}
