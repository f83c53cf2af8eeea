package macro

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"strings"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/wire"
)

const (
	dirCall   = "//macro:call"
	dirDerive = "//macro:derive"
	dirAttr   = "//macro:attr"
)

// ScanFile finds every macro invocation directive in a host file. Derive and
// attr directives must sit in a declaration's doc comment and receive that
// declaration's source as input; call directives may sit anywhere.
func ScanFile(path string) ([]Invocation, string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read source file: %w", err)
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, "", diag.Wrap(diag.KindMalformedBody, diag.Span{File: path}, err, "parse error")
	}

	var invs []Invocation

	// Declaration-attached invocations.
	for _, decl := range f.Decls {
		doc := declDoc(decl)
		if doc == nil {
			continue
		}

		item := nodeText(src, fset, decl.Pos(), decl.End())
		for _, c := range doc.List {
			pos := fset.Position(c.Pos())
			span := diag.Span{File: path, Line: pos.Line, Col: pos.Column}

			switch {
			case strings.HasPrefix(c.Text, dirDerive):
				name := strings.TrimSpace(strings.TrimPrefix(c.Text, dirDerive))
				if name == "" || len(strings.Fields(name)) != 1 {
					return nil, "", diag.New(diag.KindMalformedBody, span,
						"malformed derive directive: want //macro:derive <name>")
				}
				invs = append(invs, Invocation{
					Macro: name,
					Kind:  wire.KindDerive,
					Input: item,
					File:  path,
					Line:  pos.Line,
					Col:   pos.Column,
				})

			case strings.HasPrefix(c.Text, dirAttr):
				name, args, err := splitCall(strings.TrimPrefix(c.Text, dirAttr), span, dirAttr)
				if err != nil {
					return nil, "", err
				}
				invs = append(invs, Invocation{
					Macro: name,
					Kind:  wire.KindAttribute,
					Input: item,
					Attr:  args,
					File:  path,
					Line:  pos.Line,
					Col:   pos.Column,
				})
			}
		}
	}

	// Free-standing bang invocations.
	for _, cg := range f.Comments {
		for i, c := range cg.List {
			if !strings.HasPrefix(c.Text, dirCall) {
				continue
			}
			pos := fset.Position(c.Pos())
			span := diag.Span{File: path, Line: pos.Line, Col: pos.Column}

			name, input, err := splitCall(strings.TrimPrefix(c.Text, dirCall), span, dirCall)
			if err != nil {
				return nil, "", err
			}
			// Plain comment lines following the directive in the same group
			// continue its input.
			for _, cont := range cg.List[i+1:] {
				if strings.HasPrefix(cont.Text, "//macro:") {
					break
				}
				input += "\n" + strings.TrimPrefix(strings.TrimPrefix(cont.Text, "//"), " ")
			}
			invs = append(invs, Invocation{
				Macro: name,
				Kind:  wire.KindBang,
				Input: input,
				File:  path,
				Line:  pos.Line,
				Col:   pos.Column,
			})
		}
	}

	return invs, f.Name.Name, nil
}

// splitCall parses "name(args)" or a bare "name" from a directive argument.
func splitCall(arg string, span diag.Span, directive string) (string, string, error) {
	arg = strings.TrimSpace(arg)
	open := strings.Index(arg, "(")
	if open < 0 {
		if arg == "" || len(strings.Fields(arg)) != 1 {
			return "", "", diag.New(diag.KindMalformedBody, span,
				"malformed directive: want %s <name>(<input>)", directive)
		}
		return arg, "", nil
	}

	name := strings.TrimSpace(arg[:open])
	rest := arg[open+1:]
	if name == "" || !strings.HasSuffix(rest, ")") {
		return "", "", diag.New(diag.KindMalformedBody, span,
			"malformed directive: want %s <name>(<input>)", directive)
	}

	return name, strings.TrimSuffix(rest, ")"), nil
}
