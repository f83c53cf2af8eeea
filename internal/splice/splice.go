// Package splice turns invocation results back into compilable source.
//
// Successful expansions for a host file are rendered into a generated
// sibling file; error payloads become diagnostics at the original
// invocation location. No retries happen here: a failure is a hard failure
// of that macro expansion.
package splice

import (
	"fmt"
	"go/format"
	"path/filepath"
	"strings"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/macro"
	"github.com/macrokit/promex/internal/wire"
)

// Expansion pairs an invocation with the tokens its macro produced.
type Expansion struct {
	Inv    macro.Invocation
	Tokens string
}

// Diagnostic converts a macro's error payload into a diagnostic attached to
// the invocation site. A line recorded in the payload is relative to the
// macro's input and offsets the reported position.
func Diagnostic(inv macro.Invocation, werr *wire.Error) error {
	span := diag.Span{File: inv.File, Line: inv.Line, Col: inv.Col}
	if werr.Line > 0 {
		span.Line = inv.Line + werr.Line - 1
		span.Col = werr.Col
	}

	return diag.New(diag.KindMacroError, span, "%s: %s", inv.Macro, werr.Msg)
}

// OutputPath returns the generated sibling file for a host file, e.g.
// widgets.go -> widgets_macrogen.go.
func OutputPath(hostFile, suffix string) string {
	ext := filepath.Ext(hostFile)
	return strings.TrimSuffix(hostFile, ext) + suffix + ext
}

// RenderFile renders the expansions of one host file into gofmt'ed source
// for its generated sibling. Expansions are emitted in invocation order.
func RenderFile(pkg string, exps []Expansion) ([]byte, error) {
	// Validate each fragment on its own first so a bad one is blamed on its
	// invocation, not on the assembled file.
	for _, exp := range exps {
		if err := checkFragment(exp); err != nil {
			return nil, err
		}
	}

	var sb strings.Builder
	sb.WriteString("// Code generated by promex. DO NOT EDIT.\n\n")
	sb.WriteString("package " + pkg + "\n")
	for _, exp := range exps {
		sb.WriteString(fmt.Sprintf("\n// %s from %s:%d\n", exp.Inv.Macro, filepath.Base(exp.Inv.File), exp.Inv.Line))
		sb.WriteString(strings.TrimSpace(exp.Tokens))
		sb.WriteString("\n")
	}

	out, err := format.Source([]byte(sb.String()))
	if err != nil {
		span := diag.Span{}
		if len(exps) > 0 {
			span.File = exps[0].Inv.File
			span.Line = exps[0].Inv.Line
		}
		return nil, diag.Wrap(diag.KindBadOutput, span, err, "generated file does not format")
	}

	return out, nil
}

func checkFragment(exp Expansion) error {
	src := "package p\n\n" + strings.TrimSpace(exp.Tokens) + "\n"
	if _, err := format.Source([]byte(src)); err != nil {
		return diag.Wrap(diag.KindBadOutput,
			diag.Span{File: exp.Inv.File, Line: exp.Inv.Line, Col: exp.Inv.Col}, err,
			"macro %s returned tokens that are not valid Go", exp.Inv.Macro)
	}
	return nil
}
