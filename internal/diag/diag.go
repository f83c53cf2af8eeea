// Package diag defines the error taxonomy of the expansion pipeline.
//
// Every failure mode a macro expansion can hit is classified by a Kind and
// carries the source span of the construct that caused it, so that failures
// surface as diagnostics attached to the original inline code rather than as
// opaque tool errors.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindMalformedBody means the inline macro definition does not match the
	// expected shape (bad directive, wrong signature, duplicate export).
	KindMalformedBody Kind = iota

	// KindDependencyResolution means a declared macro dependency could not be
	// resolved against the host module's go.mod.
	KindDependencyResolution

	// KindSynthesisIO means materializing the ephemeral build unit failed on
	// the filesystem.
	KindSynthesisIO

	// KindBuild means the external toolchain rejected the macro body.
	KindBuild

	// KindBuildTimeout means the external build exceeded the configured
	// timeout.
	KindBuildTimeout

	// KindLoad means the compiled artifact could not be loaded into this
	// process, or its entry point is missing or has the wrong shape.
	KindLoad

	// KindInvocationPanic means the loaded macro code panicked while running.
	KindInvocationPanic

	// KindBadOutput means the macro ran but returned tokens that are not
	// valid Go source.
	KindBadOutput

	// KindMacroError means the macro itself reported a structured error for
	// this invocation.
	KindMacroError
)

func (k Kind) String() string {
	switch k {
	case KindMalformedBody:
		return "malformed macro body"
	case KindDependencyResolution:
		return "dependency resolution failed"
	case KindSynthesisIO:
		return "project synthesis failed"
	case KindBuild:
		return "macro build failed"
	case KindBuildTimeout:
		return "macro build timed out"
	case KindLoad:
		return "macro artifact load failed"
	case KindInvocationPanic:
		return "macro panicked"
	case KindBadOutput:
		return "macro produced invalid output"
	case KindMacroError:
		return "macro error"
	default:
		return "unknown error"
	}
}

// Span locates a diagnostic in the host source.
type Span struct {
	File string
	Line int
	Col  int
}

func (s Span) String() string {
	if s.File == "" {
		return ""
	}
	if s.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
	}
	if s.Line > 0 {
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	}
	return s.File
}

// Error is a classified pipeline failure with an optional source location and
// wrapped cause.
type Error struct {
	Kind Kind
	Span Span
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	loc := e.Span.String()
	switch {
	case loc != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Kind, e.Msg)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Kind)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error at the given span.
func New(kind Kind, span Span, format string, args ...any) *Error {
	return &Error{Kind: kind, Span: span, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, preserving it for errors.Is/As.
func Wrap(kind Kind, span Span, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Span: span, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err if it is (or wraps) a pipeline Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
