package codes

import "github.com/macrokit/promex/internal/diag"

// Exit codes reported by promex, one per pipeline failure class
const (
	Success              = 0
	GeneralFailure       = 1
	MalformedBody        = 10
	DependencyResolution = 11
	SynthesisIO          = 12
	Build                = 13
	BuildTimeout         = 14
	Load                 = 15
	InvocationPanic      = 16
	BadOutput            = 17
	MacroError           = 18
)

var kindCodes = map[diag.Kind]int{
	diag.KindMalformedBody:        MalformedBody,
	diag.KindDependencyResolution: DependencyResolution,
	diag.KindSynthesisIO:          SynthesisIO,
	diag.KindBuild:                Build,
	diag.KindBuildTimeout:         BuildTimeout,
	diag.KindLoad:                 Load,
	diag.KindInvocationPanic:      InvocationPanic,
	diag.KindBadOutput:            BadOutput,
	diag.KindMacroError:           MacroError,
}

// IsSuccess returns true if the exit code indicates a successful expansion
func IsSuccess(code int) bool {
	return code == Success
}

// ExitCode maps an error to the process exit code for it
func ExitCode(err error) int {
	if err == nil {
		return Success
	}

	if kind, ok := diag.KindOf(err); ok {
		if code, ok := kindCodes[kind]; ok {
			return code
		}
	}

	return GeneralFailure
}
