// Package wire defines the payload protocol spoken across the plugin
// boundary.
//
// The host and the compiled macro artifact are built independently, so no
// native Go types cross between them: the entry point takes bytes and returns
// bytes, and both sides agree only on this CBOR envelope. The synthesized
// wrapper embeds its own copy of these definitions; changing them requires
// bumping Convention (and with it the entry symbol), which makes an ABI
// revision surface as a load failure rather than a misread payload.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// Convention is the wire protocol revision. It participates in the
	// fingerprint so cached artifacts built against an older envelope are
	// never reused.
	Convention = "v1"

	// EntrySymbol is the exported entry point every synthesized artifact
	// provides: func(name string, payload []byte) []byte.
	EntrySymbol = "MacroEntryV1"
)

// Kind of a macro, determining its invocation form and signature.
type Kind string

const (
	KindBang      Kind = "bang"
	KindDerive    Kind = "derive"
	KindAttribute Kind = "attribute"
)

// Valid reports whether k is one of the known macro kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBang, KindDerive, KindAttribute:
		return true
	}
	return false
}

// Input is the envelope handed to a macro invocation.
type Input struct {
	Kind Kind   `cbor:"k"`
	In   string `cbor:"in"`
	Attr string `cbor:"attr,omitempty"`
}

// Error is a structured failure produced inside the macro. Line and Col are
// relative to the macro's input tokens when non-zero.
type Error struct {
	Msg  string `cbor:"msg"`
	Line int    `cbor:"line,omitempty"`
	Col  int    `cbor:"col,omitempty"`
}

// Result is the envelope a macro invocation returns: output tokens or a
// structured error, never both.
type Result struct {
	Out string `cbor:"out,omitempty"`
	Err *Error `cbor:"err,omitempty"`
}

// Canonical mode keeps encoding deterministic on both sides of the boundary.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// MarshalInput serializes an Input to CBOR bytes.
func MarshalInput(in *Input) ([]byte, error) {
	return encMode.Marshal(in)
}

// UnmarshalInput deserializes an Input from CBOR bytes.
func UnmarshalInput(data []byte) (*Input, error) {
	var in Input
	if err := cbor.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("wire: unmarshal input: %w", err)
	}
	return &in, nil
}

// MarshalResult serializes a Result to CBOR bytes.
func MarshalResult(r *Result) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalResult deserializes a Result from CBOR bytes.
func UnmarshalResult(data []byte) (*Result, error) {
	var r Result
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal result: %w", err)
	}
	return &r, nil
}
