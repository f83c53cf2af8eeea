package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputRoundTrip(t *testing.T) {
	in := &Input{Kind: KindAttribute, In: "func F() {}", Attr: "level=2"}

	data, err := MarshalInput(in)
	require.NoError(t, err)

	got, err := UnmarshalInput(data)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestResultRoundTrip(t *testing.T) {
	ok := &Result{Out: "const X = 1"}
	data, err := MarshalResult(ok)
	require.NoError(t, err)
	got, err := UnmarshalResult(data)
	require.NoError(t, err)
	assert.Equal(t, ok, got)

	fail := &Result{Err: &Error{Msg: "boom", Line: 2, Col: 5}}
	data, err = MarshalResult(fail)
	require.NoError(t, err)
	got, err = UnmarshalResult(data)
	require.NoError(t, err)
	require.NotNil(t, got.Err)
	assert.Equal(t, "boom", got.Err.Msg)
	assert.Equal(t, 2, got.Err.Line)
}

func TestCanonicalEncoding(t *testing.T) {
	// Both sides of the boundary rely on deterministic bytes.
	a, err := MarshalInput(&Input{Kind: KindBang, In: "x"})
	require.NoError(t, err)
	b, err := MarshalInput(&Input{Kind: KindBang, In: "x"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindBang.Valid())
	assert.True(t, KindDerive.Valid())
	assert.True(t, KindAttribute.Valid())
	assert.False(t, Kind("wizard").Valid())
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := UnmarshalResult([]byte{0xff, 0x00})
	require.Error(t, err)

	_, err = UnmarshalInput([]byte("not cbor at all"))
	require.Error(t, err)
}
