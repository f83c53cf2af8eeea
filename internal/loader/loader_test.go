package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/wire"
)

// echoEntry behaves like a synthesized wrapper whose single macro echoes its
// input tokens.
func echoEntry(name string, payload []byte) []byte {
	in, err := wire.UnmarshalInput(payload)
	if err != nil {
		panic(err)
	}

	var res wire.Result
	if name == "echo" {
		res.Out = in.In
	} else {
		res.Err = &wire.Error{Msg: "unknown macro " + name}
	}

	out, err := wire.MarshalResult(&res)
	if err != nil {
		panic(err)
	}
	return out
}

func TestRegistry_Invoke(t *testing.T) {
	r := NewRegistry()
	r.Preload("/cache/artifacts/aa/macro.so", echoEntry)

	res, err := r.Invoke("/cache/artifacts/aa/macro.so", "echo", &wire.Input{
		Kind: wire.KindBang,
		In:   "1 + 2",
	})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	assert.Equal(t, "1 + 2", res.Out)
}

func TestRegistry_InvokeErrorPayload(t *testing.T) {
	r := NewRegistry()
	r.Preload("/cache/artifacts/aa/macro.so", echoEntry)

	res, err := r.Invoke("/cache/artifacts/aa/macro.so", "missing", &wire.Input{Kind: wire.KindBang})
	require.NoError(t, err, "an error payload is a valid result, not an invocation failure")
	require.NotNil(t, res.Err)
	assert.Equal(t, "unknown macro missing", res.Err.Msg)
}

func TestRegistry_InvokePanicContained(t *testing.T) {
	r := NewRegistry()
	r.Preload("/art/macro.so", func(name string, payload []byte) []byte {
		panic("entry blew up")
	})

	_, err := r.Invoke("/art/macro.so", "boom", &wire.Input{Kind: wire.KindBang})
	require.Error(t, err)

	kind, ok := diag.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindInvocationPanic, kind)
	assert.Contains(t, err.Error(), "entry blew up")
}

func TestRegistry_InvokeGarbageResult(t *testing.T) {
	r := NewRegistry()
	r.Preload("/art/macro.so", func(name string, payload []byte) []byte {
		return []byte{0xff, 0x00, 0x01}
	})

	_, err := r.Invoke("/art/macro.so", "m", &wire.Input{Kind: wire.KindBang})
	require.Error(t, err)

	kind, ok := diag.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindLoad, kind, "an undecodable payload means the artifact speaks a different protocol")
}

func TestRegistry_EntryMissingArtifact(t *testing.T) {
	r := NewRegistry()

	_, err := r.Entry(filepath.Join(t.TempDir(), "nope.so"))
	require.Error(t, err)

	kind, ok := diag.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindLoad, kind)
}

func TestRegistry_PreloadedStaysResident(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Preload("/art/macro.so", func(name string, payload []byte) []byte {
		calls++
		out, _ := wire.MarshalResult(&wire.Result{Out: "x"})
		return out
	})

	for i := 0; i < 3; i++ {
		_, err := r.Invoke("/art/macro.so", "m", &wire.Input{Kind: wire.KindBang})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)

	fn, err := r.Entry("/art/macro.so")
	require.NoError(t, err)
	assert.NotNil(t, fn)
}
