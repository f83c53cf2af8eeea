// Package loader loads compiled macro artifacts and invokes their entry
// points.
//
// Loaded plugins cannot be unloaded, so the registry is process-scoped state
// with an explicit lifecycle: populated lazily on first use of an artifact,
// never torn down before process exit. Repeated invocations against the same
// artifact reuse the resident handle instead of loading a second copy.
package loader

import (
	"plugin"
	"sync"

	"github.com/macrokit/promex/internal/diag"
	"github.com/macrokit/promex/internal/wire"
)

// EntryFunc is the resolved entry point of a loaded artifact.
type EntryFunc func(name string, payload []byte) []byte

// Registry tracks artifacts resident in this process.
type Registry struct {
	mu       sync.Mutex
	resident map[string]EntryFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resident: make(map[string]EntryFunc)}
}

// Process is the shared process-wide registry.
var Process = NewRegistry()

// Preload registers an already-resolved entry point for an artifact path,
// bypassing the dynamic loader.
func (r *Registry) Preload(path string, fn EntryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resident[path] = fn
}

// Entry returns the entry point of the artifact at path, loading the plugin
// if it is not yet resident.
func (r *Registry) Entry(path string) (EntryFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn, ok := r.resident[path]; ok {
		return fn, nil
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, diag.Wrap(diag.KindLoad, diag.Span{}, err,
			"failed to open artifact %s", path)
	}

	sym, err := p.Lookup(wire.EntrySymbol)
	if err != nil {
		return nil, diag.Wrap(diag.KindLoad, diag.Span{}, err,
			"artifact %s is missing entry point %s", path, wire.EntrySymbol)
	}

	fn, ok := sym.(func(string, []byte) []byte)
	if !ok {
		return nil, diag.New(diag.KindLoad, diag.Span{},
			"entry point %s has the wrong signature", wire.EntrySymbol)
	}

	r.resident[path] = fn
	return fn, nil
}

// Invoke calls a macro inside the artifact at path with the given input
// envelope. A panic during the call is contained at this boundary and
// reported as an error rather than crashing the process.
func (r *Registry) Invoke(path, macroName string, in *wire.Input) (*wire.Result, error) {
	fn, err := r.Entry(path)
	if err != nil {
		return nil, err
	}

	payload, err := wire.MarshalInput(in)
	if err != nil {
		return nil, diag.Wrap(diag.KindLoad, diag.Span{}, err, "failed to encode input payload")
	}

	raw, err := call(fn, macroName, payload)
	if err != nil {
		return nil, err
	}

	res, err := wire.UnmarshalResult(raw)
	if err != nil {
		// The artifact speaks a different envelope than this process;
		// a stale or foreign build slipped past the cache.
		return nil, diag.Wrap(diag.KindLoad, diag.Span{}, err,
			"failed to decode result payload from %s", path)
	}

	return res, nil
}

// call runs the entry point behind a recover boundary. The wrapper inside the
// artifact already recovers macro panics; this guards against panics in the
// wrapper itself.
func call(fn EntryFunc, name string, payload []byte) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = diag.New(diag.KindInvocationPanic, diag.Span{},
				"macro %s panicked: %v", name, r)
		}
	}()

	return fn(name, payload), nil
}
