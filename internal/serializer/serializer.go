// Package serializer exposes the one public operation: turning a live
// function value into a self-contained module text ending in
// `exports.handler = <expression>;`.
package serializer

import (
	"errors"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/freevars"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/graph"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
	"github.com/functionless/nodejs-closure-serializer/internal/registry"
)

// Transform is a user-supplied AST rewrite applied at a pipeline phase.
type Transform = graph.Transform

// Options is the serializer configuration record.
type Options struct {
	// PreProcess transforms run on the function's AST before free-variable
	// analysis. Output must still be a single function or class.
	PreProcess []Transform

	// PostProcess transforms run after free-variable analysis, before
	// emission.
	PostProcess []Transform

	// PreSerializeValue replaces a value before any cache lookup; the
	// replacement is used for this and all further references, so identity
	// follows the replacement.
	PreSerializeValue func(jsvalue.Value) jsvalue.Value

	// IsFactoryFunction invokes the root once at module load and exports its
	// return value as the handler.
	IsFactoryFunction bool

	// Strict makes unresolved free variables fatal instead of leaving the
	// identifiers in place.
	Strict bool

	// Globals is the identity-keyed whitelist of host built-ins referenced
	// by name in the emitted module.
	Globals *globals.Table

	// Resolver resolves free names. When nil, the function's captured scope
	// chain is used, falling back to the closure registry for functions it
	// contains.
	Resolver freevars.Resolver
}

// Serialize converts fn and the transitive closure of values it references
// into a complete module text.
func Serialize(fn *jsvalue.Function, opts Options) (string, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = fallbackResolver{registry: registry.Default()}
	}

	s := graph.New(graph.Options{
		Resolver:          resolver,
		Globals:           opts.Globals,
		PreProcess:        opts.PreProcess,
		PostProcess:       opts.PostProcess,
		PreSerializeValue: opts.PreSerializeValue,
		Strict:            opts.Strict,
	})

	rootID, err := s.SerializeRoot(fn)
	if err != nil {
		return "", withFunctionName(fn, err)
	}

	module := s.Module()
	module.ExportExpr = rootID
	module.Factory = opts.IsFactoryFunction

	out := module.Render()
	debug.Printf("serialized %q: %d preamble, %d postamble statements\n",
		fn.Name(), len(module.Preamble()), len(module.Postamble()))
	return out, nil
}

// withFunctionName ensures the top-level error carries the root function's
// name alongside the offending sub-value's path.
func withFunctionName(fn *jsvalue.Function, err error) error {
	var se *cserrors.SerializeError
	if errors.As(err, &se) {
		if se.FunctionName == "" {
			se.FunctionName = fn.Name()
		}
		return se
	}
	return cserrors.NewSerializeError(fn.Name(), nil, err)
}

// fallbackResolver prefers the function's captured scope chain and falls
// back to the closure registry when the chain is unavailable.
type fallbackResolver struct {
	registry *registry.Registry
}

func (r fallbackResolver) Resolve(fn *jsvalue.Function, name string) (jsvalue.Value, bool, error) {
	v, ok, err := (freevars.ScopeChainResolver{}).Resolve(fn, name)
	if err == nil {
		return v, ok, nil
	}

	var probeErr *cserrors.ProbeError
	if errors.As(err, &probeErr) && r.registry.Contains(fn) {
		return r.registry.Resolve(fn, name)
	}
	return nil, false, err
}
