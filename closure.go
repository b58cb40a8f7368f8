// Package closure serializes a live JavaScript function value - together
// with the transitive closure of values it references - into a
// self-contained module whose handler export reproduces the function in a
// fresh process.
package closure

import (
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
	"github.com/functionless/nodejs-closure-serializer/internal/registry"
	"github.com/functionless/nodejs-closure-serializer/internal/serializer"
)

// Options configures a Serialize call. See serializer.Options.
type Options = serializer.Options

// Transform is a user-supplied AST rewrite.
type Transform = serializer.Transform

// Serialize converts fn into a complete module text ending in
// `exports.handler = <expression>;`.
func Serialize(fn *jsvalue.Function, opts Options) (string, error) {
	return serializer.Serialize(fn, opts)
}

// NewGlobalsTable creates an empty identity-keyed whitelist of host
// built-ins.
func NewGlobalsTable() *globals.Table {
	return globals.NewTable()
}

// DefaultRegistry returns the process-wide closure registry used when the
// engine probe cannot supply a function's scope chain.
func DefaultRegistry() *registry.Registry {
	return registry.Default()
}
