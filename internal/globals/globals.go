// Package globals holds the whitelist of host built-ins that are referenced
// by their global identifier in emitted modules instead of being serialized.
// Membership is decided by identity, not by name: a module that reassigns the
// global Object binds a different value and is serialized normally.
package globals

import (
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// DefaultNames are the identifier texts whose bound values are known globals
// in any standard JavaScript host.
var DefaultNames = []string{
	"Object", "Array", "Function", "Number", "String", "Boolean", "Symbol",
	"BigInt", "Math", "JSON", "Date", "RegExp", "Promise", "Proxy", "Reflect",
	"Map", "Set", "WeakMap", "WeakSet",
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "EvalError", "URIError",
	"ArrayBuffer", "SharedArrayBuffer", "DataView",
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array", "BigInt64Array", "BigUint64Array",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURI", "encodeURIComponent", "decodeURI", "decodeURIComponent",
	"setTimeout", "setInterval", "clearTimeout", "clearInterval",
	"console", "process", "Buffer", "globalThis", "require", "exports", "module",
	"undefined", "NaN", "Infinity",
}

// Table maps live values to the global identifier the emitted module should
// reference them by.
type Table struct {
	names map[jsvalue.Value]string
}

// NewTable creates an empty whitelist.
func NewTable() *Table {
	return &Table{names: make(map[jsvalue.Value]string)}
}

// Add records that v is the host's global bound to name.
func (t *Table) Add(v jsvalue.Value, name string) {
	if v == nil {
		return
	}
	t.names[v] = name
}

// NameOf returns the global identifier for v, decided by identity.
func (t *Table) NameOf(v jsvalue.Value) (string, bool) {
	if t == nil || v == nil {
		return "", false
	}
	name, ok := t.names[v]
	return name, ok
}

// Len returns the number of whitelisted values.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Populate fills the table by resolving each of the default names through
// resolve, which reports the live value the host currently binds to the name.
// Names the host does not define are skipped.
func (t *Table) Populate(resolve func(name string) (jsvalue.Value, bool)) {
	for _, name := range DefaultNames {
		if v, ok := resolve(name); ok {
			t.Add(v, name)
		}
	}
}
