package jsvalue

import (
	"strings"

	"github.com/functionless/nodejs-closure-serializer/internal/errors"
)

// BoundPrefix is the name prefix the engine gives functions produced by
// partial application.
const BoundPrefix = "bound "

// NativeBodyMarker appears in the stringification of engine-builtin functions.
const NativeBodyMarker = "[native code]"

// Scope is one frame of a captured lexical scope chain: an ordered
// name-to-value mapping.
type Scope struct {
	Names  []string
	Values []Value
}

// NewScope creates an empty scope frame; Bind adds bindings to it.
func NewScope() *Scope {
	return &Scope{}
}

// Bind appends a binding to the frame.
func (s *Scope) Bind(name string, v Value) *Scope {
	s.Names = append(s.Names, name)
	s.Values = append(s.Values, v)
	return s
}

// Lookup returns the value bound to name in this frame.
func (s *Scope) Lookup(name string) (Value, bool) {
	for i, n := range s.Names {
		if n == name {
			return s.Values[i], true
		}
	}
	return nil, false
}

// BoundInternals are the engine internals of a bound function: the wrapped
// target and the captured receiver and leading arguments.
type BoundInternals struct {
	Target Value
	This   Value
	Args   []Value
}

// Introspector supplies the three engine-probe primitives for a function
// whose source, scopes, or bound internals were not materialized eagerly.
// The inspector-protocol session implements it; so does the closure registry.
type Introspector interface {
	SourceOf(fn *Function) (string, error)
	BoundInternalsOf(fn *Function) (*BoundInternals, error)
	ScopesOf(fn *Function) ([]*Scope, error)
}

// Function is a live function reference. It is borrowed from host memory for
// the duration of a serialize call; identity is pointer identity.
type Function struct {
	name   string
	source string
	hasSrc bool

	scopes    []*Scope
	hasScopes bool

	bound *BoundInternals

	// proto is the object stored as the function's `prototype` property,
	// when it was captured as non-trivial.
	proto *Object

	// metaProto is the function's own prototype when it differs from the
	// function-root prototype (altered via Object.setPrototypeOf).
	metaProto Value

	// class records that the source is a class declaration/expression.
	class bool

	origin Introspector

	// Handle is an opaque engine handle (e.g. a remote object id) the origin
	// uses to answer probe queries for this function.
	Handle any
}

// NewFunction creates a function handle with eagerly supplied source text.
func NewFunction(name, source string) *Function {
	return &Function{name: name, source: source, hasSrc: true}
}

// NewRemoteFunction creates a function handle whose source, scopes, and bound
// internals are resolved lazily through the given introspector.
func NewRemoteFunction(name string, origin Introspector, handle any) *Function {
	return &Function{name: name, origin: origin, Handle: handle}
}

func (*Function) Kind() Kind { return KindFunction }

// Name returns the declared name, possibly empty, possibly "bound <name>".
func (f *Function) Name() string {
	return f.name
}

// InnerName returns the declared name with any "bound " prefixes stripped.
func (f *Function) InnerName() string {
	n := f.name
	for strings.HasPrefix(n, BoundPrefix) {
		n = n[len(BoundPrefix):]
	}
	return n
}

// IsBound reports whether the declared name carries the "bound " prefix.
func (f *Function) IsBound() bool {
	return strings.HasPrefix(f.name, BoundPrefix)
}

// IsClass reports whether the function is a class.
func (f *Function) IsClass() bool {
	return f.class
}

// SetClass marks the function as a class.
func (f *Function) SetClass() *Function {
	f.class = true
	return f
}

// SourceText returns the engine's canonical stringification of the function.
func (f *Function) SourceText() (string, error) {
	if f.hasSrc {
		return f.source, nil
	}
	if f.origin == nil {
		return "", errors.NewProbeError(errors.ErrorTypeProbeUnavailable, "source-of", nil)
	}
	src, err := f.origin.SourceOf(f)
	if err != nil {
		return "", err
	}
	f.source, f.hasSrc = src, true
	return src, nil
}

// IsNativeSource reports whether the stringification is the distinguished
// native-body marker rather than readable source.
func (f *Function) IsNativeSource() (bool, error) {
	src, err := f.SourceText()
	if err != nil {
		return false, err
	}
	return strings.Contains(src, NativeBodyMarker), nil
}

// BoundInternals returns the bound-function internals. Callers must only
// invoke this when IsBound reports true.
func (f *Function) BoundInternals() (*BoundInternals, error) {
	if !f.IsBound() {
		return nil, errors.NewProbeError(errors.ErrorTypeNotBound, "bound-internals-of", nil)
	}
	if f.bound != nil {
		return f.bound, nil
	}
	if f.origin == nil {
		return nil, errors.NewProbeError(errors.ErrorTypeProbeUnavailable, "bound-internals-of", nil)
	}
	bi, err := f.origin.BoundInternalsOf(f)
	if err != nil {
		return nil, err
	}
	f.bound = bi
	return bi, nil
}

// SetBound records bound internals eagerly. The declared name is given the
// "bound " prefix if it does not carry one already.
func (f *Function) SetBound(bi *BoundInternals) *Function {
	f.bound = bi
	if !f.IsBound() {
		f.name = BoundPrefix + f.name
	}
	return f
}

// Scopes returns the captured lexical scope chain, innermost first.
func (f *Function) Scopes() ([]*Scope, error) {
	if f.hasScopes {
		return f.scopes, nil
	}
	if f.origin == nil {
		return nil, errors.NewProbeError(errors.ErrorTypeScopesMissing, "scopes-of", nil)
	}
	scopes, err := f.origin.ScopesOf(f)
	if err != nil {
		return nil, err
	}
	f.scopes, f.hasScopes = scopes, true
	return scopes, nil
}

// SetScopes records the captured scope chain eagerly, innermost first.
func (f *Function) SetScopes(scopes ...*Scope) *Function {
	f.scopes, f.hasScopes = scopes, true
	return f
}

// Prototype returns the captured `prototype` object, or nil when it is the
// default fresh prototype with only the constructor back-reference.
func (f *Function) Prototype() *Object {
	return f.proto
}

// SetPrototype records a non-trivial `prototype` object.
func (f *Function) SetPrototype(p *Object) *Function {
	f.proto = p
	return f
}

// MetaPrototype returns the function's own prototype when non-default.
func (f *Function) MetaPrototype() Value {
	return f.metaProto
}

// SetMetaPrototype records a non-default own prototype.
func (f *Function) SetMetaPrototype(v Value) *Function {
	f.metaProto = v
	return f
}
