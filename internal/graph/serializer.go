// Package graph walks the object graph reachable from a function's free
// variables and emits deduplicated, topologically-valid statements that
// rebuild it. Identifier allocation and empty-shell emission precede the walk
// over a value's own properties, so a value that reaches itself transitively
// resolves to its already-cached identifier; the preamble/postamble split is
// what makes cyclic graphs serializable.
package graph

import (
	"fmt"
	"strings"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	"github.com/functionless/nodejs-closure-serializer/internal/emit"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/freevars"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/jsparser"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// Transform is a user-supplied AST rewrite: it inspects the parsed function
// and queues span edits against its text.
type Transform func(*jsparser.ParsedFunction, *jsparser.EditList) error

// Options configure one serializer call.
type Options struct {
	// Resolver resolves free names to live values (probe scope chain or
	// closure registry).
	Resolver freevars.Resolver

	// Globals is the identity-keyed whitelist of host built-ins.
	Globals *globals.Table

	// PreProcess transforms run before free-variable analysis; PostProcess
	// transforms run after analysis, before emission.
	PreProcess  []Transform
	PostProcess []Transform

	// PreSerializeValue replaces a value before any cache lookup; the
	// replacement is used for this and all further references.
	PreSerializeValue func(jsvalue.Value) jsvalue.Value

	// Strict makes an unresolved free variable fatal.
	Strict bool
}

// Serializer converts live values into statements appended to its module.
// The value cache and name counter live for one serialize call.
type Serializer struct {
	opts     Options
	module   *emit.Module
	alloc    *emit.NameAllocator
	cache    map[jsvalue.Value]string
	replaced map[jsvalue.Value]jsvalue.Value
	path     []string
}

// New creates a serializer emitting into a fresh module.
func New(opts Options) *Serializer {
	if opts.Resolver == nil {
		opts.Resolver = freevars.ScopeChainResolver{}
	}
	if opts.Globals == nil {
		opts.Globals = globals.NewTable()
	}
	return &Serializer{
		opts:     opts,
		module:   emit.NewModule(),
		alloc:    emit.NewNameAllocator(),
		cache:    make(map[jsvalue.Value]string),
		replaced: make(map[jsvalue.Value]jsvalue.Value),
	}
}

// Module returns the module being emitted.
func (s *Serializer) Module() *emit.Module {
	return s.module
}

// SerializeRoot serializes the root function and returns its identifier.
func (s *Serializer) SerializeRoot(fn *jsvalue.Function) (string, error) {
	return s.serializeFunction(fn)
}

// SerializeValue converts a live value into an expression that denotes the
// same value once the module's declarations have run.
func (s *Serializer) SerializeValue(v jsvalue.Value) (string, error) {
	return s.serializeValue(v)
}

func (s *Serializer) serializeValue(v jsvalue.Value) (string, error) {
	v = s.preSerialize(v)

	if v == nil {
		return "undefined", nil
	}

	// Whitelisted host built-ins are referenced by their global identifier,
	// decided by identity.
	if name, ok := s.opts.Globals.NameOf(v); ok {
		return name, nil
	}

	switch val := v.(type) {
	case jsvalue.Undefined:
		return "undefined", nil
	case jsvalue.Null:
		return "null", nil
	case jsvalue.Boolean:
		if val {
			return "true", nil
		}
		return "false", nil
	case jsvalue.Number:
		return emit.FormatNumber(float64(val)), nil
	case jsvalue.String:
		return emit.QuoteString(string(val)), nil
	case jsvalue.BigInt:
		if val.Int == nil {
			return "0n", nil
		}
		return val.Int.String() + "n", nil
	case *jsvalue.RegExp:
		return s.serializeRegExp(val)
	case *jsvalue.Date:
		return s.serializeDate(val)
	case *jsvalue.Object:
		return s.serializeObject(val)
	case *jsvalue.Array:
		return s.serializeArray(val)
	case *jsvalue.Function:
		return s.serializeFunction(val)
	}

	return "", s.wrap(fmt.Errorf("unsupported value kind %d", v.Kind()))
}

// preSerialize applies the PreSerializeValue hook before any cache lookup.
// The replacement is memoized so further references observe the same value.
func (s *Serializer) preSerialize(v jsvalue.Value) jsvalue.Value {
	if s.opts.PreSerializeValue == nil || v == nil {
		return v
	}
	switch v.Kind() {
	case jsvalue.KindObject, jsvalue.KindArray, jsvalue.KindFunction, jsvalue.KindRegExp, jsvalue.KindDate:
		if r, ok := s.replaced[v]; ok {
			return r
		}
		r := s.opts.PreSerializeValue(v)
		if r == nil {
			r = jsvalue.Undefined{}
		}
		s.replaced[v] = r
		return r
	default:
		return s.opts.PreSerializeValue(v)
	}
}

func (s *Serializer) serializeRegExp(re *jsvalue.RegExp) (string, error) {
	if id, ok := s.cache[re]; ok {
		return id, nil
	}
	id := s.alloc.Next(emit.PrefixValue)
	s.cache[re] = id
	s.module.AddPreamble(fmt.Sprintf("var %s = /%s/%s;", id, re.Source, re.Flags))
	return id, nil
}

func (s *Serializer) serializeDate(d *jsvalue.Date) (string, error) {
	if id, ok := s.cache[d]; ok {
		return id, nil
	}
	id := s.alloc.Next(emit.PrefixValue)
	s.cache[d] = id
	s.module.AddPreamble(fmt.Sprintf("var %s = new Date(%s);", id, emit.FormatNumber(d.Millis)))
	return id, nil
}

func (s *Serializer) serializeObject(o *jsvalue.Object) (string, error) {
	if id, ok := s.cache[o]; ok {
		return id, nil
	}
	id := s.alloc.Next(emit.PrefixValue)
	s.cache[o] = id
	s.module.AddPreamble(fmt.Sprintf("var %s = {};", id))
	debug.LogGraph("object %s at %s\n", id, s.pathString())

	for _, prop := range o.Properties() {
		s.path = append(s.path, prop.Key)
		expr, err := s.serializeValue(prop.Value)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(emit.PropertyRef(id, prop.Key) + " = " + expr + ";")
	}

	if proto := o.Proto(); proto != nil {
		if err := s.checkPrototypeChain(o); err != nil {
			return "", err
		}
		s.path = append(s.path, "[[Prototype]]")
		expr, err := s.serializeValue(proto)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(fmt.Sprintf("Object.setPrototypeOf(%s, %s);", id, expr))
	}
	return id, nil
}

func (s *Serializer) serializeArray(a *jsvalue.Array) (string, error) {
	if id, ok := s.cache[a]; ok {
		return id, nil
	}
	id := s.alloc.Next(emit.PrefixValue)
	s.cache[a] = id
	s.module.AddPreamble(fmt.Sprintf("var %s = [];", id))

	holeSeen := false
	for i := 0; i < a.Len(); i++ {
		el := a.Elem(i)
		if el == nil {
			holeSeen = true
			continue
		}
		s.path = append(s.path, fmt.Sprintf("[%d]", i))
		expr, err := s.serializeValue(el)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		if holeSeen {
			s.module.AddPostamble(fmt.Sprintf("%s[%d] = %s;", id, i, expr))
		} else {
			s.module.AddPostamble(fmt.Sprintf("%s.push(%s);", id, expr))
		}
	}
	if holeSeen {
		s.module.AddPostamble(fmt.Sprintf("%s.length = %d;", id, a.Len()))
	}

	for _, prop := range a.Extras() {
		s.path = append(s.path, prop.Key)
		expr, err := s.serializeValue(prop.Value)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(emit.PropertyRef(id, prop.Key) + " = " + expr + ";")
	}

	if proto := a.Proto(); proto != nil {
		s.path = append(s.path, "[[Prototype]]")
		expr, err := s.serializeValue(proto)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(fmt.Sprintf("Object.setPrototypeOf(%s, %s);", id, expr))
	}
	return id, nil
}

func (s *Serializer) pathString() string {
	if len(s.path) == 0 {
		return "<root>"
	}
	return strings.Join(s.path, ".")
}

// wrap annotates an error with the current function name and value path.
func (s *Serializer) wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, already := err.(*cserrors.SerializeError); already {
		return err
	}
	path := make([]string, len(s.path))
	copy(path, s.path)
	return cserrors.NewSerializeError("", path, err)
}

// checkPrototypeChain fails with CyclicPrototype if following the captured
// prototype links from v ever revisits a value.
func (s *Serializer) checkPrototypeChain(v jsvalue.Value) error {
	seen := map[jsvalue.Value]struct{}{}
	cur := v
	for cur != nil {
		if _, dup := seen[cur]; dup {
			return cserrors.NewCyclicPrototypeError(append(s.path[:len(s.path):len(s.path)], "[[Prototype]]"))
		}
		seen[cur] = struct{}{}
		switch c := cur.(type) {
		case *jsvalue.Object:
			cur = c.Proto()
		case *jsvalue.Array:
			cur = c.Proto()
		case *jsvalue.Function:
			cur = c.MetaPrototype()
		default:
			cur = nil
		}
	}
	return nil
}
