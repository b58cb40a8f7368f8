package graph

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

func serializeExpr(t *testing.T, v jsvalue.Value) (string, *Serializer) {
	t.Helper()
	s := New(Options{})
	expr, err := s.SerializeValue(v)
	require.NoError(t, err)
	return expr, s
}

func TestSerializeValue_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   jsvalue.Value
		want string
	}{
		{"undefined", jsvalue.Undefined{}, "undefined"},
		{"null", jsvalue.Null{}, "null"},
		{"true", jsvalue.Boolean(true), "true"},
		{"false", jsvalue.Boolean(false), "false"},
		{"int", jsvalue.Number(42), "42"},
		{"negative zero", jsvalue.Number(math.Copysign(0, -1)), "-0"},
		{"nan", jsvalue.Number(math.NaN()), "NaN"},
		{"infinity", jsvalue.Number(math.Inf(1)), "Infinity"},
		{"string", jsvalue.String("hi"), `"hi"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, s := serializeExpr(t, tt.in)
			assert.Equal(t, tt.want, expr)
			// Primitives are inlined, never declared.
			assert.Empty(t, s.Module().Preamble())
		})
	}
}

func TestSerializeValue_BigInt(t *testing.T) {
	bi, ok := jsvalue.NewBigInt("12345678901234567890")
	require.True(t, ok)

	expr, _ := serializeExpr(t, bi)
	assert.Equal(t, "12345678901234567890n", expr)
}

func TestSerializeValue_Object(t *testing.T) {
	obj := jsvalue.NewObject().
		Set("a", jsvalue.Number(1)).
		Set("b", jsvalue.String("two"))

	expr, s := serializeExpr(t, obj)
	assert.Equal(t, "v1", expr)
	assert.Equal(t, []string{"var v1 = {};"}, s.Module().Preamble())
	assert.Equal(t, []string{`v1.a = 1;`, `v1.b = "two";`}, s.Module().Postamble())
}

func TestSerializeValue_IdentityDedup(t *testing.T) {
	shared := jsvalue.NewObject().Set("n", jsvalue.Number(1))
	outer := jsvalue.NewObject().
		Set("first", shared).
		Set("second", shared)

	_, s := serializeExpr(t, outer)

	// The shared value is declared exactly once; both references use its
	// identifier.
	declarations := 0
	for _, stmt := range s.Module().Preamble() {
		if strings.HasPrefix(stmt, "var v2 = ") {
			declarations++
		}
	}
	assert.Equal(t, 1, declarations)
	assert.Contains(t, s.Module().Postamble(), "v1.first = v2;")
	assert.Contains(t, s.Module().Postamble(), "v1.second = v2;")
}

func TestSerializeValue_SelfCycle(t *testing.T) {
	obj := jsvalue.NewObject()
	obj.Set("self", obj)

	expr, s := serializeExpr(t, obj)
	assert.Equal(t, "v1", expr)
	assert.Equal(t, []string{"var v1 = {};"}, s.Module().Preamble())
	assert.Equal(t, []string{"v1.self = v1;"}, s.Module().Postamble())
}

func TestSerializeValue_LongerCycle(t *testing.T) {
	a := jsvalue.NewObject()
	b := jsvalue.NewObject()
	a.Set("next", b)
	b.Set("back", a)

	_, s := serializeExpr(t, a)
	assert.Equal(t, []string{"var v1 = {};", "var v2 = {};"}, s.Module().Preamble())
	assert.Equal(t, []string{"v2.back = v1;", "v1.next = v2;"}, s.Module().Postamble())
}

func TestSerializeValue_Array(t *testing.T) {
	arr := jsvalue.NewArray(jsvalue.Number(1), jsvalue.String("two"))

	expr, s := serializeExpr(t, arr)
	assert.Equal(t, "v1", expr)
	assert.Equal(t, []string{"var v1 = [];"}, s.Module().Preamble())
	assert.Equal(t, []string{"v1.push(1);", `v1.push("two");`}, s.Module().Postamble())
}

func TestSerializeValue_ArrayHoles(t *testing.T) {
	arr := jsvalue.NewArray(jsvalue.Number(1))
	arr.PushHole()
	arr.Push(jsvalue.Number(3))
	arr.PushHole()

	_, s := serializeExpr(t, arr)
	assert.Equal(t, []string{
		"v1.push(1);",
		"v1[2] = 3;",
		"v1.length = 4;",
	}, s.Module().Postamble())
}

func TestSerializeValue_ObjectPrototype(t *testing.T) {
	proto := jsvalue.NewObject().Set("greet", jsvalue.String("hello"))
	obj := jsvalue.NewObject().Set("x", jsvalue.Number(1)).SetProto(proto)

	_, s := serializeExpr(t, obj)
	assert.Contains(t, s.Module().Postamble(), "Object.setPrototypeOf(v1, v2);")
}

func TestSerializeValue_NullPrototype(t *testing.T) {
	obj := jsvalue.NewObject().SetProto(jsvalue.Null{})

	_, s := serializeExpr(t, obj)
	assert.Contains(t, s.Module().Postamble(), "Object.setPrototypeOf(v1, null);")
}

func TestSerializeValue_RegExpAndDate(t *testing.T) {
	re := &jsvalue.RegExp{Source: "a+b", Flags: "gi"}
	expr, s := serializeExpr(t, re)
	assert.Equal(t, "v1", expr)
	assert.Equal(t, []string{"var v1 = /a+b/gi;"}, s.Module().Preamble())

	d := &jsvalue.Date{Millis: 1700000000000}
	expr2, s2 := serializeExpr(t, d)
	assert.Equal(t, "v1", expr2)
	assert.Equal(t, []string{"var v1 = new Date(1.7e+12);"}, s2.Module().Preamble())
}

func TestSerializeRoot_SimpleClosure(t *testing.T) {
	scope := jsvalue.NewScope().Bind("x", jsvalue.String("hi"))
	fn := jsvalue.NewFunction("", "() => x").SetScopes(scope)

	s := New(Options{})
	id, err := s.SerializeRoot(fn)
	require.NoError(t, err)

	assert.Equal(t, "v1", id)
	assert.Equal(t, []string{`var v1 = ((x) => (() => x))("hi");`}, s.Module().Preamble())
}

func TestSerializeRoot_FunctionIdentityAcrossNames(t *testing.T) {
	g := jsvalue.NewFunction("g", `function g() { return "hi"; }`).SetScopes()
	scope := jsvalue.NewScope().
		Bind("g", g).
		Bind("b", g)
	root := jsvalue.NewFunction("", "() => [g, g, b]").SetScopes(scope)

	s := New(Options{})
	_, err := s.SerializeRoot(root)
	require.NoError(t, err)

	// Two free names, one declaration: both bind the same identifier.
	preamble := strings.Join(s.Module().Preamble(), "\n")
	assert.Equal(t, 1, strings.Count(preamble, `function g() { return "hi"; }`))
	assert.Contains(t, preamble, "((g, b) => (() => [g, g, b]))(v2, v2)")
}

func TestSerializeRoot_BoundFunction(t *testing.T) {
	target := jsvalue.NewFunction("g", `function g() { return this.v; }`).SetScopes()
	receiver := jsvalue.NewObject().Set("v", jsvalue.String("ok"))
	bound := jsvalue.NewFunction("g", "function g() { [native code] }").
		SetBound(&jsvalue.BoundInternals{Target: target, This: receiver})

	scope := jsvalue.NewScope().Bind("f", bound)
	root := jsvalue.NewFunction("", "() => f()").SetScopes(scope)

	s := New(Options{})
	_, err := s.SerializeRoot(root)
	require.NoError(t, err)

	preamble := strings.Join(s.Module().Preamble(), "\n")
	assert.Contains(t, preamble, ".bind(")
	assert.Contains(t, preamble, `function g() { return this.v; }`)
	assert.Contains(t, strings.Join(s.Module().Postamble(), "\n"), `.v = "ok";`)
}

func TestSerializeRoot_BoundArgs(t *testing.T) {
	target := jsvalue.NewFunction("add", `function add(a, b) { return a + b; }`).SetScopes()
	bound := jsvalue.NewFunction("add", "function add() { [native code] }").
		SetBound(&jsvalue.BoundInternals{
			Target: target,
			This:   jsvalue.Null{},
			Args:   []jsvalue.Value{jsvalue.Number(1)},
		})

	s := New(Options{})
	_, err := s.SerializeRoot(bound)
	require.NoError(t, err)

	assert.Contains(t, strings.Join(s.Module().Preamble(), "\n"), ".bind(null, 1);")
}

func TestSerializeRoot_NativeFunctionRejected(t *testing.T) {
	fn := jsvalue.NewFunction("now", "function now() { [native code] }").SetScopes()

	s := New(Options{})
	_, err := s.SerializeRoot(fn)
	require.Error(t, err)

	var nfe *cserrors.NativeFunctionError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "now", nfe.FunctionName)
}

func TestSerializeRoot_GlobalsReferencedNotCopied(t *testing.T) {
	consoleVal := jsvalue.NewObject()
	table := globals.NewTable()
	table.Add(consoleVal, "console")

	scope := jsvalue.NewScope().Bind("console", consoleVal)
	root := jsvalue.NewFunction("", `() => console.log("x")`).SetScopes(scope)

	s := New(Options{Globals: table})
	_, err := s.SerializeRoot(root)
	require.NoError(t, err)

	// The module declares no variable for console; the body references the
	// global by name.
	assert.Equal(t, []string{`var v1 = (() => console.log("x"));`}, s.Module().Preamble())
	assert.Empty(t, s.Module().Postamble())
}

func TestSerializeRoot_StrictUnresolved(t *testing.T) {
	root := jsvalue.NewFunction("", "() => missing").SetScopes()

	s := New(Options{Strict: true})
	_, err := s.SerializeRoot(root)
	require.Error(t, err)

	var fv *cserrors.FreeVariableError
	require.ErrorAs(t, err, &fv)
	assert.Equal(t, "missing", fv.Name)
}

func TestSerializeRoot_LenientUnresolvedLeavesIdentifier(t *testing.T) {
	root := jsvalue.NewFunction("", "() => missing").SetScopes()

	s := New(Options{})
	_, err := s.SerializeRoot(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"var v1 = (() => missing);"}, s.Module().Preamble())
}

func TestSerializeRoot_ClassInstance(t *testing.T) {
	classSrc := "class A { constructor(x) { this.x = x; } get() { return this.x; } }"
	classA := jsvalue.NewFunction("A", classSrc).SetScopes().SetClass()

	getFn := jsvalue.NewFunction("get", "get() { return this.x; }").SetScopes()
	proto := jsvalue.NewObject().
		Set("constructor", classA).
		Set("get", getFn)
	instance := jsvalue.NewObject().Set("x", jsvalue.String("v")).SetProto(proto)

	scope := jsvalue.NewScope().Bind("a", instance)
	root := jsvalue.NewFunction("", "() => a.get()").SetScopes(scope)

	s := New(Options{})
	_, err := s.SerializeRoot(root)
	require.NoError(t, err)

	text := strings.Join(s.Module().Preamble(), "\n") + "\n" + strings.Join(s.Module().Postamble(), "\n")
	assert.Contains(t, text, classSrc)
	assert.Contains(t, text, "Object.setPrototypeOf(")
	assert.Contains(t, text, ".constructor = ")
}

func TestSerializeRoot_ClassHeritageSubstitution(t *testing.T) {
	classB := jsvalue.NewFunction("B", "class B { }").SetScopes().SetClass()
	classA := jsvalue.NewFunction("A", "class A { constructor(x) { this.x = x; } }").SetScopes().SetClass()

	classC := jsvalue.NewFunction("C", "class C extends A { }").
		SetScopes(jsvalue.NewScope().Bind("A", classA)).
		SetClass().
		SetMetaPrototype(classB)

	s := New(Options{})
	id, err := s.SerializeRoot(classC)
	require.NoError(t, err)

	preamble := strings.Join(s.Module().Preamble(), "\n")
	assert.Contains(t, preamble, "class C extends _super { }")
	assert.Contains(t, preamble, "class B { }")
	assert.Equal(t, "v1", id)
}

func TestSerializeRoot_FunctionMetaPrototype(t *testing.T) {
	protoFn := jsvalue.NewObject().Set("tag", jsvalue.String("meta"))
	fn := jsvalue.NewFunction("f", "function f() { }").
		SetScopes().
		SetMetaPrototype(protoFn)

	s := New(Options{})
	_, err := s.SerializeRoot(fn)
	require.NoError(t, err)

	assert.Contains(t, s.Module().Postamble(), "Object.setPrototypeOf(v1, v2);")
}

func TestSerializeRoot_FunctionPrototypeProperty(t *testing.T) {
	fn := jsvalue.NewFunction("f", "function f() { }").SetScopes()
	proto := jsvalue.NewObject().
		Set("constructor", fn).
		Set("greet", jsvalue.String("hi"))
	fn.SetPrototype(proto)

	s := New(Options{})
	_, err := s.SerializeRoot(fn)
	require.NoError(t, err)

	post := s.Module().Postamble()
	assert.Contains(t, post, "v1.prototype = v2;")
	assert.Contains(t, post, "v2.constructor = v1;")
}

func TestSerializeValue_CyclicPrototypeRejected(t *testing.T) {
	a := jsvalue.NewObject()
	b := jsvalue.NewObject()
	a.SetProto(b)
	b.SetProto(a)

	s := New(Options{})
	_, err := s.SerializeValue(a)
	require.Error(t, err)

	var cpe *cserrors.CyclicPrototypeError
	require.ErrorAs(t, err, &cpe)
}

func TestSerializeValue_PreSerializeReplacesBeforeCacheLookup(t *testing.T) {
	secret := jsvalue.NewObject().Set("token", jsvalue.String("s3cret"))
	redacted := jsvalue.NewObject().Set("token", jsvalue.String("***"))

	s := New(Options{
		PreSerializeValue: func(v jsvalue.Value) jsvalue.Value {
			if v == jsvalue.Value(secret) {
				return redacted
			}
			return v
		},
	})

	outer := jsvalue.NewObject().
		Set("first", secret).
		Set("second", secret)
	_, err := s.SerializeValue(outer)
	require.NoError(t, err)

	post := strings.Join(s.Module().Postamble(), "\n")
	assert.Contains(t, post, `"***"`)
	assert.NotContains(t, post, "s3cret")
	// Both references resolve to the same replacement declaration.
	assert.Contains(t, post, "v1.first = v2;")
	assert.Contains(t, post, "v1.second = v2;")
}

func TestSerializeRoot_DeterministicOutput(t *testing.T) {
	build := func() *jsvalue.Function {
		shared := jsvalue.NewObject().Set("n", jsvalue.Number(1))
		scope := jsvalue.NewScope().
			Bind("a", shared).
			Bind("b", jsvalue.NewArray(jsvalue.Number(1), shared))
		return jsvalue.NewFunction("", "() => [a, b]").SetScopes(scope)
	}

	s1 := New(Options{})
	_, err := s1.SerializeRoot(build())
	require.NoError(t, err)
	s2 := New(Options{})
	_, err = s2.SerializeRoot(build())
	require.NoError(t, err)

	s1.Module().ExportExpr = "v1"
	s2.Module().ExportExpr = "v1"
	assert.Equal(t, s1.Module().Render(), s2.Module().Render())
}
