package probe

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine is a scripted inspector backend: objects are registered by id
// and the scripted responses mirror the wire shapes a V8 endpoint produces.
type fakeEngine struct {
	evals     map[string]remoteObject
	sources   map[string]string
	names     map[string]string
	tags      map[string]string
	props     map[string][]propertyDescriptor
	internals map[string][]internalPropertyDescriptor
	shapes    map[string]string
	protoKind map[string]string

	calls []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		evals:     map[string]remoteObject{`({ table: {}, ids: new WeakMap(), n: 0 })`: {Type: "object", ObjectID: "scratch"}},
		sources:   map[string]string{},
		names:     map[string]string{},
		tags:      map[string]string{},
		props:     map[string][]propertyDescriptor{},
		internals: map[string][]internalPropertyDescriptor{},
		shapes:    map[string]string{},
		protoKind: map[string]string{},
	}
}

type fakeCall struct {
	ObjectID            string         `json:"objectId"`
	Expression          string         `json:"expression"`
	FunctionDeclaration string         `json:"functionDeclaration"`
	Arguments           []callArgument `json:"arguments"`
}

func (f *fakeEngine) RoundTrip(method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var call fakeCall
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &call); err != nil {
			return nil, err
		}
	}

	switch method {
	case "Runtime.enable", "Runtime.releaseObjectGroup":
		return json.RawMessage(`{}`), nil
	case "Runtime.evaluate":
		ro, ok := f.evals[call.Expression]
		if !ok {
			return nil, fmt.Errorf("unexpected evaluate %q", call.Expression)
		}
		return wrapResult(ro)
	case "Runtime.getProperties":
		out := getPropertiesResult{
			Result:             f.props[call.ObjectID],
			InternalProperties: f.internals[call.ObjectID],
		}
		b, err := json.Marshal(out)
		return b, err
	case "Runtime.callFunctionOn":
		return f.callFunction(call)
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (f *fakeEngine) callFunction(call fakeCall) (json.RawMessage, error) {
	decl := call.FunctionDeclaration
	switch {
	case strings.Contains(decl, "this.ids.has"):
		target := call.Arguments[0].ObjectID
		tag, ok := f.tags[target]
		if !ok {
			tag = "t-" + target
			f.tags[target] = tag
		}
		return wrapValue(tag)
	case strings.Contains(decl, "defaultMeta"):
		shape, ok := f.shapes[call.ObjectID]
		if !ok {
			shape = `{"defaultMeta":true,"trivialProto":true,"isClass":false}`
		}
		return json.RawMessage(`{"result":{"type":"object","value":` + shape + `}}`), nil
	case strings.Contains(decl, "Function.prototype.toString"):
		return wrapValue(f.sources[call.ObjectID])
	case strings.Contains(decl, "return this.name"):
		return wrapValue(f.names[call.ObjectID])
	case strings.Contains(decl, "Object.prototype"):
		kind, ok := f.protoKind[call.ObjectID]
		if !ok {
			kind = "default"
		}
		return wrapValue(kind)
	}
	return nil, fmt.Errorf("unexpected callFunctionOn %q", decl)
}

func wrapResult(ro remoteObject) (json.RawMessage, error) {
	b, err := json.Marshal(struct {
		Result remoteObject `json:"result"`
	}{ro})
	return b, err
}

func wrapValue(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"result":{"type":"string","value":` + string(b) + `}}`), nil
}

func (f *fakeEngine) Close() error { return nil }

func newTestSession(t *testing.T, engine *fakeEngine) *Session {
	t.Helper()
	s, err := newSessionWithTransport(engine)
	require.NoError(t, err)
	return s
}

func TestSession_InitCreatesRequestContext(t *testing.T) {
	engine := newFakeEngine()
	s := newTestSession(t, engine)

	assert.Equal(t, "scratch", s.scratchID)
	assert.Equal(t, []string{"Runtime.enable", "Runtime.evaluate"}, engine.calls[:2])
}

func TestSession_SourceOf(t *testing.T) {
	engine := newFakeEngine()
	engine.sources["fn-1"] = "() => x"
	s := newTestSession(t, engine)

	fn := jsvalue.NewRemoteFunction("", s, "fn-1")
	src, err := s.SourceOf(fn)
	require.NoError(t, err)
	assert.Equal(t, "() => x", src)
}

func TestSession_BoundInternalsRequiresBoundName(t *testing.T) {
	engine := newFakeEngine()
	s := newTestSession(t, engine)

	fn := jsvalue.NewRemoteFunction("plain", s, "fn-1")
	_, err := s.BoundInternalsOf(fn)
	require.Error(t, err)

	var pe *cserrors.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, cserrors.ErrorTypeNotBound, pe.Type)
	assert.False(t, pe.IsFatal())
}

func TestSession_BoundInternals(t *testing.T) {
	engine := newFakeEngine()
	engine.sources["target-1"] = "function g() { return this.v; }"
	engine.names["target-1"] = "g"
	engine.internals["bound-1"] = []internalPropertyDescriptor{
		{Name: "[[TargetFunction]]", Value: &remoteObject{Type: "function", ObjectID: "target-1"}},
		{Name: "[[BoundThis]]", Value: &remoteObject{Type: "string", Value: json.RawMessage(`"receiver"`)}},
	}
	s := newTestSession(t, engine)

	fn := jsvalue.NewRemoteFunction("bound g", s, "bound-1")
	bi, err := s.BoundInternalsOf(fn)
	require.NoError(t, err)

	target, ok := bi.Target.(*jsvalue.Function)
	require.True(t, ok)
	assert.Equal(t, "g", target.Name())
	assert.Equal(t, jsvalue.String("receiver"), bi.This)
}

func TestSession_ScopesOf(t *testing.T) {
	engine := newFakeEngine()
	engine.internals["fn-1"] = []internalPropertyDescriptor{
		{Name: "[[Scopes]]", Value: &remoteObject{Type: "object", ObjectID: "scopes-1"}},
	}
	engine.props["scopes-1"] = []propertyDescriptor{
		{Name: "0", Enumerable: true, Value: &remoteObject{Type: "object", ObjectID: "scope-0"}},
	}
	engine.props["scope-0"] = []propertyDescriptor{
		{Name: "x", Enumerable: true, Value: &remoteObject{Type: "string", Value: json.RawMessage(`"hi"`)}},
	}
	s := newTestSession(t, engine)

	fn := jsvalue.NewRemoteFunction("", s, "fn-1")
	scopes, err := s.ScopesOf(fn)
	require.NoError(t, err)

	require.Len(t, scopes, 1)
	v, ok := scopes[0].Lookup("x")
	require.True(t, ok)
	assert.Equal(t, jsvalue.String("hi"), v)
}

func TestSession_ScopesMissingIsFatal(t *testing.T) {
	engine := newFakeEngine()
	s := newTestSession(t, engine)

	fn := jsvalue.NewRemoteFunction("", s, "fn-1")
	_, err := s.ScopesOf(fn)
	require.Error(t, err)

	var pe *cserrors.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, cserrors.ErrorTypeScopesMissing, pe.Type)
	assert.True(t, pe.IsFatal())
}

func TestSession_MaterializePreservesIdentity(t *testing.T) {
	engine := newFakeEngine()
	engine.props["obj-1"] = []propertyDescriptor{
		{Name: "n", Enumerable: true, Value: &remoteObject{Type: "number", Value: json.RawMessage(`1`)}},
	}
	// Two remote references to the same live object share a tag.
	engine.tags["obj-1"] = "shared"
	engine.tags["obj-1-alias"] = "shared"
	s := newTestSession(t, engine)

	first, err := s.materialize(&remoteObject{Type: "object", ObjectID: "obj-1"})
	require.NoError(t, err)
	second, err := s.materialize(&remoteObject{Type: "object", ObjectID: "obj-1-alias"})
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestSession_MaterializePrimitives(t *testing.T) {
	engine := newFakeEngine()
	s := newTestSession(t, engine)

	v, err := s.materialize(&remoteObject{Type: "number", UnserializableValue: "-0"})
	require.NoError(t, err)
	require.Equal(t, jsvalue.KindNumber, v.Kind())

	v, err = s.materialize(&remoteObject{Type: "bigint", UnserializableValue: "42n"})
	require.NoError(t, err)
	assert.Equal(t, jsvalue.KindBigInt, v.Kind())

	v, err = s.materialize(&remoteObject{Type: "object", Subtype: "null"})
	require.NoError(t, err)
	assert.Equal(t, jsvalue.KindNull, v.Kind())

	v, err = s.materialize(&remoteObject{Type: "object", Subtype: "regexp", Description: "/a+/gi"})
	require.NoError(t, err)
	re, ok := v.(*jsvalue.RegExp)
	require.True(t, ok)
	assert.Equal(t, "a+", re.Source)
	assert.Equal(t, "gi", re.Flags)
}

func TestSession_MaterializeUnsupportedSubtype(t *testing.T) {
	engine := newFakeEngine()
	s := newTestSession(t, engine)

	_, err := s.materialize(&remoteObject{Type: "object", Subtype: "map", ObjectID: "map-1"})
	require.Error(t, err)
}
