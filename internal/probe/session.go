package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// objectGroup names the probe's remote handles so they can be released
// together.
const objectGroup = "closure-serializer"

// remoteObject mirrors the inspector's RemoteObject shape.
type remoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

type propertyDescriptor struct {
	Name       string        `json:"name"`
	Value      *remoteObject `json:"value,omitempty"`
	Get        *remoteObject `json:"get,omitempty"`
	Set        *remoteObject `json:"set,omitempty"`
	Enumerable bool          `json:"enumerable"`
	Symbol     *remoteObject `json:"symbol,omitempty"`
}

type internalPropertyDescriptor struct {
	Name  string        `json:"name"`
	Value *remoteObject `json:"value,omitempty"`
}

type getPropertiesResult struct {
	Result             []propertyDescriptor         `json:"result"`
	InternalProperties []internalPropertyDescriptor `json:"internalProperties,omitempty"`
}

type callArgument struct {
	Value    any    `json:"value,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
}

// Session is a live inspector session. It owns the request context - a
// scratch table held in the probe's own object group, distinct from the host
// program's globals, so concurrently-running host code cannot overwrite or
// observe it. A session is not safe to share across concurrent serializer
// calls without external mutual exclusion.
type Session struct {
	t transport

	// mu serializes the probe's compound operations.
	mu sync.Mutex

	scratchID string
	memo      map[string]jsvalue.Value
}

// Dial connects to a V8 inspector websocket endpoint (as printed by
// `node --inspect`) and prepares the request context.
func Dial(ctx context.Context, url string) (*Session, error) {
	t, err := dialWebsocket(ctx, url)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "dial", err)
	}
	s := &Session{t: t, memo: make(map[string]jsvalue.Value)}
	if err := s.init(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return s, nil
}

// newSessionWithTransport wires a session over an injected transport; the
// tests use it with a scripted fake.
func newSessionWithTransport(t transport) (*Session, error) {
	s := &Session{t: t, memo: make(map[string]jsvalue.Value)}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) init() error {
	if _, err := s.t.RoundTrip("Runtime.enable", nil); err != nil {
		return cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "Runtime.enable", err)
	}
	// The scratch table: per-value tags for identity dedup and a keyed slot
	// table for request-scoped values, indexed by monotonically-incrementing
	// string ids.
	ro, err := s.evaluate(`({ table: {}, ids: new WeakMap(), n: 0 })`)
	if err != nil {
		return cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "create request context", err)
	}
	if ro.ObjectID == "" {
		return cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "create request context", fmt.Errorf("no object id"))
	}
	s.scratchID = ro.ObjectID
	debug.LogProbe("request context ready\n")
	return nil
}

// Close releases the probe's remote handles and the connection.
func (s *Session) Close() error {
	_, _ = s.t.RoundTrip("Runtime.releaseObjectGroup", map[string]any{"objectGroup": objectGroup})
	return s.t.Close()
}

func (s *Session) evaluate(expression string) (*remoteObject, error) {
	raw, err := s.t.RoundTrip("Runtime.evaluate", map[string]any{
		"expression":  expression,
		"objectGroup": objectGroup,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Result remoteObject `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

func (s *Session) getProperties(objectID string, ownProperties bool) (*getPropertiesResult, error) {
	raw, err := s.t.RoundTrip("Runtime.getProperties", map[string]any{
		"objectId":      objectID,
		"ownProperties": ownProperties,
	})
	if err != nil {
		return nil, err
	}
	var out getPropertiesResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) callFunctionOn(objectID, declaration string, args []callArgument, returnByValue bool) (*remoteObject, error) {
	raw, err := s.t.RoundTrip("Runtime.callFunctionOn", map[string]any{
		"objectId":            objectID,
		"functionDeclaration": declaration,
		"arguments":           args,
		"returnByValue":       returnByValue,
		"objectGroup":         objectGroup,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Result           remoteObject `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails,omitempty"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("remote evaluation threw: %s", out.ExceptionDetails.Text)
	}
	return &out.Result, nil
}

// tagOf assigns (once) and returns the stable identity tag of a remote
// object, via the scratch table's WeakMap.
func (s *Session) tagOf(objectID string) (string, error) {
	ro, err := s.callFunctionOn(s.scratchID,
		`function(o) { if (!this.ids.has(o)) { this.n += 1; this.ids.set(o, "t" + this.n); } return this.ids.get(o); }`,
		[]callArgument{{ObjectID: objectID}}, true)
	if err != nil {
		return "", err
	}
	var tag string
	if err := json.Unmarshal(ro.Value, &tag); err != nil {
		return "", err
	}
	return tag, nil
}

// FunctionFromExpression evaluates an expression in the host and returns the
// resulting function as a live handle.
func (s *Session) FunctionFromExpression(expression string) (*jsvalue.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ro, err := s.evaluate(expression)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "evaluate", err)
	}
	if ro.Type != "function" {
		return nil, fmt.Errorf("expression %q evaluated to %s, not a function", expression, ro.Type)
	}
	v, err := s.materialize(ro)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*jsvalue.Function)
	if !ok {
		return nil, fmt.Errorf("expression %q did not materialize as a function", expression)
	}
	return fn, nil
}

// GlobalsTable resolves each name in the host's global scope and builds the
// identity-keyed whitelist from the values found there.
func (s *Session) GlobalsTable(names []string) (*globals.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := globals.NewTable()
	for _, name := range names {
		ro, err := s.evaluate(name)
		if err != nil || ro.ObjectID == "" {
			// Not defined in this host, or a primitive; nothing to whitelist.
			continue
		}
		v, err := s.materialize(ro)
		if err != nil {
			return nil, err
		}
		table.Add(v, name)
	}
	return table, nil
}

// SourceOf returns the engine's canonical stringification of the function.
func (s *Session) SourceOf(fn *jsvalue.Function) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objectID, ok := fn.Handle.(string)
	if !ok {
		return "", cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "source-of", fmt.Errorf("no remote handle"))
	}
	ro, err := s.callFunctionOn(objectID,
		`function() { return Function.prototype.toString.call(this); }`, nil, true)
	if err != nil {
		return "", cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "source-of", err)
	}
	var src string
	if err := json.Unmarshal(ro.Value, &src); err != nil {
		return "", cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "source-of", err)
	}
	return src, nil
}

// BoundInternalsOf returns the wrapped target and captured receiver/args of
// a bound function. Callers must only invoke it when the declared name
// begins with "bound ".
func (s *Session) BoundInternalsOf(fn *jsvalue.Function) (*jsvalue.BoundInternals, error) {
	if !fn.IsBound() {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeNotBound, "bound-internals-of", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	objectID, ok := fn.Handle.(string)
	if !ok {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "bound-internals-of", fmt.Errorf("no remote handle"))
	}
	props, err := s.getProperties(objectID, true)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "bound-internals-of", err)
	}

	bi := &jsvalue.BoundInternals{This: jsvalue.Undefined{}}
	for _, ip := range props.InternalProperties {
		if ip.Value == nil {
			continue
		}
		switch ip.Name {
		case "[[TargetFunction]]":
			if bi.Target, err = s.materialize(ip.Value); err != nil {
				return nil, err
			}
		case "[[BoundThis]]":
			if bi.This, err = s.materialize(ip.Value); err != nil {
				return nil, err
			}
		case "[[BoundArgs]]":
			v, err := s.materialize(ip.Value)
			if err != nil {
				return nil, err
			}
			if arr, ok := v.(*jsvalue.Array); ok {
				for i := 0; i < arr.Len(); i++ {
					bi.Args = append(bi.Args, arr.Elem(i))
				}
			}
		}
	}
	if bi.Target == nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeNotBound, "bound-internals-of", fmt.Errorf("no [[TargetFunction]]"))
	}
	return bi, nil
}

// ScopesOf returns the function's lexical scope chain, innermost first.
func (s *Session) ScopesOf(fn *jsvalue.Function) ([]*jsvalue.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objectID, ok := fn.Handle.(string)
	if !ok {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeScopesMissing, "scopes-of", fmt.Errorf("no remote handle"))
	}
	props, err := s.getProperties(objectID, true)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeScopesMissing, "scopes-of", err)
	}

	var scopesObj *remoteObject
	for _, ip := range props.InternalProperties {
		if ip.Name == "[[Scopes]]" && ip.Value != nil {
			scopesObj = ip.Value
			break
		}
	}
	if scopesObj == nil || scopesObj.ObjectID == "" {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeScopesMissing, "scopes-of", fmt.Errorf("no [[Scopes]]"))
	}

	list, err := s.getProperties(scopesObj.ObjectID, true)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeScopesMissing, "scopes-of", err)
	}

	var scopes []*jsvalue.Scope
	for _, pd := range list.Result {
		if pd.Value == nil || pd.Value.ObjectID == "" || !pd.Enumerable {
			continue
		}
		bindings, err := s.getProperties(pd.Value.ObjectID, true)
		if err != nil {
			return nil, cserrors.NewProbeError(cserrors.ErrorTypeScopesMissing, "scopes-of", err)
		}
		scope := jsvalue.NewScope()
		for _, b := range bindings.Result {
			if b.Value == nil || b.Symbol != nil {
				continue
			}
			v, err := s.materialize(b.Value)
			if err != nil {
				return nil, err
			}
			scope.Bind(b.Name, v)
		}
		scopes = append(scopes, scope)
	}
	debug.LogProbe("scopes-of %q: %d frames\n", fn.Name(), len(scopes))
	return scopes, nil
}
