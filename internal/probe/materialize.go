package probe

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// materialize converts a remote object into the value model. Remote objects
// are tagged through the scratch table so two references to the same live
// value materialize as the same Go value; that is what identity dedup and
// cycle handling in the graph serializer key on.
func (s *Session) materialize(ro *remoteObject) (jsvalue.Value, error) {
	switch ro.Type {
	case "undefined":
		return jsvalue.Undefined{}, nil
	case "boolean":
		var b bool
		if err := json.Unmarshal(ro.Value, &b); err != nil {
			return nil, err
		}
		return jsvalue.Boolean(b), nil
	case "string":
		var str string
		if err := json.Unmarshal(ro.Value, &str); err != nil {
			return nil, err
		}
		return jsvalue.String(str), nil
	case "number":
		return materializeNumber(ro)
	case "bigint":
		bi, ok := jsvalue.NewBigInt(ro.UnserializableValue)
		if !ok {
			return nil, fmt.Errorf("malformed bigint %q", ro.UnserializableValue)
		}
		return bi, nil
	case "function":
		return s.materializeFunction(ro)
	case "object":
		switch ro.Subtype {
		case "null":
			return jsvalue.Null{}, nil
		case "array":
			return s.materializeArray(ro)
		case "regexp":
			return materializeRegExp(ro)
		case "date":
			return s.materializeDate(ro)
		case "":
			return s.materializeObject(ro)
		default:
			return nil, fmt.Errorf("unsupported built-in subtype %q", ro.Subtype)
		}
	}
	return nil, fmt.Errorf("unsupported remote value type %q", ro.Type)
}

func materializeNumber(ro *remoteObject) (jsvalue.Value, error) {
	switch ro.UnserializableValue {
	case "-0":
		return jsvalue.Number(math.Copysign(0, -1)), nil
	case "NaN":
		return jsvalue.Number(math.NaN()), nil
	case "Infinity":
		return jsvalue.Number(math.Inf(1)), nil
	case "-Infinity":
		return jsvalue.Number(math.Inf(-1)), nil
	}
	var f float64
	if err := json.Unmarshal(ro.Value, &f); err != nil {
		return nil, err
	}
	return jsvalue.Number(f), nil
}

func materializeRegExp(ro *remoteObject) (jsvalue.Value, error) {
	desc := ro.Description
	last := strings.LastIndex(desc, "/")
	if !strings.HasPrefix(desc, "/") || last <= 0 {
		return nil, fmt.Errorf("malformed regexp description %q", desc)
	}
	return &jsvalue.RegExp{Source: desc[1:last], Flags: desc[last+1:]}, nil
}

func (s *Session) materializeDate(ro *remoteObject) (jsvalue.Value, error) {
	out, err := s.callFunctionOn(ro.ObjectID, `function() { return this.getTime(); }`, nil, true)
	if err != nil {
		return nil, err
	}
	var ms float64
	if err := json.Unmarshal(out.Value, &ms); err != nil {
		return nil, err
	}
	return &jsvalue.Date{Millis: ms}, nil
}

func (s *Session) materializeObject(ro *remoteObject) (jsvalue.Value, error) {
	tag, err := s.tagOf(ro.ObjectID)
	if err != nil {
		return nil, err
	}
	if v, ok := s.memo[tag]; ok {
		return v, nil
	}

	obj := jsvalue.NewObject()
	// Memoized before the property walk so cyclic graphs terminate.
	s.memo[tag] = obj

	props, err := s.getProperties(ro.ObjectID, true)
	if err != nil {
		return nil, err
	}
	for _, pd := range props.Result {
		if !pd.Enumerable || pd.Symbol != nil || pd.Value == nil {
			continue
		}
		v, err := s.materialize(pd.Value)
		if err != nil {
			return nil, err
		}
		obj.Set(pd.Name, v)
	}

	proto, err := s.nonDefaultProto(ro.ObjectID)
	if err != nil {
		return nil, err
	}
	if proto != nil {
		obj.SetProto(proto)
	}
	return obj, nil
}

func (s *Session) materializeArray(ro *remoteObject) (jsvalue.Value, error) {
	tag, err := s.tagOf(ro.ObjectID)
	if err != nil {
		return nil, err
	}
	if v, ok := s.memo[tag]; ok {
		return v, nil
	}

	arr := jsvalue.NewArray()
	s.memo[tag] = arr

	props, err := s.getProperties(ro.ObjectID, true)
	if err != nil {
		return nil, err
	}

	length := 0
	byIndex := make(map[int]jsvalue.Value)
	type extra struct {
		key string
		val jsvalue.Value
	}
	var extras []extra
	for _, pd := range props.Result {
		if pd.Symbol != nil || pd.Value == nil {
			continue
		}
		if pd.Name == "length" {
			var f float64
			if json.Unmarshal(pd.Value.Value, &f) == nil {
				length = int(f)
			}
			continue
		}
		if !pd.Enumerable {
			continue
		}
		if idx, err := strconv.Atoi(pd.Name); err == nil && idx >= 0 {
			v, err := s.materialize(pd.Value)
			if err != nil {
				return nil, err
			}
			byIndex[idx] = v
			continue
		}
		v, err := s.materialize(pd.Value)
		if err != nil {
			return nil, err
		}
		extras = append(extras, extra{key: pd.Name, val: v})
	}

	for i := 0; i < length; i++ {
		if v, ok := byIndex[i]; ok {
			arr.Push(v)
		} else {
			arr.PushHole()
		}
	}
	for _, e := range extras {
		arr.SetExtra(e.key, e.val)
	}

	proto, err := s.nonDefaultProto(ro.ObjectID)
	if err != nil {
		return nil, err
	}
	if proto != nil {
		arr.SetProto(proto)
	}
	return arr, nil
}

func (s *Session) materializeFunction(ro *remoteObject) (jsvalue.Value, error) {
	tag, err := s.tagOf(ro.ObjectID)
	if err != nil {
		return nil, err
	}
	if v, ok := s.memo[tag]; ok {
		return v, nil
	}

	nameObj, err := s.callFunctionOn(ro.ObjectID, `function() { return this.name; }`, nil, true)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "function name", err)
	}
	var name string
	_ = json.Unmarshal(nameObj.Value, &name)

	fn := jsvalue.NewRemoteFunction(name, s, ro.ObjectID)
	s.memo[tag] = fn

	shapeObj, err := s.callFunctionOn(ro.ObjectID, `function() {
		var src = Function.prototype.toString.call(this);
		var p = this.prototype;
		var ks = p ? Object.getOwnPropertyNames(p) : [];
		return {
			defaultMeta: Object.getPrototypeOf(this) === Function.prototype,
			trivialProto: !p || (ks.length === 1 && ks[0] === "constructor" && p.constructor === this),
			isClass: src.slice(0, 5) === "class"
		};
	}`, nil, true)
	if err != nil {
		return nil, cserrors.NewProbeError(cserrors.ErrorTypeProbeUnavailable, "function shape", err)
	}
	var shape struct {
		DefaultMeta  bool `json:"defaultMeta"`
		TrivialProto bool `json:"trivialProto"`
		IsClass      bool `json:"isClass"`
	}
	if err := json.Unmarshal(shapeObj.Value, &shape); err != nil {
		return nil, err
	}
	if shape.IsClass {
		fn.SetClass()
	}

	if !shape.DefaultMeta {
		mpObj, err := s.callFunctionOn(ro.ObjectID, `function() { return Object.getPrototypeOf(this); }`, nil, false)
		if err != nil {
			return nil, err
		}
		mp, err := s.materialize(mpObj)
		if err != nil {
			return nil, err
		}
		fn.SetMetaPrototype(mp)
	}

	if !shape.TrivialProto {
		pObj, err := s.callFunctionOn(ro.ObjectID, `function() { return this.prototype; }`, nil, false)
		if err != nil {
			return nil, err
		}
		p, err := s.materialize(pObj)
		if err != nil {
			return nil, err
		}
		if po, ok := p.(*jsvalue.Object); ok {
			fn.SetPrototype(po)
		}
	}

	return fn, nil
}

// nonDefaultProto returns the materialized prototype of an object when it is
// neither the object-root nor the array-root prototype; nil otherwise. A
// null prototype materializes as the Null value.
func (s *Session) nonDefaultProto(objectID string) (jsvalue.Value, error) {
	kindObj, err := s.callFunctionOn(objectID, `function() {
		var p = Object.getPrototypeOf(this);
		if (p === null) return "null";
		if (p === Object.prototype || p === Array.prototype) return "default";
		return "custom";
	}`, nil, true)
	if err != nil {
		return nil, err
	}
	var kind string
	if err := json.Unmarshal(kindObj.Value, &kind); err != nil {
		return nil, err
	}
	switch kind {
	case "null":
		return jsvalue.Null{}, nil
	case "custom":
		pObj, err := s.callFunctionOn(objectID, `function() { return Object.getPrototypeOf(this); }`, nil, false)
		if err != nil {
			return nil, err
		}
		return s.materialize(pObj)
	}
	return nil, nil
}
