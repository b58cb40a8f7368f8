package graph

import (
	"fmt"
	"strings"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	"github.com/functionless/nodejs-closure-serializer/internal/emit"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/freevars"
	"github.com/functionless/nodejs-closure-serializer/internal/jsparser"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// serializeFunction emits a function or class and returns its identifier.
// Bound functions are never serialized directly: the serializer unwraps to
// the target and re-applies bind with the serialized receiver and arguments.
func (s *Serializer) serializeFunction(fn *jsvalue.Function) (string, error) {
	if id, ok := s.cache[fn]; ok {
		return id, nil
	}

	if fn.IsBound() {
		return s.serializeBoundFunction(fn)
	}

	src, err := fn.SourceText()
	if err != nil {
		return "", s.wrap(err)
	}
	if native, _ := fn.IsNativeSource(); native {
		return "", s.wrap(cserrors.NewNativeFunctionError(fn.Name()))
	}

	pf, err := jsparser.ParseFunction(src)
	if err != nil {
		return "", s.wrap(err)
	}

	pf, err = s.applyTransforms(pf, s.opts.PreProcess, "preProcess")
	if err != nil {
		return "", s.wrap(err)
	}

	analysis, err := freevars.Analyze(pf, fn, s.opts.Resolver, s.opts.Globals)
	if err != nil {
		return "", s.wrap(err)
	}
	if len(analysis.Unresolved) > 0 {
		name := analysis.Unresolved[0]
		fvErr := cserrors.NewFreeVariableError(name)
		if suggestion, ok := freevars.NearestName(name, freevars.VisibleNames(fn)); ok {
			fvErr = fvErr.WithSuggestion(suggestion)
		}
		if s.opts.Strict {
			return "", s.wrap(fvErr)
		}
		debug.LogAnalyze("%v (left in place)\n", fvErr)
	}

	// The identifier is allocated and cached before the free values are
	// walked, so a function reachable from its own captures resolves to it.
	s.alloc.ExcludeSet(analysis.Identifiers)
	for _, fv := range analysis.Free {
		s.alloc.Exclude(fv.Name)
	}
	id := s.alloc.Next(emit.PrefixValue)
	s.cache[fn] = id
	debug.LogGraph("function %s (%q) at %s, %d free\n", id, fn.Name(), s.pathString(), len(analysis.Free))

	closure := &emit.Closure{}
	for _, fv := range analysis.Free {
		s.path = append(s.path, fv.Name)
		expr, err := s.serializeValue(fv.Value)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		closure.FreeNames = append(closure.FreeNames, fv.Name)
		closure.FreeArgs = append(closure.FreeArgs, expr)
	}

	edits := &jsparser.EditList{}

	// A class whose meta-prototype was altered has its heritage clause's
	// extend target substituted with the _super parameter.
	if mp := fn.MetaPrototype(); mp != nil && pf.IsClass() {
		if err := s.checkPrototypeChain(fn); err != nil {
			return "", err
		}
		s.path = append(s.path, "[[Prototype]]")
		superExpr, err := s.serializeValue(mp)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		if _, span, ok := pf.HeritageIdentifier(); ok {
			superName := s.alloc.NextTail(emit.PrefixSuper)
			edits.Replace(span.Start, span.End, superName)
			closure.SuperParam = superName
			closure.SuperArg = superExpr
		} else {
			// No bare-identifier heritage to substitute; fix the static
			// side after declaration instead.
			s.module.AddPostamble(fmt.Sprintf("Object.setPrototypeOf(%s, %s);", id, superExpr))
		}
	}

	pfPost, err := s.applyTransformEdits(pf, s.opts.PostProcess, edits)
	if err != nil {
		return "", s.wrap(err)
	}

	fnExpr, err := pfPost.ExpressionText(edits)
	if err != nil {
		return "", s.wrap(err)
	}
	closure.FunctionExpr = fnExpr

	s.module.AddPreamble(fmt.Sprintf("var %s = %s;", id, closure.Expr()))

	// The function's prototype object, when captured as non-trivial, is
	// re-attached with its constructor back-reference; the cycle resolves
	// through the two-phase emission.
	if proto := fn.Prototype(); proto != nil {
		s.path = append(s.path, "prototype")
		protoExpr, err := s.serializeValue(proto)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(fmt.Sprintf("%s.prototype = %s;", id, protoExpr))
	}

	// A non-class function with an altered own prototype gets an explicit
	// set-prototype call.
	if mp := fn.MetaPrototype(); mp != nil && !pf.IsClass() {
		if err := s.checkPrototypeChain(fn); err != nil {
			return "", err
		}
		s.path = append(s.path, "[[Prototype]]")
		mpExpr, err := s.serializeValue(mp)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		s.module.AddPostamble(fmt.Sprintf("Object.setPrototypeOf(%s, %s);", id, mpExpr))
	}

	return id, nil
}

// serializeBoundFunction unwraps one level of partial application; a target
// that is itself bound re-enters this path, unwrapping transitively.
func (s *Serializer) serializeBoundFunction(fn *jsvalue.Function) (string, error) {
	bi, err := fn.BoundInternals()
	if err != nil {
		return "", s.wrap(err)
	}

	id := s.alloc.Next(emit.PrefixValue)
	s.cache[fn] = id
	debug.LogGraph("bound function %s (%q) at %s\n", id, fn.Name(), s.pathString())

	s.path = append(s.path, "[[TargetFunction]]")
	targetExpr, err := s.serializeValue(bi.Target)
	s.path = s.path[:len(s.path)-1]
	if err != nil {
		return "", err
	}

	s.path = append(s.path, "[[BoundThis]]")
	thisExpr, err := s.serializeValue(bi.This)
	s.path = s.path[:len(s.path)-1]
	if err != nil {
		return "", err
	}

	args := []string{thisExpr}
	for i, arg := range bi.Args {
		s.path = append(s.path, fmt.Sprintf("[[BoundArgs]][%d]", i))
		argExpr, err := s.serializeValue(arg)
		s.path = s.path[:len(s.path)-1]
		if err != nil {
			return "", err
		}
		args = append(args, argExpr)
	}

	s.module.AddPreamble(fmt.Sprintf("var %s = %s.bind(%s);", id, targetExpr, strings.Join(args, ", ")))
	return id, nil
}

// applyTransforms runs a transform phase and re-parses the edited source,
// failing with InvalidConfiguration if the result no longer normalizes to a
// single function or class.
func (s *Serializer) applyTransforms(pf *jsparser.ParsedFunction, transforms []Transform, phase string) (*jsparser.ParsedFunction, error) {
	if len(transforms) == 0 {
		return pf, nil
	}
	edits := &jsparser.EditList{}
	for _, t := range transforms {
		if err := t(pf, edits); err != nil {
			return nil, cserrors.NewInvalidConfigurationError(phase, err)
		}
	}
	if edits.Len() == 0 {
		return pf, nil
	}
	rewritten, err := pf.ExpressionText(edits)
	if err != nil {
		return nil, cserrors.NewInvalidConfigurationError(phase, err)
	}
	reparsed, err := jsparser.ParseFunction(rewritten)
	if err != nil {
		return nil, cserrors.NewInvalidConfigurationError(phase, err)
	}
	return reparsed, nil
}

// applyTransformEdits runs the post-process phase, queueing its edits onto
// the emission edit list so they compose with the heritage substitution.
func (s *Serializer) applyTransformEdits(pf *jsparser.ParsedFunction, transforms []Transform, edits *jsparser.EditList) (*jsparser.ParsedFunction, error) {
	for _, t := range transforms {
		if err := t(pf, edits); err != nil {
			return nil, cserrors.NewInvalidConfigurationError("postProcess", err)
		}
	}
	return pf, nil
}
