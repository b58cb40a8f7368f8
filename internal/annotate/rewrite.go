// Package annotate is the load-time source transformer behind the closure
// registry: it rewrites every function or arrow expression F in a file into
// `global.wrapClosure(F, () => [a, b])`, where the arrow extractor lists F's
// free variables; function declarations are not wrapped. The rewrite is
// span-based, so every byte the wrapping does not touch is preserved.
package annotate

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/functionless/nodejs-closure-serializer/internal/freevars"
	"github.com/functionless/nodejs-closure-serializer/internal/jsparser"
)

// wrapTarget is one function literal scheduled for wrapping.
type wrapTarget struct {
	span jsparser.Span
	free []string
}

// AnnotateSource wraps the function and arrow expressions of a source file
// and returns the rewritten text plus the number of wrapped literals.
func AnnotateSource(src string) (string, int, error) {
	prog, err := parser.ParseFile(src)
	if err != nil {
		return "", 0, fmt.Errorf("parse: %w", err)
	}

	finder := &literalFinder{declared: make(map[any]struct{})}
	finder.walk(prog)

	var targets []wrapTarget
	for _, lit := range finder.literals {
		span, ok := jsparser.SpanOf(lit)
		if !ok || span.Start < 0 || span.End > len(src) || span.Start >= span.End {
			continue
		}
		free, _ := freevars.CollectFreeNames(parsedFor(lit))
		targets = append(targets, wrapTarget{span: span, free: free})
	}

	// Same-position inserts apply in queue order: openings go outermost
	// first, closings innermost first, so nested wraps stay balanced when
	// literals share a span boundary.
	starts := make([]wrapTarget, len(targets))
	copy(starts, targets)
	sort.SliceStable(starts, func(i, j int) bool {
		if starts[i].span.Start != starts[j].span.Start {
			return starts[i].span.Start < starts[j].span.Start
		}
		return starts[i].span.End > starts[j].span.End
	})
	ends := make([]wrapTarget, len(targets))
	copy(ends, targets)
	sort.SliceStable(ends, func(i, j int) bool {
		if ends[i].span.End != ends[j].span.End {
			return ends[i].span.End < ends[j].span.End
		}
		return ends[i].span.Start > ends[j].span.Start
	})

	edits := &jsparser.EditList{}
	for _, t := range starts {
		edits.Insert(t.span.Start, "global.wrapClosure(")
	}
	for _, t := range ends {
		edits.Insert(t.span.End, ", "+extractorFor(t.free)+")")
	}

	out, err := edits.Apply(src)
	if err != nil {
		return "", 0, err
	}
	return out, len(targets), nil
}

// extractorFor renders the captured-value extractor for a literal's free
// names: a zero-arg arrow returning an array of bare identifiers.
func extractorFor(free []string) string {
	out := "() => ["
	for i, n := range free {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out + "]"
}

func parsedFor(lit any) *jsparser.ParsedFunction {
	switch l := lit.(type) {
	case *ast.ArrowFunctionLiteral:
		return &jsparser.ParsedFunction{Form: jsparser.FormArrow, Arrow: l}
	case *ast.FunctionLiteral:
		return &jsparser.ParsedFunction{Form: jsparser.FormFunctionExpr, Fn: l}
	}
	return &jsparser.ParsedFunction{}
}

// literalFinder collects function/arrow literals in expression position.
// Literals owned by a function declaration are skipped: wrapping a
// declaration in a call expression would change the statement's meaning.
type literalFinder struct {
	literals []any
	declared map[any]struct{}
}

func (f *literalFinder) walk(n any) {
	if n == nil {
		return
	}
	switch node := n.(type) {
	case *ast.FunctionDeclaration:
		if node.Function != nil {
			f.declared[node.Function] = struct{}{}
			f.walk(node.Function)
		}
		return
	case *ast.FunctionLiteral:
		if _, skip := f.declared[node]; !skip {
			f.literals = append(f.literals, node)
		}
		f.walkReflect(reflect.ValueOf(node).Elem())
		return
	case *ast.ArrowFunctionLiteral:
		f.literals = append(f.literals, node)
		f.walkReflect(reflect.ValueOf(node).Elem())
		return
	}
	rv := reflect.ValueOf(n)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}
	f.walkReflect(rv)
}

func (f *literalFinder) walkReflect(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			f.walk(v.Interface())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			f.walkReflect(v.Index(i))
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			f.walkReflect(v.Field(i))
		}
	}
}
