// Package freevars enumerates the identifiers in a function body that
// reference values outside the function, and resolves each one against the
// function's captured scope chain (engine probe) or a registry extractor.
//
// The walk is a single depth-first traversal threading a lexical scope set
// through the tree. Blocks hoist function declarations and uninitialized
// `var` declarations before their statements are walked; `let`/`const`/
// `class` declarations extend scope only after their declarator is visited,
// so right-hand sides see the pre-declaration scope.
package freevars

import (
	"reflect"

	"github.com/t14raptor/go-fast/ast"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	"github.com/functionless/nodejs-closure-serializer/internal/globals"
	"github.com/functionless/nodejs-closure-serializer/internal/jsparser"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// FreeVariable pairs a lexical name with the live value it resolved to.
type FreeVariable struct {
	Name  string
	Value jsvalue.Value
}

// Analysis is the result of analyzing one parsed function.
type Analysis struct {
	// Free lists the resolved free variables, deduplicated by lexical name,
	// in order of first occurrence.
	Free []FreeVariable

	// Unresolved lists free names no enclosing scope could resolve. Non-fatal
	// by default: the emitter leaves the identifiers in place.
	Unresolved []string

	// Identifiers is every identifier text occurring in the function body,
	// used to seed the name allocator's exclude set.
	Identifiers map[string]struct{}
}

// Resolver resolves a free name against a function's enclosing scopes.
// The probe-backed resolver and the closure registry both implement it.
type Resolver interface {
	Resolve(fn *jsvalue.Function, name string) (jsvalue.Value, bool, error)
}

// ScopeChainResolver resolves names against the function's captured scope
// chain, walking outer-to-innermost and returning the first match.
type ScopeChainResolver struct{}

// Resolve implements Resolver.
func (ScopeChainResolver) Resolve(fn *jsvalue.Function, name string) (jsvalue.Value, bool, error) {
	scopes, err := fn.Scopes()
	if err != nil {
		return nil, false, err
	}
	// The chain is innermost first; resolution order is outermost first.
	for i := len(scopes) - 1; i >= 0; i-- {
		if v, ok := scopes[i].Lookup(name); ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Analyze walks the parsed function, collects its free names, and resolves
// each through r. Values the whitelist recognizes by identity are excluded:
// the emitted module references those identifiers directly.
func Analyze(pf *jsparser.ParsedFunction, fn *jsvalue.Function, r Resolver, table *globals.Table) (*Analysis, error) {
	names, idents := CollectFreeNames(pf)

	result := &Analysis{Identifiers: idents}
	for _, name := range names {
		v, ok, err := r.Resolve(fn, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			debug.LogAnalyze("free variable %q not found in any scope\n", name)
			result.Unresolved = append(result.Unresolved, name)
			continue
		}
		if globalName, isGlobal := table.NameOf(v); isGlobal {
			debug.LogAnalyze("free variable %q is the global %s, referenced by name\n", name, globalName)
			continue
		}
		result.Free = append(result.Free, FreeVariable{Name: name, Value: v})
	}
	return result, nil
}

// CollectFreeNames returns the free identifier names of a parsed function in
// order of first occurrence, plus the set of all identifier texts in the
// body. This is the names-only entry point the annotator shares.
func CollectFreeNames(pf *jsparser.ParsedFunction) ([]string, map[string]struct{}) {
	c := &collector{
		stack:  newScopeStack(),
		seen:   make(map[string]struct{}),
		idents: make(map[string]struct{}),
	}

	switch {
	case pf.Fn != nil:
		c.walkFunctionLiteral(pf.Fn)
	case pf.Arrow != nil:
		c.walkArrow(pf.Arrow)
	case pf.Class != nil:
		c.walkClassLiteral(pf.Class)
	}

	return c.free, c.idents
}

type collector struct {
	stack  *scopeStack
	free   []string
	seen   map[string]struct{}
	idents map[string]struct{}
}

// reference records an identifier occurring in reference position.
func (c *collector) reference(id *ast.Identifier) {
	c.idents[id.Name] = struct{}{}
	if c.stack.has(id.Name) {
		return
	}
	if _, dup := c.seen[id.Name]; dup {
		return
	}
	c.seen[id.Name] = struct{}{}
	c.free = append(c.free, id.Name)
}

// noteName records an identifier text that is not a reference (member
// property names, literal keys, declaration names).
func (c *collector) noteName(name string) {
	c.idents[name] = struct{}{}
}

// walkAny dispatches a node. Nodes whose scope semantics matter are handled
// by type; everything else recurses generically over its fields, so constructs
// the switch does not name (loops, try, templates, spreads) still surface the
// identifier references they contain.
func (c *collector) walkAny(n any) {
	if n == nil {
		return
	}
	switch node := n.(type) {
	case *ast.Identifier:
		c.reference(node)
	case ast.Identifier:
		c.reference(&node)
	case *ast.PrivateIdentifier:
		// #private names are property names, never free variables.
	case *ast.FunctionLiteral:
		c.walkFunctionLiteral(node)
	case *ast.ArrowFunctionLiteral:
		c.walkArrow(node)
	case *ast.ClassLiteral:
		c.walkClassLiteral(node)
	case *ast.ClassDeclaration:
		if node.Class != nil {
			c.walkClassLiteral(node.Class)
			if node.Class.Name != nil {
				c.stack.bind(node.Class.Name.Name)
			}
		}
	case *ast.FunctionDeclaration:
		// The name was hoisted when the enclosing block was entered.
		if node.Function != nil {
			c.walkFunctionLiteral(node.Function)
		}
	case *ast.BlockStatement:
		c.walkBlock(node)
	case *ast.VariableDeclaration:
		c.walkVarDecl(node)
	case *ast.VariableDeclarator:
		c.walkDeclarator(node)
	case ast.VariableDeclarator:
		c.walkDeclarator(&node)
	case *ast.MemberExpression:
		c.walkMember(node)
	case *ast.PropertyShort:
		// {a} in expression position references a.
		if node.Name != nil {
			c.reference(node.Name)
		}
		c.walkAny(node.Initializer)
	case *ast.PropertyKeyed:
		c.walkPropertyKey(node.Key, node.Computed)
		c.walkAny(node.Value)
	case *ast.MethodDefinition:
		c.walkPropertyKey(node.Key, node.Computed)
		if node.Body != nil {
			c.walkFunctionLiteral(node.Body)
		}
	case *ast.FieldDefinition:
		c.walkPropertyKey(node.Key, node.Computed)
		c.walkAny(node.Initializer)
	case *ast.CatchStatement:
		c.stack.push()
		if node.Parameter != nil {
			c.bindTargetAny(node.Parameter)
		}
		if node.Body != nil {
			c.walkBlock(node.Body)
		}
		c.stack.pop()
	default:
		c.walkReflect(reflect.ValueOf(n))
	}
}

// walkReflect recurses generically over a node's exported fields.
func (c *collector) walkReflect(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		c.walkAny(v.Elem().Interface())
		return
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			c.walkElem(v.Index(i))
		}
		return
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			c.walkElem(v.Field(i))
		}
		return
	}
}

func (c *collector) walkElem(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			c.walkAny(v.Interface())
		}
	case reflect.Struct, reflect.Slice, reflect.Array:
		if v.CanInterface() {
			c.walkAny(v.Interface())
		}
	}
}

// walkFunctionLiteral handles `function f(params) { ... }`: the function's
// own name and all parameter names enter scope before the body.
func (c *collector) walkFunctionLiteral(fn *ast.FunctionLiteral) {
	c.stack.push()
	if fn.Name != nil {
		c.noteName(fn.Name.Name)
		c.stack.bind(fn.Name.Name)
	}
	c.bindParams(fn.ParameterList)
	if fn.Body != nil {
		c.walkBlock(fn.Body)
	}
	c.stack.pop()
}

func (c *collector) walkArrow(fn *ast.ArrowFunctionLiteral) {
	c.stack.push()
	c.bindParams(fn.ParameterList)
	c.walkAny(fn.Body)
	c.stack.pop()
}

func (c *collector) walkClassLiteral(class *ast.ClassLiteral) {
	// The heritage clause evaluates outside the class's own name scope only
	// in edge cases; binding the name first matches engine behavior for the
	// common self-reference inside the body.
	c.stack.push()
	if class.Name != nil {
		c.noteName(class.Name.Name)
		c.stack.bind(class.Name.Name)
	}
	if class.SuperClass != nil {
		c.walkAny(class.SuperClass.Expr)
	}
	for _, el := range class.Body {
		c.walkAny(el.Element)
	}
	c.stack.pop()
}

// walkBlock hoists function declarations and uninitialized `var`s, then
// walks statements in order.
func (c *collector) walkBlock(block *ast.BlockStatement) {
	c.stack.push()
	c.hoist(block.List)
	for _, stmt := range block.List {
		c.walkAny(stmt.Stmt)
	}
	c.stack.pop()
}

func (c *collector) hoist(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch s := stmt.Stmt.(type) {
		case *ast.FunctionDeclaration:
			if s.Function != nil && s.Function.Name != nil {
				c.noteName(s.Function.Name.Name)
				c.stack.bind(s.Function.Name.Name)
			}
		case *ast.VariableDeclaration:
			if s.Token.String() != "var" {
				continue
			}
			for _, d := range s.List {
				if d.Initializer == nil && d.Target != nil {
					c.bindTargetAny(d.Target.Target)
				}
			}
		}
	}
}

// walkVarDecl visits each declarator's right-hand side with the
// pre-declaration scope, then extends scope with the declared names.
func (c *collector) walkVarDecl(decl *ast.VariableDeclaration) {
	for i := range decl.List {
		c.walkDeclarator(&decl.List[i])
	}
}

func (c *collector) walkDeclarator(d *ast.VariableDeclarator) {
	if d.Initializer != nil {
		c.walkAny(d.Initializer.Expr)
	}
	if d.Target != nil {
		c.bindTargetAny(d.Target.Target)
	}
}

// walkMember walks a member access; a non-computed property name is not a
// reference.
func (c *collector) walkMember(m *ast.MemberExpression) {
	if m.Object != nil {
		c.walkAny(m.Object.Expr)
	}
	if m.Property == nil {
		return
	}
	switch p := m.Property.Prop.(type) {
	case *ast.Identifier:
		c.noteName(p.Name)
	default:
		c.walkAny(p)
	}
}

func (c *collector) walkPropertyKey(key *ast.Expression, computed bool) {
	if key == nil || key.Expr == nil {
		return
	}
	if id, ok := key.Expr.(*ast.Identifier); ok && !computed {
		c.noteName(id.Name)
		return
	}
	if computed {
		c.walkAny(key.Expr)
	}
}

// bindParams binds parameter names in order; a default-value initializer is
// walked with the parameters to its left already in scope.
func (c *collector) bindParams(params ast.ParameterList) {
	for _, p := range params.List {
		if p.Target != nil {
			c.bindTargetAny(p.Target.Target)
		}
		if p.Initializer != nil {
			c.walkAny(p.Initializer.Expr)
		}
	}
	if params.Rest != nil {
		c.bindTargetAny(params.Rest)
	}
}

// bindTargetAny binds every name produced by a binding pattern: a bare
// identifier, an object destructure, an array destructure, or a nested
// pattern with defaults.
func (c *collector) bindTargetAny(target any) {
	switch t := target.(type) {
	case nil:
	case *ast.Identifier:
		c.noteName(t.Name)
		c.stack.bind(t.Name)
	case *ast.ObjectPattern:
		for _, prop := range t.Properties {
			c.bindPatternProperty(prop.Prop)
		}
		if t.Rest != nil {
			c.bindTargetAny(t.Rest)
		}
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			c.bindTargetAny(el.Expr)
		}
		if t.Rest != nil {
			c.bindTargetAny(t.Rest)
		}
	case *ast.AssignExpression:
		// Pattern element with a default: bind the left, walk the default.
		if t.Left != nil {
			c.bindTargetAny(t.Left.Expr)
		}
		if t.Right != nil {
			c.walkAny(t.Right.Expr)
		}
	case *ast.Expression:
		if t != nil {
			c.bindTargetAny(t.Expr)
		}
	default:
		// Rest elements and wrapper nodes: find the contained target.
		c.bindReflect(reflect.ValueOf(target))
	}
}

func (c *collector) bindPatternProperty(prop any) {
	switch p := prop.(type) {
	case *ast.PropertyShort:
		// {b} and {b = d}: the shorthand name is the binding.
		if p.Name != nil {
			c.noteName(p.Name.Name)
			c.stack.bind(p.Name.Name)
		}
		if p.Initializer != nil {
			c.walkAny(p.Initializer)
		}
	case *ast.PropertyKeyed:
		// {d: c}: the value side is the binding pattern.
		c.walkPropertyKey(p.Key, p.Computed)
		if p.Value != nil {
			c.bindTargetAny(p.Value.Expr)
		}
	default:
		c.bindReflect(reflect.ValueOf(prop))
	}
}

func (c *collector) bindReflect(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			c.bindTargetAny(v.Elem().Interface())
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !t.Field(i).IsExported() {
				continue
			}
			switch f.Kind() {
			case reflect.Pointer, reflect.Interface:
				if !f.IsNil() {
					c.bindTargetAny(f.Interface())
				}
			case reflect.Struct, reflect.Slice:
				if f.CanInterface() {
					c.bindReflect(f)
				}
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			c.bindReflect(v.Index(i))
		}
	}
}
