// Package jsparser parses the source text of a single function or class into
// a normalized go-fAST form. Method shorthand (which stringifies without a
// leading keyword) is retried with a `function ` prefix; anonymous function
// expressions are retried inside parentheses. When every attempt fails, a
// tree-sitter parse recovers the error position for the diagnostic.
package jsparser

import (
	"errors"
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
)

// Form is the normalized shape of a parsed function source.
type Form uint8

const (
	FormFunctionDecl Form = iota
	FormFunctionExpr
	FormArrow
	FormClassDecl
	FormClassExpr
)

// String returns the form name.
func (f Form) String() string {
	switch f {
	case FormFunctionDecl:
		return "function-declaration"
	case FormFunctionExpr:
		return "function-expression"
	case FormArrow:
		return "arrow-expression"
	case FormClassDecl:
		return "class-declaration"
	case FormClassExpr:
		return "class-expression"
	}
	return "unknown"
}

// ParsedFunction is the normalized parse of one function or class source,
// together with the containing program used as print context.
type ParsedFunction struct {
	// Text is the source actually handed to the parser. It may carry an
	// added wrapping (see Wrapped/Prefixed); all AST positions index into it.
	Text string

	// Wrapped records that outer parentheses were added around the input
	// (anonymous function/class expressions do not parse standalone).
	Wrapped bool

	// Prefixed records that a leading `function ` (or `function` after
	// `async `) was added to recover method shorthand.
	Prefixed bool

	Program *ast.Program
	Form    Form

	// Exactly one of the following is set, matching Form.
	Fn    *ast.FunctionLiteral
	Arrow *ast.ArrowFunctionLiteral
	Class *ast.ClassLiteral
}

// Name returns the declared name of the parsed function or class, if any.
func (p *ParsedFunction) Name() string {
	switch {
	case p.Fn != nil && p.Fn.Name != nil:
		return p.Fn.Name.Name
	case p.Class != nil && p.Class.Name != nil:
		return p.Class.Name.Name
	}
	return ""
}

// IsClass reports whether the normalized form is a class.
func (p *ParsedFunction) IsClass() bool {
	return p.Form == FormClassDecl || p.Form == FormClassExpr
}

// ExpressionText applies the queued edits to the parsed text and returns a
// source fragment that is valid in expression position.
func (p *ParsedFunction) ExpressionText(edits *EditList) (string, error) {
	text := p.Text
	if edits != nil {
		applied, err := edits.Apply(text)
		if err != nil {
			return "", err
		}
		text = applied
	}
	if p.Wrapped {
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
			text = text[1 : len(text)-1]
		}
	}
	return strings.TrimSpace(text), nil
}

// Span is a byte range into ParsedFunction.Text.
type Span struct {
	Start int
	End   int
}

type positioned interface {
	Idx0() ast.Idx
	Idx1() ast.Idx
}

// SpanOf returns the byte span of an AST node. ast.Idx is 1-based.
func SpanOf(n any) (Span, bool) {
	p, ok := n.(positioned)
	if !ok {
		return Span{}, false
	}
	return Span{Start: int(p.Idx0()) - 1, End: int(p.Idx1()) - 1}, true
}

// IdentifierSpan returns the byte span of an identifier by its position and
// name length, which stays correct even when Idx1 is unavailable.
func IdentifierSpan(id *ast.Identifier) Span {
	start := int(id.Idx) - 1
	return Span{Start: start, End: start + len(id.Name)}
}

// HeritageIdentifier returns the class heritage clause's extend target when
// it is a bare identifier, with its span for substitution.
func (p *ParsedFunction) HeritageIdentifier() (*ast.Identifier, Span, bool) {
	if p.Class == nil || p.Class.SuperClass == nil || p.Class.SuperClass.Expr == nil {
		return nil, Span{}, false
	}
	id, ok := p.Class.SuperClass.Expr.(*ast.Identifier)
	if !ok {
		return nil, Span{}, false
	}
	return id, IdentifierSpan(id), true
}

// HasHeritage reports whether the class has an extends clause.
func (p *ParsedFunction) HasHeritage() bool {
	return p.Class != nil && p.Class.SuperClass != nil && p.Class.SuperClass.Expr != nil
}

// ParseFunction parses the source of a single function or class. The attempt
// order is: the raw text, the text in parentheses, the text behind a
// `function ` keyword, and - for async method shorthand - `function`
// spliced after `async`.
func ParseFunction(src string) (*ParsedFunction, error) {
	type attempt struct {
		text     string
		wrapped  bool
		prefixed bool
	}

	attempts := []attempt{
		{text: src},
		{text: "(" + src + ")", wrapped: true},
		{text: "function " + src, prefixed: true},
	}
	trimmed := strings.TrimSpace(src)
	if rest, ok := strings.CutPrefix(trimmed, "async "); ok && !strings.HasPrefix(strings.TrimSpace(rest), "function") {
		attempts = append(attempts, attempt{text: "async function " + rest, prefixed: true})
	}

	var firstErr error
	for _, a := range attempts {
		prog, err := parser.ParseFile(a.text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pf, ok := normalize(prog)
		if !ok {
			continue
		}
		pf.Text = a.text
		pf.Wrapped = a.wrapped
		pf.Prefixed = a.prefixed
		debug.LogParse("normalized %q as %s\n", pf.Name(), pf.Form)
		return pf, nil
	}

	if firstErr == nil {
		firstErr = errors.New("source did not normalize to a single function or class")
	}
	perr := cserrors.NewParseError(src, firstErr)
	if line, col, ok := diagnosePosition(src); ok {
		perr = perr.WithPosition(line, col)
	}
	return nil, perr
}

// normalize accepts a program whose single top-level statement is a
// function/class declaration or an expression statement wrapping a
// function/arrow/class expression.
func normalize(prog *ast.Program) (*ParsedFunction, bool) {
	if prog == nil || len(prog.Body) != 1 {
		return nil, false
	}
	switch s := prog.Body[0].Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function == nil {
			return nil, false
		}
		return &ParsedFunction{Program: prog, Form: FormFunctionDecl, Fn: s.Function}, true
	case *ast.ClassDeclaration:
		if s.Class == nil {
			return nil, false
		}
		return &ParsedFunction{Program: prog, Form: FormClassDecl, Class: s.Class}, true
	case *ast.ExpressionStatement:
		if s.Expression == nil || s.Expression.Expr == nil {
			return nil, false
		}
		switch e := s.Expression.Expr.(type) {
		case *ast.FunctionLiteral:
			return &ParsedFunction{Program: prog, Form: FormFunctionExpr, Fn: e}, true
		case *ast.ArrowFunctionLiteral:
			return &ParsedFunction{Program: prog, Form: FormArrow, Arrow: e}, true
		case *ast.ClassLiteral:
			return &ParsedFunction{Program: prog, Form: FormClassExpr, Class: e}, true
		}
	}
	return nil, false
}
