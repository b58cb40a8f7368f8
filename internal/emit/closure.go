package emit

import (
	"strings"
)

// Closure renders the re-hydration wrapper for one serialized function: an
// immediately-invoked arrow whose parameters re-bind the function's free
// variables (plus _self and _super when a bound receiver or substituted
// heritage applies), returning the original function expression.
//
//	((_self, _super, a, b) => function inner(x){ ... }.bind(_self))(t, s, a1, b1)
//
// Free-variable parameter names are authoritative: they are spelled exactly
// as they occur in the function body.
type Closure struct {
	// FunctionExpr is the function/class expression text, post-transforms.
	FunctionExpr string

	// FreeNames and FreeArgs pair parameter names with the expressions that
	// reproduce their captured values, index for index.
	FreeNames []string
	FreeArgs  []string

	// SelfParam/SelfArg carry the bound receiver when BindSelf is set.
	SelfParam string
	SelfArg   string
	BindSelf  bool

	// BindArgs are the leading bound arguments appended to the bind call.
	BindArgs []string

	// SuperParam/SuperArg carry the substituted heritage value for a class
	// whose meta-prototype was altered.
	SuperParam string
	SuperArg   string
}

// Expr renders the wrapper expression. With nothing to re-bind, the function
// expression is returned bare.
func (c *Closure) Expr() string {
	var params, args []string
	if c.BindSelf && c.SelfParam != "" {
		params = append(params, c.SelfParam)
		args = append(args, c.SelfArg)
	}
	if c.SuperParam != "" {
		params = append(params, c.SuperParam)
		args = append(args, c.SuperArg)
	}
	params = append(params, c.FreeNames...)
	args = append(args, c.FreeArgs...)

	inner := "(" + c.FunctionExpr + ")"
	if c.BindSelf && c.SelfParam != "" {
		bindArgs := append([]string{c.SelfParam}, c.BindArgs...)
		inner = inner + ".bind(" + strings.Join(bindArgs, ", ") + ")"
	}

	if len(params) == 0 {
		return inner
	}

	return "((" + strings.Join(params, ", ") + ") => " + inner + ")(" + strings.Join(args, ", ") + ")"
}
