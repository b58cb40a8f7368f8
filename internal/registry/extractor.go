package registry

import (
	"reflect"

	"github.com/t14raptor/go-fast/ast"
)

// findArrayLiteral locates the array literal forming an extractor arrow's
// concise body.
func findArrayLiteral(arrow *ast.ArrowFunctionLiteral) *ast.ArrayLiteral {
	return searchArrayLiteral(reflect.ValueOf(arrow.Body))
}

func searchArrayLiteral(v reflect.Value) *ast.ArrayLiteral {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if arr, ok := v.Interface().(*ast.ArrayLiteral); ok {
			return arr
		}
		return searchArrayLiteral(v.Elem())
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if found := searchArrayLiteral(v.Field(i)); found != nil {
				return found
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if found := searchArrayLiteral(v.Index(i)); found != nil {
				return found
			}
		}
	}
	return nil
}
