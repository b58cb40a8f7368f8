package jsvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
)

func TestObject_PropertyOrderAndOverwrite(t *testing.T) {
	o := NewObject().
		Set("b", Number(1)).
		Set("a", Number(2)).
		Set("b", Number(3))

	props := o.Properties()
	require.Len(t, props, 2)
	assert.Equal(t, "b", props[0].Key)
	assert.Equal(t, Number(3), props[0].Value)
	assert.Equal(t, "a", props[1].Key)

	v, ok := o.Get("a")
	require.True(t, ok)
	assert.Equal(t, Number(2), v)
}

func TestArray_HolesAndExtras(t *testing.T) {
	a := NewArray(Number(1))
	a.PushHole()
	a.Push(String("x"))
	a.SetExtra("tag", Boolean(true))

	assert.Equal(t, 3, a.Len())
	assert.Nil(t, a.Elem(1))
	assert.Equal(t, String("x"), a.Elem(2))
	require.Len(t, a.Extras(), 1)
	assert.Equal(t, "tag", a.Extras()[0].Key)
}

func TestNewBigInt(t *testing.T) {
	bi, ok := NewBigInt("123n")
	require.True(t, ok)
	assert.Equal(t, "123", bi.Int.String())

	_, ok = NewBigInt("not-a-number")
	assert.False(t, ok)
}

func TestFunction_BoundNaming(t *testing.T) {
	fn := NewFunction("g", "function g() {}")
	assert.False(t, fn.IsBound())
	assert.Equal(t, "g", fn.InnerName())

	fn.SetBound(&BoundInternals{Target: NewFunction("g", "function g() {}")})
	assert.True(t, fn.IsBound())
	assert.Equal(t, "bound g", fn.Name())
	assert.Equal(t, "g", fn.InnerName())
}

func TestFunction_BoundInternalsRequireBoundName(t *testing.T) {
	fn := NewFunction("plain", "function plain() {}")

	_, err := fn.BoundInternals()
	require.Error(t, err)

	var pe *cserrors.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, cserrors.ErrorTypeNotBound, pe.Type)
}

func TestFunction_ScopesMissingWithoutOrigin(t *testing.T) {
	fn := NewFunction("", "() => x")

	_, err := fn.Scopes()
	require.Error(t, err)

	var pe *cserrors.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, cserrors.ErrorTypeScopesMissing, pe.Type)
	assert.True(t, pe.IsFatal())
}

func TestFunction_NativeSourceMarker(t *testing.T) {
	fn := NewFunction("now", "function now() { [native code] }")

	native, err := fn.IsNativeSource()
	require.NoError(t, err)
	assert.True(t, native)
}

func TestScope_Lookup(t *testing.T) {
	s := NewScope().Bind("a", Number(1)).Bind("b", Number(2))

	v, ok := s.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, Number(2), v)

	_, ok = s.Lookup("c")
	assert.False(t, ok)
}
