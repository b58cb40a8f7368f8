package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

func TestParseExtractorNames(t *testing.T) {
	names, err := ParseExtractorNames("app.js", "() => [a, b, c]")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestParseExtractorNames_Empty(t *testing.T) {
	names, err := ParseExtractorNames("app.js", "() => []")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestParseExtractorNames_RejectsNonArrow(t *testing.T) {
	_, err := ParseExtractorNames("app.js", "function f() { return [a]; }")
	require.Error(t, err)

	var re *cserrors.RegistryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, cserrors.ErrorTypeMalformedRegistryEntry, re.Type)
}

func TestParseExtractorNames_RejectsNonIdentifierElement(t *testing.T) {
	_, err := ParseExtractorNames("app.js", "() => [a, b + 1]")
	require.Error(t, err)

	var re *cserrors.RegistryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, cserrors.ErrorTypeMalformedRegistryEntry, re.Type)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	fn := jsvalue.NewFunction("", "() => a + b")

	err := reg.Register(fn, "app.js", "() => [a, b]", func() []jsvalue.Value {
		return []jsvalue.Value{jsvalue.Number(1), jsvalue.Number(2)}
	})
	require.NoError(t, err)
	assert.True(t, reg.Contains(fn))

	v, ok, err := reg.Resolve(fn, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jsvalue.Number(2), v)

	_, ok, err = reg.Resolve(fn, "zzz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	reg := NewRegistry()
	fn := jsvalue.NewFunction("", "() => a")
	extract := func() []jsvalue.Value { return []jsvalue.Value{jsvalue.Number(1)} }

	require.NoError(t, reg.Register(fn, "app.js", "() => [a]", extract))
	err := reg.Register(fn, "app.js", "() => [a]", extract)
	require.Error(t, err)

	var re *cserrors.RegistryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, cserrors.ErrorTypeDuplicateRegistration, re.Type)
}

func TestRegistry_CountMismatchIsMalformed(t *testing.T) {
	reg := NewRegistry()
	fn := jsvalue.NewFunction("", "() => a + b")

	require.NoError(t, reg.Register(fn, "app.js", "() => [a, b]", func() []jsvalue.Value {
		return []jsvalue.Value{jsvalue.Number(1)}
	}))

	_, _, err := reg.Resolve(fn, "a")
	require.Error(t, err)

	var re *cserrors.RegistryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, cserrors.ErrorTypeMalformedRegistryEntry, re.Type)
}

func TestRegistry_UnknownFunction(t *testing.T) {
	reg := NewRegistry()
	fn := jsvalue.NewFunction("", "() => a")

	_, ok, err := reg.Resolve(fn, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, reg.Contains(fn))
}

func TestRegistry_VerifySource(t *testing.T) {
	reg := NewRegistry()
	src := "() => a"
	fn := jsvalue.NewFunction("", src)
	require.NoError(t, reg.Register(fn, "app.js", "() => [a]", func() []jsvalue.Value {
		return []jsvalue.Value{jsvalue.Number(1)}
	}))

	assert.True(t, reg.VerifySource(fn, []byte("const f = () => a;")))
	assert.False(t, reg.VerifySource(fn, []byte("const f = () => b;")))
}

func TestRegistry_SourceFileOf(t *testing.T) {
	reg := NewRegistry()
	fn := jsvalue.NewFunction("", "() => a")
	require.NoError(t, reg.Register(fn, "lib/app.js", "() => [a]", func() []jsvalue.Value {
		return []jsvalue.Value{jsvalue.Number(1)}
	}))

	file, ok := reg.SourceFileOf(fn)
	require.True(t, ok)
	assert.Equal(t, "lib/app.js", file)
}
