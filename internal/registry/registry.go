// Package registry is the alternate free-variable ingest path: a
// process-wide table mapping functions to pre-annotated extractors,
// populated at load time by the source annotator. When the engine probe is
// unavailable, the analyzer resolves free names here instead.
package registry

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/t14raptor/go-fast/ast"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
	cserrors "github.com/functionless/nodejs-closure-serializer/internal/errors"
	"github.com/functionless/nodejs-closure-serializer/internal/jsparser"
	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// Extractor returns the ordered captured values of a registered function.
type Extractor func() []jsvalue.Value

type entry struct {
	sourceFile  string
	names       []string
	extract     Extractor
	fingerprint uint64
}

// Registry is a process-lifetime table of registered functions. Entries are
// never removed; registration of the same function twice is rejected.
type Registry struct {
	mu      sync.RWMutex
	entries map[*jsvalue.Function]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*jsvalue.Function]*entry)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register records a function's source file and captured-value extractor.
// extractSource is the extractor's own source text, which must parse to an
// arrow expression whose body is an array literal of bare identifiers.
func (r *Registry) Register(fn *jsvalue.Function, sourceFile, extractSource string, extract Extractor) error {
	names, err := ParseExtractorNames(sourceFile, extractSource)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[fn]; dup {
		return cserrors.NewDuplicateRegistrationError(sourceFile)
	}
	r.entries[fn] = &entry{
		sourceFile:  sourceFile,
		names:       names,
		extract:     extract,
		fingerprint: xxhash.Sum64String(extractSource),
	}
	debug.LogRegistry("registered %q from %s with %d captures\n", fn.Name(), sourceFile, len(names))
	return nil
}

// Contains reports whether fn has a registry entry.
func (r *Registry) Contains(fn *jsvalue.Function) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[fn]
	return ok
}

// SourceFileOf returns the registered source file identifier.
func (r *Registry) SourceFileOf(fn *jsvalue.Function) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[fn]
	if !ok {
		return "", false
	}
	return e.sourceFile, true
}

// Resolve implements the analyzer's resolver interface against the
// registered extractor. The extractor runs once per resolution so captured
// values are observed at serialization time.
func (r *Registry) Resolve(fn *jsvalue.Function, name string) (jsvalue.Value, bool, error) {
	r.mu.RLock()
	e, ok := r.entries[fn]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	values := e.extract()
	if len(values) != len(e.names) {
		return nil, false, cserrors.NewMalformedRegistryEntryError(e.sourceFile,
			fmt.Sprintf("extractor returned %d values for %d captured names", len(values), len(e.names)))
	}
	for i, n := range e.names {
		if n == name {
			return values[i], true, nil
		}
	}
	return nil, false, nil
}

// VerifySource is the advisory consistency check: it reports whether the
// function's engine-visible source still occurs in the registered file's
// content. A mismatch is logged, not fatal.
func (r *Registry) VerifySource(fn *jsvalue.Function, fileContent []byte) bool {
	src, err := fn.SourceText()
	if err != nil {
		return false
	}
	ok := containsSource(fileContent, src)
	if !ok {
		debug.LogRegistry("source of %q (hash %x) not found in registered file content\n",
			fn.Name(), xxhash.Sum64String(src))
	}
	return ok
}

func containsSource(content []byte, src string) bool {
	if len(src) == 0 || len(content) < len(src) {
		return false
	}
	h := xxhash.Sum64String(src)
	for i := 0; i+len(src) <= len(content); i++ {
		if content[i] != src[0] {
			continue
		}
		if xxhash.Sum64(content[i:i+len(src)]) == h {
			return true
		}
	}
	return false
}

// ParseExtractorNames parses an extractor's source and returns the captured
// identifier names. The required shape is `() => [a, b, c]`.
func ParseExtractorNames(sourceFile, extractSource string) ([]string, error) {
	pf, err := jsparser.ParseFunction(extractSource)
	if err != nil {
		return nil, cserrors.NewMalformedRegistryEntryError(sourceFile, "extractor does not parse: "+err.Error())
	}
	if pf.Form != jsparser.FormArrow {
		return nil, cserrors.NewMalformedRegistryEntryError(sourceFile, "extractor is not an arrow expression")
	}

	arr := findArrayLiteral(pf.Arrow)
	if arr == nil {
		return nil, cserrors.NewMalformedRegistryEntryError(sourceFile, "extractor body is not an array literal")
	}

	names := make([]string, 0, len(arr.Value))
	for _, el := range arr.Value {
		id, ok := el.Expr.(*ast.Identifier)
		if !ok {
			return nil, cserrors.NewMalformedRegistryEntryError(sourceFile, "extractor array element is not a bare identifier")
		}
		names = append(names, id.Name)
	}
	return names, nil
}
