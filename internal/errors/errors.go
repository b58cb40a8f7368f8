package errors

import (
	"fmt"
	"strings"
	"time"
)

// Error types for the closure-serializer system
type ErrorType string

const (
	// Parsing errors
	ErrorTypeUnparseableSource ErrorType = "unparseable_source"
	ErrorTypeNativeFunction    ErrorType = "native_function_unsupported"

	// Engine probe errors
	ErrorTypeProbeUnavailable ErrorType = "probe_unavailable"
	ErrorTypeScopesMissing    ErrorType = "scopes_missing"
	ErrorTypeNotBound         ErrorType = "not_bound"

	// Configuration errors
	ErrorTypeInvalidConfiguration ErrorType = "invalid_configuration"
	ErrorTypeConfig               ErrorType = "config"

	// Graph errors
	ErrorTypeCyclicPrototype ErrorType = "cyclic_prototype"

	// Registry errors
	ErrorTypeMalformedRegistryEntry ErrorType = "malformed_registry_entry"
	ErrorTypeDuplicateRegistration  ErrorType = "duplicate_registration"

	// Analysis errors
	ErrorTypeUnresolvedFreeVariable ErrorType = "unresolved_free_variable"
)

// ParseError represents a failure to parse a function's source text,
// after the method-shorthand retry.
type ParseError struct {
	Type       ErrorType
	Source     string
	Line       int
	Column     int
	Underlying error
	Timestamp  time.Time
}

// NewParseError creates a new parse error for the given source text
func NewParseError(source string, err error) *ParseError {
	return &ParseError{
		Type:       ErrorTypeUnparseableSource,
		Source:     source,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithPosition adds a 1-based line/column recovered from diagnostics
func (e *ParseError) WithPosition(line, column int) *ParseError {
	e.Line = line
	e.Column = column
	return e
}

// Error implements the error interface
func (e *ParseError) Error() string {
	snippet := e.Source
	if len(snippet) > 60 {
		snippet = snippet[:60] + "..."
	}
	if e.Line > 0 {
		return fmt.Sprintf("unparseable source at %d:%d (near %q): %v", e.Line, e.Column, snippet, e.Underlying)
	}
	return fmt.Sprintf("unparseable source (near %q): %v", snippet, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Underlying
}

// NativeFunctionError reports an attempt to serialize an engine-native
// function that is not a bound-target wrapper.
type NativeFunctionError struct {
	Type         ErrorType
	FunctionName string
	Timestamp    time.Time
}

// NewNativeFunctionError creates a new native-function error
func NewNativeFunctionError(name string) *NativeFunctionError {
	return &NativeFunctionError{
		Type:         ErrorTypeNativeFunction,
		FunctionName: name,
		Timestamp:    time.Now(),
	}
}

// Error implements the error interface
func (e *NativeFunctionError) Error() string {
	if e.FunctionName == "" {
		return "cannot serialize native function"
	}
	return fmt.Sprintf("cannot serialize native function %q", e.FunctionName)
}

// ProbeError represents a failure in the engine probe
type ProbeError struct {
	Type       ErrorType
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewProbeError creates a new probe error of the given type
func NewProbeError(errorType ErrorType, op string, err error) *ProbeError {
	return &ProbeError{
		Type:       errorType,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ProbeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: probe %s failed: %v", e.Type, e.Operation, e.Underlying)
	}
	return fmt.Sprintf("%s: probe %s failed", e.Type, e.Operation)
}

// Unwrap returns the underlying error
func (e *ProbeError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the probe failure aborts the whole serialization.
// Only a missing scope chain is fatal. Serialize's default resolver turns to
// the closure registry on any probe error for a function the registry holds.
func (e *ProbeError) IsFatal() bool {
	return e.Type == ErrorTypeScopesMissing
}

// ConfigError represents a configuration error
type ConfigError struct {
	Type       ErrorType
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Type:       ErrorTypeConfig,
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewInvalidConfigurationError reports a transform pipeline that did not
// produce the expected AST shape.
func NewInvalidConfigurationError(field string, err error) *ConfigError {
	return &ConfigError{
		Type:       ErrorTypeInvalidConfiguration,
		Field:      field,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s error for %s (value %s): %v", e.Type, e.Field, e.Value, e.Underlying)
	}
	return fmt.Sprintf("%s error for %s: %v", e.Type, e.Field, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// CyclicPrototypeError reports a prototype chain that reaches itself
type CyclicPrototypeError struct {
	Type      ErrorType
	Path      []string
	Timestamp time.Time
}

// NewCyclicPrototypeError creates a new cyclic prototype error
func NewCyclicPrototypeError(path []string) *CyclicPrototypeError {
	return &CyclicPrototypeError{
		Type:      ErrorTypeCyclicPrototype,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *CyclicPrototypeError) Error() string {
	return fmt.Sprintf("cyclic prototype chain at %s", strings.Join(e.Path, "."))
}

// RegistryError represents a closure-registry failure
type RegistryError struct {
	Type       ErrorType
	SourceFile string
	Detail     string
	Timestamp  time.Time
}

// NewMalformedRegistryEntryError creates an error for an extractor that does
// not have the required `() => [a, b, c]` shape, or whose captured-value count
// mismatched the parsed identifier count.
func NewMalformedRegistryEntryError(sourceFile, detail string) *RegistryError {
	return &RegistryError{
		Type:       ErrorTypeMalformedRegistryEntry,
		SourceFile: sourceFile,
		Detail:     detail,
		Timestamp:  time.Now(),
	}
}

// NewDuplicateRegistrationError creates an error for double-registration of
// the same function.
func NewDuplicateRegistrationError(sourceFile string) *RegistryError {
	return &RegistryError{
		Type:       ErrorTypeDuplicateRegistration,
		SourceFile: sourceFile,
		Detail:     "function already registered",
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *RegistryError) Error() string {
	if e.SourceFile != "" {
		return fmt.Sprintf("%s in %s: %s", e.Type, e.SourceFile, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Detail)
}

// FreeVariableError reports a free variable that could not be resolved in
// any enclosing scope. Non-fatal by default; fatal under strict mode.
type FreeVariableError struct {
	Type       ErrorType
	Name       string
	Suggestion string
	Timestamp  time.Time
}

// NewFreeVariableError creates a new unresolved-free-variable error
func NewFreeVariableError(name string) *FreeVariableError {
	return &FreeVariableError{
		Type:      ErrorTypeUnresolvedFreeVariable,
		Name:      name,
		Timestamp: time.Now(),
	}
}

// WithSuggestion attaches the nearest visible scope name
func (e *FreeVariableError) WithSuggestion(suggestion string) *FreeVariableError {
	e.Suggestion = suggestion
	return e
}

// Error implements the error interface
func (e *FreeVariableError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("free variable %q could not be resolved in any enclosing scope (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("free variable %q could not be resolved in any enclosing scope", e.Name)
}

// SerializeError wraps any failure surfaced to the top-level Serialize caller
// with the function name and the offending sub-value's path from the root.
type SerializeError struct {
	FunctionName string
	Path         []string
	Underlying   error
}

// NewSerializeError creates a new top-level serialize error
func NewSerializeError(functionName string, path []string, err error) *SerializeError {
	return &SerializeError{
		FunctionName: functionName,
		Path:         path,
		Underlying:   err,
	}
}

// Error implements the error interface
func (e *SerializeError) Error() string {
	name := e.FunctionName
	if name == "" {
		name = "<anonymous>"
	}
	if len(e.Path) > 0 {
		return fmt.Sprintf("serialize %s: at %s: %v", name, strings.Join(e.Path, "."), e.Underlying)
	}
	return fmt.Sprintf("serialize %s: %v", name, e.Underlying)
}

// Unwrap returns the underlying error
func (e *SerializeError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error, filtering out nil entries
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
