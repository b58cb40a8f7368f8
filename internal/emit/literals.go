package emit

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// QuoteString renders a JavaScript string literal. JSON escaping is a valid
// JavaScript string encoding except for the line separators, which are
// escaped explicitly.
func QuoteString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// strings always marshal
		return `""`
	}
	out := string(b)
	out = strings.ReplaceAll(out, "\u2028", `\u2028`)
	out = strings.ReplaceAll(out, "\u2029", `\u2029`)
	return out
}

// FormatNumber renders a JavaScript number literal, distinguishing -0, NaN,
// and the infinities.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0 && math.Signbit(f):
		return "-0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// IsValidIdentifier reports whether s can appear after a dot in a property
// access. The ASCII identifier grammar is enough for emitted keys; anything
// else falls back to bracket access.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	switch s {
	case "break", "case", "catch", "class", "const", "continue", "debugger",
		"default", "delete", "do", "else", "enum", "export", "extends", "false",
		"finally", "for", "function", "if", "import", "in", "instanceof", "new",
		"null", "return", "super", "switch", "this", "throw", "true", "try",
		"typeof", "var", "void", "while", "with":
		return false
	}
	return true
}

// PropertyRef renders a property access on target: dot access when the key
// permits it, bracket access otherwise.
func PropertyRef(target, key string) string {
	if IsValidIdentifier(key) {
		return target + "." + key
	}
	return target + "[" + QuoteString(key) + "]"
}
