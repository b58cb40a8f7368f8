package freevars

import (
	"github.com/hbollon/go-edlib"

	"github.com/functionless/nodejs-closure-serializer/internal/jsvalue"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a scope
// name to be offered as a "did you mean" candidate.
const suggestionThreshold = 0.80

// NearestName returns the candidate most similar to name, if any candidate
// clears the similarity threshold.
func NearestName(name string, candidates []string) (string, bool) {
	best := ""
	bestScore := float32(0)
	for _, cand := range candidates {
		if cand == name {
			continue
		}
		score, err := edlib.StringsSimilarity(name, cand, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	if bestScore >= suggestionThreshold {
		return best, true
	}
	return "", false
}

// VisibleNames lists every name bound in the function's captured scope
// chain, for suggestion candidates when a free variable does not resolve.
func VisibleNames(fn *jsvalue.Function) []string {
	scopes, err := fn.Scopes()
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, scope := range scopes {
		for _, n := range scope.Names {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}
