package recipes

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggestion is a ranked canonical-name candidate for an unmapped recipe.
type Suggestion struct {
	CanonicalName string `json:"canonical_name"`
	Distance      int    `json:"distance"` // Levenshtein distance, lower is closer
}

// maxSuggestDistance caps how far a candidate may be from the query before it
// is dropped as noise.
const maxSuggestDistance = 4

// Suggest ranks canonical names against an unmapped recipe name by
// Levenshtein distance over cleaned forms, so "MB-30" still finds "MB 30".
// Suggestions are advisory for the mapping UI; they never rewrite a record.
// Returns at most limit suggestions, best first.
func Suggest(name string, canonical []string, limit int) []Suggestion {
	cleaned := cleanName(name)
	if cleaned == "" || len(canonical) == 0 || limit <= 0 {
		return nil
	}

	out := make([]Suggestion, 0, len(canonical))
	for _, candidate := range canonical {
		d := fuzzy.LevenshteinDistance(cleaned, cleanName(candidate))
		if d > maxSuggestDistance {
			continue
		}
		out = append(out, Suggestion{CanonicalName: candidate, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// cleanName lowercases and strips everything but letters and digits.
func cleanName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
