// Package textsim provides the text-similarity guard used before a reply
// leaves the runtime: normalization, token-set (Jaccard) similarity,
// near-duplicate detection against recent output, and small question-text
// heuristics. Every function is total — malformed or empty input degrades
// to the "no evidence" branch, never an error.
package textsim

import (
	"math"
	"strings"
)

const (
	// DefaultThreshold is the Jaccard similarity above which a candidate
	// counts as a near-duplicate of a recent reply.
	DefaultThreshold = 0.82

	// containmentMinLen guards the equality/containment tier: very short
	// normalized strings ("ok", "thanks") would otherwise match everything.
	containmentMinLen = 12
)

// defaultFormulaicPhrases are stock phrasings whose repeated use across
// outputs is penalized even without high overall token overlap.
var defaultFormulaicPhrases = []string{
	"great question",
	"happy to help",
	"let me know if",
	"as an ai",
	"hope that helps",
	"to be honest",
	"interesting point",
}

// Options controls IsNearDuplicate.
type Options struct {
	// Threshold is the Jaccard cutoff; zero means DefaultThreshold.
	Threshold float64
	// FormulaicGuard enables the stock-phrase tier.
	FormulaicGuard bool
	// FormulaicPhrases are caller phrases checked in addition to the
	// built-in list when FormulaicGuard is set.
	FormulaicPhrases []string
}

// Normalize lowercases text, strips every character outside [a-z0-9 ],
// collapses runs of whitespace and trims. Idempotent.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	lastSpace := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// tokens returns the set of unique tokens of length > 1 from the
// normalized form of text.
func tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(Normalize(text)) {
		if len(t) > 1 {
			set[t] = struct{}{}
		}
	}
	return set
}

// TokenSimilarity computes the Jaccard similarity of the unique token sets
// of a and b. Returns 0 when either side normalizes to empty, 1 for
// identical non-empty token sets.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// IsNearDuplicate reports whether candidate is too close to any of the
// recent replies. Three tiers, any match short-circuits:
//
//  1. Normalized equality or containment (either direction), for strings
//     long enough to make containment meaningful.
//  2. Token Jaccard similarity above the threshold.
//  3. With FormulaicGuard: candidate and a recent reply share a phrase
//     from the formulaic list.
func IsNearDuplicate(candidate string, recent []string, opts Options) bool {
	cand := Normalize(candidate)
	if cand == "" {
		return false
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var phrases []string
	if opts.FormulaicGuard {
		phrases = append(phrases, defaultFormulaicPhrases...)
		for _, p := range opts.FormulaicPhrases {
			if n := Normalize(p); n != "" {
				phrases = append(phrases, n)
			}
		}
	}

	for _, prev := range recent {
		pn := Normalize(prev)
		if pn == "" {
			continue
		}
		if len(cand) >= containmentMinLen && len(pn) >= containmentMinLen {
			if cand == pn || strings.Contains(cand, pn) || strings.Contains(pn, cand) {
				return true
			}
		} else if cand == pn {
			return true
		}
		if TokenSimilarity(cand, pn) > threshold {
			return true
		}
		for _, phrase := range phrases {
			if strings.Contains(cand, phrase) && strings.Contains(pn, phrase) {
				return true
			}
		}
	}
	return false
}

// MaxDuplicateScore returns the highest pairwise similarity between the
// candidate and the recent replies, rounded to 3 decimals. Diagnostic only;
// 0 when either input is empty.
func MaxDuplicateScore(candidate string, recent []string) float64 {
	max := 0.0
	for _, prev := range recent {
		if s := TokenSimilarity(candidate, prev); s > max {
			max = s
		}
	}
	return math.Round(max*1000) / 1000
}

// questionPrefixes are interrogative sentence openers, English plus Turkish.
var questionPrefixes = []string{
	"who", "what", "when", "where", "why", "how", "which",
	"is ", "are ", "do ", "does ", "did ", "can ", "could ",
	"would ", "should ", "will ",
	"ne ", "neden", "nasil", "kim", "nerede", "hangi", "kac",
}

// questionMarkers are mid-sentence interrogative signals.
var questionMarkers = []string{
	" or not", " right?", " degil mi", " mi ", " mi?", " mu ", " mu?",
}

// LooksLikeQuestion reports whether text reads as a question: it ends or
// contains a question mark, opens with an interrogative word, or carries a
// mid-sentence interrogative marker.
func LooksLikeQuestion(text string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "?") {
		return true
	}
	for _, p := range questionPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	for _, m := range questionMarkers {
		if strings.Contains(trimmed, m) {
			return true
		}
	}
	return false
}

// EnsureQuestionPunctuation appends a question mark when the text reads as
// a question but carries no terminal punctuation. Idempotent; any other
// text is returned unchanged.
func EnsureQuestionPunctuation(text string) string {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" || !LooksLikeQuestion(trimmed) {
		return text
	}
	switch trimmed[len(trimmed)-1] {
	case '?', '.', '!':
		return text
	}
	return trimmed + "?"
}
