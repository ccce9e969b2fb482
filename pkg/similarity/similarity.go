// Package similarity scores how alike two entity display names are.
//
// Scoring is a pure function of the two normalized strings so that identity
// resolution is repeatable for the same store snapshot.
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/pnptcn/nuner/pkg/common"
)

const DefaultThreshold = 0.8

// honorifics are dropped from names before comparison. Entries are matched
// as whole tokens after punctuation has been stripped.
var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "mx": {}, "miss": {}, "dr": {}, "prof": {},
	"sir": {}, "dame": {}, "rev": {}, "jr": {}, "sr": {},
	"inc": {}, "ltd": {}, "llc": {}, "corp": {}, "plc": {}, "gmbh": {},
}

// NormalizeName prepares a display name for comparison: it lowercases,
// removes punctuation, drops honorifics and collapses whitespace.
//
//	NormalizeName("Dr. John  Smith, Jr.") == "john smith"
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped so "O'Brien" compares equal to "OBrien"
		default:
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, ok := honorifics[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// Score returns the similarity of two normalized names on a 0..1 scale:
// one minus the edit distance divided by the longer length in runes.
// Empty names never match anything.
func Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// Match is the best candidate found by Best.
type Match struct {
	Node  common.StoredNode
	Score float64
}

// Best picks the candidate whose normalized label scores highest against
// normalizedName, provided the score reaches threshold. Ties keep the first
// candidate encountered. Candidates without a label are ignored.
func Best(candidates []common.StoredNode, normalizedName string, threshold float64) (*Match, bool) {
	if normalizedName == "" {
		return nil, false
	}

	var best *Match
	for _, c := range candidates {
		label := c.Label()
		if label == "" {
			continue
		}
		s := Score(normalizedName, NormalizeName(label))
		if s < threshold {
			continue
		}
		if best == nil || s > best.Score {
			best = &Match{Node: c, Score: s}
		}
	}
	return best, best != nil
}
