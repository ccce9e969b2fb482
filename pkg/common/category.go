package common

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DefaultNodeType  = "Entity"
	DefaultEdgeLabel = "RELATED_TO"
)

// CategoryKind tells whether a category groups nodes or edges.
type CategoryKind string

const (
	NodeCategory CategoryKind = "node"
	EdgeCategory CategoryKind = "edge"
)

// Category is a schema-level grouping: a node label or an edge type.
type Category struct {
	Kind CategoryKind `json:"kind"`
	Name string       `json:"name"`
}

// SanitizeCategory turns a free-form type or label into an identifier-safe
// category name: everything except letters and digits is dropped and every
// remaining word is title-cased ("work history" -> "WorkHistory"). When
// nothing survives, the sanitized fallback is returned.
func SanitizeCategory(raw, fallback string) string {
	if name := sanitizeWords(raw); name != "" {
		return name
	}
	return sanitizeWords(fallback)
}

func sanitizeWords(raw string) string {
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	caser := cases.Title(language.Und)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(caser.String(w))
	}
	return b.String()
}

// ValidCategory reports whether name is safe to embed in a query as a label.
func ValidCategory(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
