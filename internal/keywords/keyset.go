package keywords

import "strings"

// Normalize returns the case-insensitive identity of a keyword or tag:
// surrounding space trimmed, inner runs of whitespace collapsed, lowercased.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Clean trims and collapses whitespace but keeps case.
func Clean(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// KeySet is a set of normalized keys.
type KeySet map[string]struct{}

// NewKeySet builds a set from already-normalized keys.
func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether text (in any case) is in the set.
func (s KeySet) Has(text string) bool {
	_, ok := s[Normalize(text)]
	return ok
}

// Add inserts text and reports whether it was absent.
func (s KeySet) Add(text string) bool {
	k := Normalize(text)
	if k == "" {
		return false
	}
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// Novel returns the candidates whose normalized form is neither in s nor repeated earlier in
// candidates. The first spelling of each survivor is kept, cleaned, in input order. s is not modified.
func (s KeySet) Novel(candidates []string) []string {
	seen := make(KeySet, len(candidates))
	var out []string
	for _, c := range candidates {
		k := Normalize(c)
		if k == "" {
			continue
		}
		if _, ok := s[k]; ok {
			continue
		}
		if !seen.Add(k) {
			continue
		}
		out = append(out, Clean(c))
	}
	return out
}
