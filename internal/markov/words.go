package markov

import (
	"maps"
	"slices"

	"golang.org/x/text/cases"
)

// FoldWord returns the case-folded form used to compare forbidden words.
func FoldWord(word string) string {
	return cases.Fold().String(word)
}

// WordSet is a case-insensitive set of words. The zero value is not usable;
// create one with NewWordSet.
type WordSet map[string]string

// NewWordSet returns a set holding words.
func NewWordSet(words ...string) WordSet {
	s := make(WordSet, len(words))
	for _, w := range words {
		s.Add(w)
	}
	return s
}

// Add inserts word, keeping the first spelling seen.
func (s WordSet) Add(word string) {
	key := FoldWord(word)
	if _, ok := s[key]; !ok {
		s[key] = word
	}
}

// Remove deletes word regardless of case.
func (s WordSet) Remove(word string) {
	delete(s, FoldWord(word))
}

// Contains reports whether word is in the set regardless of case.
func (s WordSet) Contains(word string) bool {
	_, ok := s[FoldWord(word)]
	return ok
}

// Words returns the stored spellings in sorted order.
func (s WordSet) Words() []string {
	return slices.Sorted(maps.Values(s))
}
