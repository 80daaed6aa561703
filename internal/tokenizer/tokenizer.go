// Package tokenizer splits chat messages into the words, punctuation marks and
// links the Markov chain is trained on.
//
// Splitting is heuristic: whitespace separates tokens, punctuation runes are
// emitted on their own, apostrophes stay inside words and http(s) links are
// kept whole up to the next whitespace. No locale-aware segmentation is done.
//
// All functions are safe for concurrent use by multiple goroutines.
package tokenizer

import (
	"iter"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// linkPrefixes are the schemes that start a link token.
var linkPrefixes = [...]string{"http://", "https://"}

// Tokens returns the tokens of text in order. The sequence is lazy and can be
// ranged over any number of times.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		s := normalize(text)
		links := linkSpans(s)

		start := 0
		for pos, r := range s {
			switch {
			case unicode.IsSpace(r):
				if start != pos && !yield(s[start:pos]) {
					return
				}
				start = pos + utf8.RuneLen(r)
			case unicode.IsPunct(r) && r != '\'' && !inSpans(links, pos):
				if start != pos && !yield(s[start:pos]) {
					return
				}
				size := utf8.RuneLen(r)
				if !yield(s[pos : pos+size]) {
					return
				}
				start = pos + size
			}
		}

		if start != len(s) {
			yield(s[start:])
		}
	}
}

// Split returns all tokens of text.
func Split(text string) []string {
	return slices.Collect(Tokens(text))
}

// IsPunctuation reports whether the first rune of token is a punctuation mark.
func IsPunctuation(token string) bool {
	r, _ := utf8.DecodeRuneInString(token)
	return unicode.IsPunct(r)
}

func normalize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return norm.NFC.String(text)
}

// linkSpans returns the byte extents of every link in s as a sorted,
// flattened list: start0, end0, start1, end1, ... A link runs from its scheme
// to the next whitespace rune, or to the end of s.
func linkSpans(s string) []int {
	var spans []int
	for offset := 0; offset < len(s); {
		idx := indexLink(s[offset:])
		if idx < 0 {
			break
		}
		start := offset + idx
		end := strings.IndexFunc(s[start:], unicode.IsSpace)
		if end < 0 {
			end = len(s)
		} else {
			end += start
		}
		spans = append(spans, start, end)
		offset = end
	}
	return spans
}

// indexLink returns the index of the earliest link prefix in s, or -1.
func indexLink(s string) int {
	first := -1
	for _, prefix := range linkPrefixes {
		if idx := strings.Index(s, prefix); idx >= 0 && (first < 0 || idx < first) {
			first = idx
		}
	}
	return first
}

// inSpans reports whether pos falls inside one of the flattened spans. An
// exact hit on a boundary counts as inside; otherwise an odd insertion point
// means pos sits between a start and its end.
func inSpans(spans []int, pos int) bool {
	if len(spans) == 0 {
		return false
	}
	idx, found := slices.BinarySearch(spans, pos)
	return found || idx&1 == 1
}
