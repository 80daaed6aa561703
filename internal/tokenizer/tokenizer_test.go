package tokenizer

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"only whitespace", " \t\n ", nil},
		{"simple sentence", "Hello world.", []string{"Hello", "world", "."}},
		{"link stays whole", "Hello there https://example.com?query=string,param:for#you",
			[]string{"Hello", "there", "https://example.com?query=string,param:for#you"}},
		{"apostrophe inside word", "isn't it?!", []string{"isn't", "it", "?", "!"}},
		{"long sentence", "This, yes this, is quite a long sentence isn't it?!?!?!?", []string{
			"This", ",", "yes", "this", ",", "is", "quite", "a", "long", "sentence",
			"isn't", "it", "?", "!", "?", "!", "?", "!", "?",
		}},
		{"plain http link", "see http://a.b/c, ok", []string{"see", "http://a.b/c,", "ok"}},
		{"trailing punctuation joins link", "go to https://x.io.", []string{"go", "to", "https://x.io."}},
		{"punctuation before link splits", "(https://x.io)", []string{"(", "https://x.io)"}},
		{"two links", "https://a.io and http://b.io!", []string{"https://a.io", "and", "http://b.io!"}},
		{"punctuation after link is split", "https://a.io ok.", []string{"https://a.io", "ok", "."}},
		{"scheme without link is punctuation", "http: no", []string{"http", ":", "no"}},
		{"multiple spaces", "a   b\t\tc", []string{"a", "b", "c"}},
		{"unicode words", "Привет, мир!", []string{"Привет", ",", "мир", "!"}},
		{"leading apostrophe", "'tis fine", []string{"'tis", "fine"}},
		{"symbols are absorbed", "a+b=c", []string{"a+b=c"}},
		{"non-breaking space separates", "a\u00a0b", []string{"a", "b"}},
		{"hyphen splits", "well-known", []string{"well", "-", "known"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.input))
		})
	}
}

func TestSplit_NormalizesToNFC(t *testing.T) {
	decomposed := "cafe\u0301"
	got := Split(decomposed + " ok")

	require.Len(t, got, 2)
	assert.Equal(t, "caf\u00e9", got[0])
}

func TestSplit_InvalidUTF8(t *testing.T) {
	got := Split("ab\xffcd ef")

	require.Len(t, got, 2)
	assert.True(t, utf8.ValidString(got[0]))
	assert.Equal(t, "ef", got[1])
}

func TestTokens_Restartable(t *testing.T) {
	seq := Tokens("one two, three")

	var first, second []string
	for tok := range seq {
		first = append(first, tok)
	}
	for tok := range seq {
		second = append(second, tok)
	}

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"one", "two", ",", "three"}, first)
}

func TestTokens_EarlyBreak(t *testing.T) {
	var got []string
	for tok := range Tokens("a, b c d") {
		got = append(got, tok)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", ","}, got)
}

func TestSplit_WordsIdempotent(t *testing.T) {
	words := []string{"the", "quick", "brown", "fox", "isn't", "Ærøskøbing"}
	assert.Equal(t, words, Split(strings.Join(words, " ")))
}

func TestIsPunctuation(t *testing.T) {
	assert.True(t, IsPunctuation("."))
	assert.True(t, IsPunctuation("¿"))
	assert.False(t, IsPunctuation("word"))
	assert.False(t, IsPunctuation(""))
	assert.False(t, IsPunctuation("+"))
}

func TestInSpans(t *testing.T) {
	spans := []int{2, 5, 10, 12}

	tests := []struct {
		pos  int
		want bool
	}{
		{0, false}, {2, true}, {3, true}, {5, true}, {6, false},
		{10, true}, {11, true}, {12, true}, {13, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inSpans(spans, tt.pos), "pos %d", tt.pos)
	}
	assert.False(t, inSpans(nil, 0))
}

func FuzzTokens(f *testing.F) {
	f.Add("Hello world.")
	f.Add("isn't it?!")
	f.Add("Hello there https://example.com?query=string,param:for#you")
	f.Add("https://")
	f.Add("")

	f.Fuzz(func(t *testing.T, s string) {
		for tok := range Tokens(s) {
			if tok == "" {
				t.Fatalf("empty token for %q", s)
			}
			if !utf8.ValidString(tok) {
				t.Fatalf("invalid UTF-8 token %q", tok)
			}
			if strings.IndexFunc(tok, unicode.IsSpace) >= 0 {
				t.Fatalf("token %q contains whitespace", tok)
			}
		}
	})
}
