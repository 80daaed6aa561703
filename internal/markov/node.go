package markov

import "strings"

// NodeKind distinguishes the sentinels from word nodes.
type NodeKind uint8

const (
	KindStart NodeKind = iota
	KindWord
	KindEnd
)

func (k NodeKind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindWord:
		return "word"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Node is a vertex of the transition graph. Word nodes are identified by
// their exact, case-sensitive text across all tenants.
type Node struct {
	Kind NodeKind
	Text string
}

var (
	// Start precedes the first token of every sentence.
	Start = Node{Kind: KindStart}
	// End follows the last token of every sentence.
	End = Node{Kind: KindEnd}
)

// Word returns the node for text.
func Word(text string) Node {
	return Node{Kind: KindWord, Text: text}
}

const (
	startKey   = "^"
	endKey     = "$"
	wordPrefix = "w:"
)

// Key returns the storage encoding of n.
func (n Node) Key() string {
	switch n.Kind {
	case KindStart:
		return startKey
	case KindEnd:
		return endKey
	default:
		return wordPrefix + n.Text
	}
}

// ParseKey is the inverse of Node.Key.
func ParseKey(key string) (Node, bool) {
	switch {
	case key == startKey:
		return Start, true
	case key == endKey:
		return End, true
	case strings.HasPrefix(key, wordPrefix):
		return Word(key[len(wordPrefix):]), true
	default:
		return Node{}, false
	}
}

func (n Node) String() string {
	if n.Kind == KindWord {
		return n.Text
	}
	return "<" + n.Kind.String() + ">"
}
