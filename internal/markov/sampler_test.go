package markov

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same draw.
type fixedSource int64

func (f fixedSource) Int64N(n int64) int64 { return int64(f) % n }

func TestSelect_Empty(t *testing.T) {
	_, err := Select(nil, DefaultSource)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSelect_ZeroWeight(t *testing.T) {
	_, err := Select([]Candidate{{Next: Word("a")}, {Next: Word("b")}}, DefaultSource)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSelect_DrawBoundaries(t *testing.T) {
	candidates := []Candidate{{Next: Word("A"), Uses: 1}, {Next: Word("B"), Uses: 3}}

	tests := []struct {
		draw int64
		want string
	}{
		{0, "A"}, {1, "B"}, {2, "B"}, {3, "B"},
	}
	for _, tt := range tests {
		got, err := Select(candidates, fixedSource(tt.draw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Next.Text, "draw %d", tt.draw)
	}
}

func TestSelect_SkipsZeroWeightCandidates(t *testing.T) {
	candidates := []Candidate{
		{Next: Word("zero"), Uses: 0},
		{Next: Word("one"), Uses: 1},
		{Next: Word("tail"), Uses: 0},
	}
	for draw := int64(0); draw < 5; draw++ {
		got, err := Select(candidates, fixedSource(draw))
		require.NoError(t, err)
		assert.Equal(t, "one", got.Next.Text)
	}
}

func TestSelect_SeededDeterminism(t *testing.T) {
	candidates := []Candidate{{Next: Word("A"), Uses: 1}, {Next: Word("B"), Uses: 3}}

	draw := func() []string {
		rng := rand.New(rand.NewPCG(42, 7))
		picks := make([]string, 20)
		for i := range picks {
			c, err := Select(candidates, rng)
			require.NoError(t, err)
			picks[i] = c.Next.Text
		}
		return picks
	}

	assert.Equal(t, draw(), draw())
}

func TestSelect_Frequencies(t *testing.T) {
	candidates := []Candidate{{Next: Word("A"), Uses: 1}, {Next: Word("B"), Uses: 3}}
	rng := rand.New(rand.NewPCG(1, 2))

	counts := map[string]int{}
	const draws = 40000
	for range draws {
		c, err := Select(candidates, rng)
		require.NoError(t, err)
		counts[c.Next.Text]++
	}

	ratio := float64(counts["B"]) / float64(counts["A"])
	assert.InDelta(t, 3.0, ratio, 0.25)
}
