package markov

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Candidate is a possible next node together with the number of times the
// transition to it was observed.
type Candidate struct {
	Next Node
	Uses uint64
}

// Source supplies uniform random integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

// DefaultSource draws from the goroutine-safe global generator.
var DefaultSource Source = globalSource{}

// Select picks one candidate with probability proportional to its uses.
func Select(candidates []Candidate, rng Source) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("%w: no candidates to select from", ErrInvalidInput)
	}

	cdf := make([]uint64, len(candidates))
	var total uint64
	for i, c := range candidates {
		total += c.Uses
		cdf[i] = total
	}
	if total == 0 {
		return Candidate{}, fmt.Errorf("%w: candidates carry no weight", ErrInvalidInput)
	}

	value := uint64(rng.Int64N(int64(total)))
	idx := sort.Search(len(cdf), func(i int) bool { return cdf[i] > value })

	return candidates[min(idx, len(candidates)-1)], nil
}
