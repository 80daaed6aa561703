package metrics

import (
	"context"
	"time"

	"github.com/schizoid/markovbot/internal/markov"
)

// InstrumentedStore records a count and a latency sample for every call to
// the wrapped store.
type InstrumentedStore struct {
	inner   markov.Store
	metrics *Collector
}

var _ markov.Store = (*InstrumentedStore)(nil)

// InstrumentStore wraps inner so its calls are recorded on c.
func InstrumentStore(inner markov.Store, c *Collector) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: c}
}

func (s *InstrumentedStore) UpsertEdge(ctx context.Context, tenant string, from, to markov.Node) (err error) {
	defer func(start time.Time) { s.metrics.observe("upsert_edge", start, err) }(time.Now())
	return s.inner.UpsertEdge(ctx, tenant, from, to)
}

func (s *InstrumentedStore) FetchOutgoing(ctx context.Context, tenant string, from markov.Node) (_ []markov.Candidate, err error) {
	defer func(start time.Time) { s.metrics.observe("fetch_outgoing", start, err) }(time.Now())
	return s.inner.FetchOutgoing(ctx, tenant, from)
}

func (s *InstrumentedStore) InitializeTenant(ctx context.Context, tenant string, forbidden []string) (err error) {
	defer func(start time.Time) { s.metrics.observe("initialize_tenant", start, err) }(time.Now())
	return s.inner.InitializeTenant(ctx, tenant, forbidden)
}

func (s *InstrumentedStore) ForbiddenWords(ctx context.Context, tenant string) (_ markov.WordSet, err error) {
	defer func(start time.Time) { s.metrics.observe("forbidden_words", start, err) }(time.Now())
	return s.inner.ForbiddenWords(ctx, tenant)
}

func (s *InstrumentedStore) AddForbiddenWord(ctx context.Context, tenant, word string) (err error) {
	defer func(start time.Time) { s.metrics.observe("add_forbidden_word", start, err) }(time.Now())
	return s.inner.AddForbiddenWord(ctx, tenant, word)
}

func (s *InstrumentedStore) RemoveForbiddenWord(ctx context.Context, tenant, word string) (err error) {
	defer func(start time.Time) { s.metrics.observe("remove_forbidden_word", start, err) }(time.Now())
	return s.inner.RemoveForbiddenWord(ctx, tenant, word)
}
