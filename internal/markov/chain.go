// Package markov implements a per-tenant word-level Markov chain: sentences
// are ingested as weighted Start -> word -> ... -> End transitions, and new
// text is produced by a weighted random walk over those transitions.
package markov

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/tokenizer"
)

// Chain ingests and generates sentences on top of a Store. It keeps no state
// of its own and is safe for concurrent use as long as its Source is.
type Chain struct {
	store    Store
	rng      Source
	logger   *zap.Logger
	observer Observer
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSource sets the random source used by generation.
func WithSource(rng Source) ChainOption {
	return func(c *Chain) { c.rng = rng }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) { c.logger = logger }
}

// WithObserver sets the observer notified of every ingestion and generation.
func WithObserver(o Observer) ChainOption {
	return func(c *Chain) { c.observer = o }
}

// NewChain returns a chain backed by store.
func NewChain(store Store, opts ...ChainOption) *Chain {
	c := &Chain{
		store:    store,
		rng:      DefaultSource,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying store.
func (c *Chain) Store() Store { return c.store }

// Ingest records the transitions of one tokenized sentence for tenant.
func (c *Chain) Ingest(ctx context.Context, tenant string, tokens []string) (err error) {
	defer func() { c.observer.SentenceIngested(tenant, len(tokens), err) }()

	if len(tokens) == 0 {
		return fmt.Errorf("%w: cannot ingest an empty sentence", ErrInvalidInput)
	}

	prev := Start
	for _, tok := range tokens {
		next := Word(tok)
		if err := c.upsert(ctx, tenant, prev, next); err != nil {
			return err
		}
		prev = next
	}
	return c.upsert(ctx, tenant, prev, End)
}

func (c *Chain) upsert(ctx context.Context, tenant string, from, to Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.UpsertEdge(ctx, tenant, from, to); err != nil {
		return fmt.Errorf("upsert %s -> %s: %w", from, to, err)
	}
	return nil
}

// ImportSentence tokenizes raw and ingests it. It returns the number of tokens
// ingested; text without any token is skipped.
func (c *Chain) ImportSentence(ctx context.Context, tenant, raw string) (int, error) {
	tokens := tokenizer.Split(raw)
	if len(tokens) == 0 {
		return 0, nil
	}
	if err := c.Ingest(ctx, tenant, tokens); err != nil {
		return 0, err
	}
	c.logger.Debug("sentence ingested", zap.String("tenant", tenant), zap.Int("tokens", len(tokens)))
	return len(tokens), nil
}

type walkOptions struct {
	maxTokens int
}

// GenerateOption configures a walk.
type GenerateOption func(*walkOptions)

// WithMaxTokens caps the number of emitted tokens. Zero or a negative value
// leaves the walk unbounded, which is only safe for trusted callers.
func WithMaxTokens(n int) GenerateOption {
	return func(o *walkOptions) { o.maxTokens = n }
}

// Walk produces the tokens of one sentence for tenant. It returns ErrNoData
// when the tenant has no starter words. Reaching the token cap, sampling End
// or running out of continuations all end the sentence normally.
func (c *Chain) Walk(ctx context.Context, tenant string, opts ...GenerateOption) (tokens []string, err error) {
	defer func() { c.observer.SentenceGenerated(tenant, len(tokens), err) }()

	var o walkOptions
	for _, opt := range opts {
		opt(&o)
	}

	candidates, err := c.fetch(ctx, tenant, Start)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoData
	}

	for {
		picked, err := Select(candidates, c.rng)
		if err != nil {
			return tokens, err
		}
		if picked.Next.Kind != KindWord {
			return tokens, nil
		}

		tokens = append(tokens, picked.Next.Text)
		if o.maxTokens > 0 && len(tokens) >= o.maxTokens {
			return tokens, nil
		}

		candidates, err = c.fetch(ctx, tenant, picked.Next)
		if err != nil {
			return tokens, err
		}
		if len(candidates) == 0 {
			c.logger.Debug("no continuation, ending sentence",
				zap.String("tenant", tenant),
				zap.String("word", picked.Next.Text),
				zap.Int("tokens", len(tokens)),
			)
			return tokens, nil
		}
	}
}

func (c *Chain) fetch(ctx context.Context, tenant string, from Node) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates, err := c.store.FetchOutgoing(ctx, tenant, from)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates after %s: %w", from, err)
	}
	return candidates, nil
}

// Generate walks the chain and renders the result as text.
func (c *Chain) Generate(ctx context.Context, tenant string, opts ...GenerateOption) (string, error) {
	tokens, err := c.Walk(ctx, tenant, opts...)
	if err != nil {
		return "", err
	}
	return Render(tokens), nil
}

// Render joins tokens with single spaces, except before punctuation, which
// hugs the preceding token.
func Render(tokens []string) string {
	var sb strings.Builder
	for i, tok := range tokens {
		if i > 0 && !tokenizer.IsPunctuation(tok) {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String()
}
