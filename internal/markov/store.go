package markov

import "context"

// EdgeStore persists the per-tenant transition graph.
type EdgeStore interface {
	// UpsertEdge records one observation of from -> to for tenant, creating
	// the edge with one use when absent. Each call must be atomic.
	UpsertEdge(ctx context.Context, tenant string, from, to Node) error

	// FetchOutgoing lists the transitions leaving from for tenant in a stable
	// order. Word destinations forbidden for tenant are left out.
	FetchOutgoing(ctx context.Context, tenant string, from Node) ([]Candidate, error)
}

// TenantStore manages tenants and their forbidden words.
type TenantStore interface {
	// InitializeTenant creates tenant with the given forbidden words. Calling
	// it again for an existing tenant changes nothing.
	InitializeTenant(ctx context.Context, tenant string, forbidden []string) error

	ForbiddenWords(ctx context.Context, tenant string) (WordSet, error)
	AddForbiddenWord(ctx context.Context, tenant, word string) error
	RemoveForbiddenWord(ctx context.Context, tenant, word string) error
}

// Store is everything the chain and its callers need from storage.
type Store interface {
	EdgeStore
	TenantStore
}
