// Package memory keeps the transition graph in process memory. Word texts are
// interned once for all tenants; edges live in per-tenant adjacency maps, each
// source node guarded by its own lock so concurrent upserts never lose counts.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/markov"
)

// nodeID indexes the intern table. The sentinels take the first two slots.
type nodeID uint32

const (
	startID nodeID = iota
	endID
	firstWordID
)

// adjacency holds the outgoing edges of one node for one tenant.
type adjacency struct {
	mu   sync.Mutex
	uses map[nodeID]uint64
}

type tenant struct {
	mu          sync.RWMutex
	edges       map[nodeID]*adjacency
	forbidden   markov.WordSet
	initialized bool
}

func newTenant(forbidden markov.WordSet) *tenant {
	return &tenant{
		edges:     make(map[nodeID]*adjacency),
		forbidden: forbidden,
	}
}

// Store is an in-memory markov.Store. The zero value is not usable; create one
// with New.
type Store struct {
	wordsMu sync.RWMutex
	words   []string // indexed by nodeID - firstWordID
	index   map[string]nodeID

	tenantsMu sync.RWMutex
	tenants   map[string]*tenant

	logger *zap.Logger
}

var _ markov.Store = (*Store)(nil)

// New returns an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		index:   make(map[string]nodeID),
		tenants: make(map[string]*tenant),
		logger:  logger,
	}
}

// intern returns the id of n, adding word texts to the table when missing.
func (s *Store) intern(n markov.Node) nodeID {
	switch n.Kind {
	case markov.KindStart:
		return startID
	case markov.KindEnd:
		return endID
	}

	s.wordsMu.RLock()
	id, ok := s.index[n.Text]
	s.wordsMu.RUnlock()
	if ok {
		return id
	}

	s.wordsMu.Lock()
	defer s.wordsMu.Unlock()
	if id, ok := s.index[n.Text]; ok {
		return id
	}
	id = nodeID(len(s.words)) + firstWordID
	s.words = append(s.words, n.Text)
	s.index[n.Text] = id
	return id
}

// lookup returns the id of n without interning it.
func (s *Store) lookup(n markov.Node) (nodeID, bool) {
	switch n.Kind {
	case markov.KindStart:
		return startID, true
	case markov.KindEnd:
		return endID, true
	}
	s.wordsMu.RLock()
	defer s.wordsMu.RUnlock()
	id, ok := s.index[n.Text]
	return id, ok
}

func (s *Store) node(id nodeID) markov.Node {
	switch id {
	case startID:
		return markov.Start
	case endID:
		return markov.End
	}
	s.wordsMu.RLock()
	defer s.wordsMu.RUnlock()
	return markov.Word(s.words[id-firstWordID])
}

// tenant returns the graph of name, creating an empty one when create is set.
func (s *Store) tenant(name string, create bool) *tenant {
	s.tenantsMu.RLock()
	t, ok := s.tenants[name]
	s.tenantsMu.RUnlock()
	if ok || !create {
		return t
	}

	s.tenantsMu.Lock()
	defer s.tenantsMu.Unlock()
	if t, ok := s.tenants[name]; ok {
		return t
	}
	t = newTenant(markov.NewWordSet())
	s.tenants[name] = t
	return t
}

func (t *tenant) adjacency(from nodeID) *adjacency {
	t.mu.RLock()
	adj, ok := t.edges[from]
	t.mu.RUnlock()
	if ok {
		return adj
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if adj, ok := t.edges[from]; ok {
		return adj
	}
	adj = &adjacency{uses: make(map[nodeID]uint64)}
	t.edges[from] = adj
	return adj
}

// UpsertEdge implements markov.EdgeStore.
func (s *Store) UpsertEdge(ctx context.Context, tenant string, from, to markov.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, dst := s.intern(from), s.intern(to)
	adj := s.tenant(tenant, true).adjacency(src)

	adj.mu.Lock()
	adj.uses[dst]++
	adj.mu.Unlock()
	return nil
}

// FetchOutgoing implements markov.EdgeStore. Candidates are ordered by the
// time their destination was first seen.
func (s *Store) FetchOutgoing(ctx context.Context, tenant string, from markov.Node) ([]markov.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := s.tenant(tenant, false)
	if t == nil {
		return nil, nil
	}
	src, ok := s.lookup(from)
	if !ok {
		return nil, nil
	}

	t.mu.RLock()
	adj, ok := t.edges[src]
	t.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	type edge struct {
		to   nodeID
		uses uint64
	}
	adj.mu.Lock()
	edges := make([]edge, 0, len(adj.uses))
	for to, uses := range adj.uses {
		edges = append(edges, edge{to, uses})
	}
	adj.mu.Unlock()
	slices.SortFunc(edges, func(a, b edge) int { return cmp.Compare(a.to, b.to) })

	t.mu.RLock()
	defer t.mu.RUnlock()
	candidates := make([]markov.Candidate, 0, len(edges))
	for _, e := range edges {
		next := s.node(e.to)
		if next.Kind == markov.KindWord && t.forbidden.Contains(next.Text) {
			continue
		}
		candidates = append(candidates, markov.Candidate{Next: next, Uses: e.uses})
	}
	return candidates, nil
}

// Uses returns the count of from -> to for tenant, zero when never observed.
// It reads a single counter without going through candidate filtering, and
// is the inspection API for callers that need exact counts, such as tests of
// packages built on top of the store.
func (s *Store) Uses(tenant string, from, to markov.Node) uint64 {
	t := s.tenant(tenant, false)
	if t == nil {
		return 0
	}
	src, ok := s.lookup(from)
	if !ok {
		return 0
	}
	dst, ok := s.lookup(to)
	if !ok {
		return 0
	}

	t.mu.RLock()
	adj, ok := t.edges[src]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	adj.mu.Lock()
	defer adj.mu.Unlock()
	return adj.uses[dst]
}

// InitializeTenant implements markov.TenantStore. Default words are only
// applied the first time a tenant is initialized.
func (s *Store) InitializeTenant(ctx context.Context, name string, forbidden []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := s.tenant(name, true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return nil
	}
	for _, w := range forbidden {
		t.forbidden.Add(w)
	}
	t.initialized = true
	s.logger.Info("tenant initialized", zap.String("tenant", name), zap.Int("forbidden", len(forbidden)))
	return nil
}

// ForbiddenWords implements markov.TenantStore. The returned set is a copy.
func (s *Store) ForbiddenWords(ctx context.Context, name string) (markov.WordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := s.tenant(name, false)
	if t == nil {
		return markov.NewWordSet(), nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return markov.NewWordSet(t.forbidden.Words()...), nil
}

// AddForbiddenWord implements markov.TenantStore.
func (s *Store) AddForbiddenWord(ctx context.Context, name, word string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.tenant(name, true)
	t.mu.Lock()
	t.forbidden.Add(word)
	t.mu.Unlock()
	return nil
}

// RemoveForbiddenWord implements markov.TenantStore.
func (s *Store) RemoveForbiddenWord(ctx context.Context, name, word string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.tenant(name, false)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.forbidden.Remove(word)
	t.mu.Unlock()
	return nil
}
