package memory

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/markov"
)

// snapshot is the gob form of a Store. Node ids are positions in Words offset
// by firstWordID, exactly as in memory.
type snapshot struct {
	Words   []string
	Tenants map[string]tenantSnapshot
}

type tenantSnapshot struct {
	Edges       []edgeRecord
	Forbidden   []string
	Initialized bool
}

type edgeRecord struct {
	From, To uint32
	Uses     uint64
}

// WriteTo encodes the store as a gob snapshot.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	snap := s.snapshot()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.WriteTo(w)
}

func (s *Store) snapshot() snapshot {
	s.tenantsMu.RLock()
	defer s.tenantsMu.RUnlock()

	// Words are read after tenants so every id referenced by an edge exists.
	snap := snapshot{Tenants: make(map[string]tenantSnapshot, len(s.tenants))}
	for name, t := range s.tenants {
		t.mu.RLock()
		ts := tenantSnapshot{Forbidden: t.forbidden.Words(), Initialized: t.initialized}
		for from, adj := range t.edges {
			adj.mu.Lock()
			for to, uses := range adj.uses {
				ts.Edges = append(ts.Edges, edgeRecord{From: uint32(from), To: uint32(to), Uses: uses})
			}
			adj.mu.Unlock()
		}
		t.mu.RUnlock()
		snap.Tenants[name] = ts
	}

	s.wordsMu.RLock()
	snap.Words = append([]string(nil), s.words...)
	s.wordsMu.RUnlock()
	return snap
}

// ReadFrom replaces the contents of the store with a gob snapshot.
func (s *Store) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	var snap snapshot
	if err := gob.NewDecoder(cr).Decode(&snap); err != nil {
		return cr.n, fmt.Errorf("decode snapshot: %w", err)
	}

	index := make(map[string]nodeID, len(snap.Words))
	for i, w := range snap.Words {
		index[w] = nodeID(i) + firstWordID
	}
	limit := uint32(len(snap.Words)) + uint32(firstWordID)

	tenants := make(map[string]*tenant, len(snap.Tenants))
	for name, ts := range snap.Tenants {
		t := newTenant(markov.NewWordSet(ts.Forbidden...))
		t.initialized = ts.Initialized
		for _, e := range ts.Edges {
			if e.From >= limit || e.To >= limit {
				return cr.n, fmt.Errorf("decode snapshot: tenant %q references unknown node", name)
			}
			t.adjacency(nodeID(e.From)).uses[nodeID(e.To)] = e.Uses
		}
		tenants[name] = t
	}

	s.wordsMu.Lock()
	s.words, s.index = snap.Words, index
	s.wordsMu.Unlock()

	s.tenantsMu.Lock()
	s.tenants = tenants
	s.tenantsMu.Unlock()
	return cr.n, nil
}

// Save writes a snapshot to path, replacing any previous one atomically.
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Info("snapshot saved", zap.String("path", path))
	return nil
}

// Load reads the snapshot at path. A missing file leaves the store empty.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("snapshot does not exist, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := s.ReadFrom(f); err != nil {
		return err
	}

	s.tenantsMu.RLock()
	tenants := len(s.tenants)
	s.tenantsMu.RUnlock()
	s.logger.Info("snapshot loaded", zap.String("path", path), zap.Int("tenants", tenants))
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
