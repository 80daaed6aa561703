package memory

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schizoid/markovbot/internal/markov"
)

func words(candidates []markov.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Next.String())
	}
	return out
}

func TestUpsertEdge_CountsAndOrder(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, "g1", markov.Start, markov.Word("b")))
	require.NoError(t, s.UpsertEdge(ctx, "g1", markov.Start, markov.Word("a")))
	require.NoError(t, s.UpsertEdge(ctx, "g1", markov.Start, markov.Word("b")))

	got, err := s.FetchOutgoing(ctx, "g1", markov.Start)
	require.NoError(t, err)
	assert.Equal(t, []markov.Candidate{
		{Next: markov.Word("b"), Uses: 2},
		{Next: markov.Word("a"), Uses: 1},
	}, got)
}

func TestUpsertEdge_TenantsAreIsolated(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, "g1", markov.Word("hi"), markov.End))
	require.NoError(t, s.UpsertEdge(ctx, "g2", markov.Word("hi"), markov.Word("there")))

	got, err := s.FetchOutgoing(ctx, "g1", markov.Word("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<end>"}, words(got))

	got, err = s.FetchOutgoing(ctx, "g2", markov.Word("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"there"}, words(got))

	// Word identity is shared: "hi" was interned once.
	assert.Len(t, s.words, 2)
}

func TestFetchOutgoing_Unknown(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	got, err := s.FetchOutgoing(ctx, "nobody", markov.Start)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.UpsertEdge(ctx, "g", markov.Start, markov.Word("x")))
	got, err = s.FetchOutgoing(ctx, "g", markov.Word("never-seen"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertEdge_ConcurrentIncrementsAreExact(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	const workers, perWorker = 16, 250
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				assert.NoError(t, s.UpsertEdge(ctx, "g", markov.Word("a"), markov.Word("b")))
				assert.NoError(t, s.UpsertEdge(ctx, "g", markov.Start, markov.Word("a")))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), s.Uses("g", markov.Word("a"), markov.Word("b")))
	assert.Equal(t, uint64(workers*perWorker), s.Uses("g", markov.Start, markov.Word("a")))
}

func TestUpsertEdge_Cancelled(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.UpsertEdge(ctx, "g", markov.Start, markov.Word("a"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Uses("g", markov.Start, markov.Word("a")))
}

func TestForbiddenWords_FilterAtFetch(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, "g", markov.Start, markov.Word("X")))
	require.NoError(t, s.UpsertEdge(ctx, "g", markov.Start, markov.Word("y")))
	require.NoError(t, s.UpsertEdge(ctx, "other", markov.Start, markov.Word("X")))

	require.NoError(t, s.AddForbiddenWord(ctx, "g", "x"))

	got, err := s.FetchOutgoing(ctx, "g", markov.Start)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, words(got))
	assert.Equal(t, uint64(1), s.Uses("g", markov.Start, markov.Word("X")))

	got, err = s.FetchOutgoing(ctx, "other", markov.Start)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, words(got))

	require.NoError(t, s.RemoveForbiddenWord(ctx, "g", "X"))
	got, err = s.FetchOutgoing(ctx, "g", markov.Start)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "y"}, words(got))
}

func TestInitializeTenant_Idempotent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.InitializeTenant(ctx, "g", []string{"foo", "Bar"}))
	require.NoError(t, s.RemoveForbiddenWord(ctx, "g", "foo"))
	require.NoError(t, s.InitializeTenant(ctx, "g", []string{"foo", "Bar"}))

	set, err := s.ForbiddenWords(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, set.Words())
	assert.True(t, set.Contains("bar"))
}

func TestInitializeTenant_AfterIngestionSeedsDefaults(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, "g", markov.Start, markov.Word("a")))
	require.NoError(t, s.InitializeTenant(ctx, "g", []string{"a"}))

	got, err := s.FetchOutgoing(ctx, "g", markov.Start)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestForbiddenWords_ReturnsCopy(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.AddForbiddenWord(ctx, "g", "a"))

	set, err := s.ForbiddenWords(ctx, "g")
	require.NoError(t, err)
	set.Add("b")

	again, err := s.ForbiddenWords(ctx, "g")
	require.NoError(t, err)
	assert.False(t, again.Contains("b"))
}

func TestSnapshot_SaveLoad(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	chain := markov.NewChain(s)

	for range 3 {
		_, err := chain.ImportSentence(ctx, "g", "the cat sat.")
		require.NoError(t, err)
	}
	require.NoError(t, s.InitializeTenant(ctx, "g", []string{"dog"}))

	path := filepath.Join(t.TempDir(), "models", "brain.gob")
	require.NoError(t, s.Save(path))

	loaded := New(nil)
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, uint64(3), loaded.Uses("g", markov.Start, markov.Word("the")))
	assert.Equal(t, uint64(3), loaded.Uses("g", markov.Word("sat"), markov.Word(".")))
	assert.Equal(t, uint64(3), loaded.Uses("g", markov.Word("."), markov.End))

	set, err := loaded.ForbiddenWords(ctx, "g")
	require.NoError(t, err)
	assert.True(t, set.Contains("dog"))

	// The restored tenant keeps its initialized state.
	require.NoError(t, loaded.InitializeTenant(ctx, "g", []string{"cat"}))
	set, err = loaded.ForbiddenWords(ctx, "g")
	require.NoError(t, err)
	assert.False(t, set.Contains("cat"))

	text, err := markov.NewChain(loaded).Generate(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "the cat sat.", text)
}

func TestLoad_MissingFile(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Load(filepath.Join(t.TempDir(), "missing.gob")))

	_, err := markov.NewChain(s).Generate(context.Background(), "g")
	assert.ErrorIs(t, err, markov.ErrNoData)
}

func TestReadFrom_Garbage(t *testing.T) {
	s := New(nil)
	_, err := s.ReadFrom(bytes.NewBufferString("not a snapshot"))
	assert.Error(t, err)
}

func TestChain_IngestionInvariant(t *testing.T) {
	s := New(nil)
	chain := markov.NewChain(s)
	ctx := context.Background()
	tokens := []string{"a", "b", "a", "b", "c"}

	const n = 7
	for range n {
		require.NoError(t, chain.Ingest(ctx, "g", tokens))
	}

	assert.Equal(t, uint64(n), s.Uses("g", markov.Start, markov.Word("a")))
	assert.Equal(t, uint64(2*n), s.Uses("g", markov.Word("a"), markov.Word("b")))
	assert.Equal(t, uint64(n), s.Uses("g", markov.Word("b"), markov.Word("a")))
	assert.Equal(t, uint64(n), s.Uses("g", markov.Word("b"), markov.Word("c")))
	assert.Equal(t, uint64(n), s.Uses("g", markov.Word("c"), markov.End))
}
