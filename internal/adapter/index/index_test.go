package index

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

type backendCase struct {
	name string
	open func(t *testing.T, dim int) port.VectorIndex
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T, dim int) port.VectorIndex {
			return NewMemoryIndex(similarity.Cosine, dim)
		}},
		{"bolt", func(t *testing.T, dim int) port.VectorIndex {
			idx, err := OpenBoltIndex(filepath.Join(t.TempDir(), "index.db"), similarity.Cosine, dim)
			require.NoError(t, err)
			t.Cleanup(func() { idx.Close() })
			return idx
		}},
		{"sqlite", func(t *testing.T, dim int) port.VectorIndex {
			idx, err := OpenSQLiteIndex(filepath.Join(t.TempDir(), "index.sqlite"), similarity.Cosine, dim)
			require.NoError(t, err)
			t.Cleanup(func() { idx.Close() })
			return idx
		}},
	}
}

func entry(id string, vec ...float32) port.Entry {
	return port.Entry{ID: id, Vector: vec, Grant: domain.Grant{ID: id, Title: "Title " + id, Description: "desc " + id}}
}

func TestIndex_UpsertQueryGet(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 3)

			require.NoError(t, idx.Upsert(ctx, []port.Entry{
				entry("A", 1, 0, 0),
				entry("B", 0, 1, 0),
				entry("C", 0.9, 0.1, 0),
			}))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "A", matches[0].ID)
			assert.Equal(t, "C", matches[1].ID)
			assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
			assert.Equal(t, "Title C", matches[1].Grant.Title)

			g, ok, err := idx.Get(ctx, "B")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "desc B", g.Description)

			_, ok, err = idx.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestIndex_ReplaceKeepsCountAndSequence(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)

			require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0), entry("B", 1, 0)}))

			replaced := entry("A", 1, 0)
			replaced.Grant.Title = "Updated"
			require.NoError(t, idx.Upsert(ctx, []port.Entry{replaced}))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			g, _, err := idx.Get(ctx, "A")
			require.NoError(t, err)
			assert.Equal(t, "Updated", g.Title)

			// equal scores fall back to first insertion order
			matches, err := idx.Query(ctx, []float32{1, 0}, 10)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "A", matches[0].ID)
			assert.Equal(t, "B", matches[1].ID)
			assert.Less(t, matches[0].Seq, matches[1].Seq)
		})
	}
}

func TestIndex_DuplicateInBatchLastWins(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)

			first := entry("A", 1, 0)
			second := entry("A", 0, 1)
			second.Grant.Title = "second"
			require.NoError(t, idx.Upsert(ctx, []port.Entry{first, second}))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			g, _, err := idx.Get(ctx, "A")
			require.NoError(t, err)
			assert.Equal(t, "second", g.Title)
		})
	}
}

func TestIndex_InvalidBatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	nan := float32(math.NaN())

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)
			require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0)}))

			bad := [][]port.Entry{
				{entry("B", 1, 0), entry("C", 1, 0, 0)},
				{entry("B", 1, 0), entry("C", nan, 1)},
				{entry("B", 1, 0), entry("C", 0, 0)},
				{entry("B", 1, 0), {ID: "", Vector: []float32{1, 0}}},
			}
			for _, batch := range bad {
				assert.Error(t, idx.Upsert(ctx, batch))
			}

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			_, ok, err := idx.Get(ctx, "B")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestIndex_QueryEdgeCases(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)

			matches, err := idx.Query(ctx, []float32{1, 0}, 5)
			require.NoError(t, err)
			assert.Empty(t, matches, "empty index")

			require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0)}))

			matches, err = idx.Query(ctx, []float32{1, 0}, 0)
			require.NoError(t, err)
			assert.Empty(t, matches, "k=0")

			_, err = idx.Query(ctx, []float32{1, 0, 0}, 5)
			assert.ErrorIs(t, err, domain.ErrInvalidInput, "dimension mismatch")

			matches, err = idx.Query(ctx, []float32{1, 0}, 100)
			require.NoError(t, err)
			assert.Len(t, matches, 1)
		})
	}
}

func TestIndex_Delete(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)
			require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0), entry("B", 0, 1)}))

			require.NoError(t, idx.Delete(ctx, []string{"A", "missing"}))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			_, ok, err := idx.Get(ctx, "A")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestIndex_ConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			idx := bc.open(t, 2)
			require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0)}))

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					e := entry("A", 0, 1)
					e.Grant.Title = "rewritten"
					assert.NoError(t, idx.Upsert(ctx, []port.Entry{e}))
				}()
				go func() {
					defer wg.Done()
					g, ok, err := idx.Get(ctx, "A")
					assert.NoError(t, err)
					assert.True(t, ok)
					// either the old or the new whole record
					assert.Contains(t, []string{"Title A", "rewritten"}, g.Title)
				}()
			}
			wg.Wait()
		})
	}
}

func TestBoltIndex_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenBoltIndex(path, similarity.Cosine, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0), entry("B", 0, 1)}))
	require.NoError(t, idx.Close())

	_, err = OpenBoltIndex(path, similarity.L2, 2)
	assert.Error(t, err, "metric change must be refused")

	idx, err = OpenBoltIndex(path, similarity.Cosine, 0)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("C", 1, 1)}))
	matches, err := idx.Query(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "C", matches[0].ID)
	// sequence continues after reopen
	assert.Greater(t, matches[0].Seq, matches[1].Seq)
}

func TestSQLiteIndex_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")

	idx, err := OpenSQLiteIndex(path, similarity.Cosine, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []port.Entry{entry("A", 1, 0)}))
	require.NoError(t, idx.Close())

	_, err = OpenSQLiteIndex(path, similarity.Cosine, 3)
	assert.Error(t, err, "dimension change must be refused")

	idx, err = OpenSQLiteIndex(path, similarity.Cosine, 2)
	require.NoError(t, err)
	defer idx.Close()

	g, ok, err := idx.Get(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Title A", g.Title)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	idx, err := Open("memory", "", similarity.Dot, 4)
	require.NoError(t, err)
	assert.Equal(t, "dot", idx.Metric())

	idx, err = Open("sqlite", filepath.Join(dir, "index.db"), similarity.Cosine, 4)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "index.sqlite"))
	idx.Close()

	_, err = Open("faiss", "", similarity.Cosine, 4)
	assert.Error(t, err)
}
