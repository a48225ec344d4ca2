package vectorstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwatch/internal/adapter/cache"
	"grantwatch/internal/adapter/embedding"
	"grantwatch/internal/adapter/index"
	"grantwatch/internal/domain"
	"grantwatch/internal/similarity"
)

func sampleGrants() []domain.Grant {
	return []domain.Grant{
		{
			ID:             "TEST-CYBER-001",
			Title:          "Cybersecurity Research Initiative",
			Agency:         "National Science Foundation",
			Description:    "This grant supports research in cybersecurity, focusing on threat detection, vulnerability assessment, and secure system design. Projects should advance the state of knowledge in cybersecurity analytics and AI-driven security solutions.",
			Category:       "Science and Technology",
			InstrumentType: "Grant",
			PostedDate:     "2024-01-15",
			CloseDate:      "2024-06-15",
			AwardCeiling:   "$500,000",
		},
		{
			ID:             "TEST-AI-002",
			Title:          "Artificial Intelligence for Healthcare",
			Agency:         "National Institutes of Health",
			Description:    "Research grants for developing AI and machine learning applications in healthcare, including diagnostic tools, treatment optimization, and patient care automation. Focus on ethical AI and explainable algorithms.",
			Category:       "Health",
			InstrumentType: "Research Grant",
			PostedDate:     "2024-02-01",
			CloseDate:      "2024-07-01",
			AwardCeiling:   "$750,000",
		},
		{
			ID:             "TEST-DATA-003",
			Title:          "Big Data Analytics for Climate Science",
			Agency:         "Department of Energy",
			Description:    "Support for data science projects analyzing climate data using advanced analytics, machine learning, and predictive modeling. Projects should contribute to understanding climate change patterns and impacts.",
			Category:       "Environment",
			InstrumentType: "Cooperative Agreement",
			PostedDate:     "2024-01-30",
			CloseDate:      "2024-08-30",
			AwardCeiling:   "$1,000,000",
		},
		{
			ID:             "TEST-EDU-004",
			Title:          "STEM Education Technology Innovation",
			Agency:         "Department of Education",
			Description:    "Grants for developing innovative educational technologies in STEM fields, including AI tutoring systems, virtual laboratories, and adaptive learning platforms.",
			Category:       "Education",
			InstrumentType: "Grant",
			PostedDate:     "2024-02-15",
			CloseDate:      "2024-09-15",
			AwardCeiling:   "$300,000",
		},
		{
			ID:             "TEST-DEFENSE-005",
			Title:          "Advanced Defense Technologies",
			Agency:         "Department of Defense",
			Description:    "Research and development of advanced defense technologies including autonomous systems, cybersecurity for critical infrastructure, and AI-enhanced threat detection systems.",
			Category:       "Defense",
			InstrumentType: "Contract",
			PostedDate:     "2024-01-01",
			CloseDate:      "2024-12-31",
			AwardCeiling:   "$2,000,000",
		},
	}
}

// countingEmbedder wraps the hash embedder, counts calls and can be told to fail or corrupt.
type countingEmbedder struct {
	inner   *embedding.HashEmbedder
	calls   atomic.Int32
	failOn  int32 // fail the n-th call (1-based), 0 = never
	corrupt bool

	gate    chan struct{} // when set, Embed waits for it to close
	started chan struct{}
	sawDone atomic.Bool
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: embedding.NewHashEmbedder(256)}
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := c.calls.Add(1)
	if c.gate != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
		<-c.gate
		if ctx.Err() != nil {
			c.sawDone.Store(true)
		}
	}
	if c.failOn != 0 && n == c.failOn {
		return nil, errors.New("provider timeout")
	}
	vecs, err := c.inner.Embed(ctx, texts)
	if err == nil && c.corrupt {
		vecs[len(vecs)-1][0] = float32(math.NaN())
	}
	return vecs, err
}

func (c *countingEmbedder) Dimension() int    { return c.inner.Dimension() }
func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }

func newManager(t *testing.T, emb *countingEmbedder, opts Options) *Manager {
	t.Helper()
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	m, err := New(emb, index.NewMemoryIndex(similarity.Cosine, emb.Dimension()), opts)
	require.NoError(t, err)
	return m
}

func indexedManager(t *testing.T) *Manager {
	t.Helper()
	m := newManager(t, newCountingEmbedder(), Options{})
	require.True(t, m.IndexGrants(context.Background(), sampleGrants()))
	return m
}

func TestIndexGrants_Empty(t *testing.T) {
	emb := newCountingEmbedder()
	m := newManager(t, emb, Options{})

	assert.True(t, m.IndexGrants(context.Background(), nil))
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestIndexGrants_StatsCountMatches(t *testing.T) {
	m := indexedManager(t)

	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalIndexed)
	assert.Equal(t, 256, stats.Dimension)
	assert.Equal(t, "hash", stats.Model)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, "cosine", stats.Metric)
	assert.Equal(t, int64(1), stats.IndexCalls)
	assert.False(t, stats.LastIndexedAt.IsZero())

	// indexing the same records again must not duplicate them
	require.True(t, m.IndexGrants(context.Background(), sampleGrants()))
	stats, err = m.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalIndexed)
}

func TestIndexGrants_ReindexReplaces(t *testing.T) {
	ctx := context.Background()
	m := indexedManager(t)

	updated := sampleGrants()[0]
	updated.Description = "Revised call focused on post-quantum cryptography for federal networks."
	require.True(t, m.IndexGrants(ctx, []domain.Grant{updated}))

	g, ok, err := m.GetGrantByID(ctx, "TEST-CYBER-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, updated.Description, g.Description)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalIndexed)
}

func TestIndex_RejectsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newCountingEmbedder(), Options{})

	grants := sampleGrants()
	grants = append(grants,
		domain.Grant{ID: "", Description: "no id"},
		domain.Grant{ID: "NO-DESC", Title: "Title only"},
		domain.Grant{ID: "   ", Description: "blank id"},
	)

	res, err := m.Index(ctx, grants)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Indexed)
	require.Len(t, res.Rejected, 3)
	assert.Equal(t, "NO-DESC", res.Rejected[1].ID)
	assert.Equal(t, "missing FUNDING_DESCRIPTION", res.Rejected[1].Reason)
	assert.Equal(t, 7, res.Rejected[2].Index)

	_, ok, err := m.GetGrantByID(ctx, "NO-DESC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_DuplicateIDLastWins(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newCountingEmbedder(), Options{})

	first := sampleGrants()[1]
	second := first
	second.AwardCeiling = "$900,000"

	res, err := m.Index(ctx, []domain.Grant{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)

	g, ok, err := m.GetGrantByID(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "$900,000", g.AwardCeiling)
}

func TestIndex_EmbeddingFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder()
	emb.failOn = 2
	m := newManager(t, emb, Options{BatchSize: 2})

	res, err := m.Index(ctx, sampleGrants())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalIndexed, "first batch must not be written")
	assert.Equal(t, int64(1), stats.FailedIndexes)

	// IndexGrants reports the same failure as false
	emb.calls.Store(0)
	assert.False(t, m.IndexGrants(ctx, sampleGrants()))
}

func TestIndex_MalformedVectorIsAtomic(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder()
	emb.corrupt = true
	m := newManager(t, emb, Options{})

	assert.False(t, m.IndexGrants(ctx, sampleGrants()))

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalIndexed)
}

func TestSearchGrants_CybersecurityOutranksEducation(t *testing.T) {
	m := indexedManager(t)

	results, err := m.SearchGrants(context.Background(), "cybersecurity AI", 5)
	require.NoError(t, err)

	rank := make(map[string]int)
	for i, r := range results {
		rank[r.ID] = i
	}
	cyber, ok := rank["TEST-CYBER-001"]
	require.True(t, ok, "cybersecurity grant must be returned")
	if edu, ok := rank["TEST-EDU-004"]; ok {
		assert.Less(t, cyber, edu)
		assert.Greater(t, results[cyber].Similarity, results[edu].Similarity)
	}
}

func TestSearchGrants_OrderingAndRange(t *testing.T) {
	m := indexedManager(t)

	results, err := m.SearchGrants(context.Background(), "machine learning", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, r.Similarity, results[i-1].Similarity)
		}
	}
}

func TestSearchGrants_TopK(t *testing.T) {
	ctx := context.Background()
	m := indexedManager(t)

	for _, k := range []int{0, -1, -50} {
		_, err := m.SearchGrants(ctx, "cybersecurity", k)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "top_k=%d", k)
	}

	results, err := m.SearchGrants(ctx, "research", 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 5)

	results, err = m.SearchGrants(ctx, "research", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchGrants_ClampsToMax(t *testing.T) {
	m := newManager(t, newCountingEmbedder(), Options{MaxTopK: 2})
	require.True(t, m.IndexGrants(context.Background(), sampleGrants()))

	results, err := m.SearchGrants(context.Background(), "research", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchGrants_InvalidQuery(t *testing.T) {
	m := indexedManager(t)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := m.SearchGrants(context.Background(), q, 3)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
}

func TestSearchGrants_EmptyResults(t *testing.T) {
	ctx := context.Background()

	empty := newManager(t, newCountingEmbedder(), Options{})
	results, err := empty.SearchGrants(ctx, "cybersecurity", 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	m := indexedManager(t)
	results, err = m.SearchGrants(ctx, "?!", 3)
	require.NoError(t, err)
	assert.Empty(t, results, "query without content terms")

	strict := newManager(t, newCountingEmbedder(), Options{MinSimilarity: 0.99})
	require.True(t, strict.IndexGrants(ctx, sampleGrants()))
	results, err = strict.SearchGrants(ctx, "cybersecurity AI", 3)
	require.NoError(t, err)
	assert.Empty(t, results, "nothing clears the floor")
}

func TestSearchGrants_UpstreamFailure(t *testing.T) {
	emb := newCountingEmbedder()
	m := newManager(t, emb, Options{})
	require.True(t, m.IndexGrants(context.Background(), sampleGrants()))

	emb.failOn = emb.calls.Load() + 1
	_, err := m.SearchGrants(context.Background(), "cybersecurity", 3)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSearchGrants_CacheInvalidatedByIndex(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder()
	m := newManager(t, emb, Options{Cache: cache.NewQueryCache(10, time.Minute)})
	require.True(t, m.IndexGrants(ctx, sampleGrants()[:4]))
	base := emb.calls.Load()

	first, err := m.SearchGrants(ctx, "cybersecurity", 5)
	require.NoError(t, err)
	_, err = m.SearchGrants(ctx, "cybersecurity", 5)
	require.NoError(t, err)
	assert.Equal(t, base+1, emb.calls.Load(), "second search served from cache")

	require.True(t, m.IndexGrants(ctx, sampleGrants()[4:]))
	second, err := m.SearchGrants(ctx, "cybersecurity", 5)
	require.NoError(t, err)
	assert.Greater(t, len(second), len(first), "new record visible after reindex")
}

func TestGetGrantByID(t *testing.T) {
	ctx := context.Background()
	m := indexedManager(t)

	g, ok, err := m.GetGrantByID(ctx, "TEST-AI-002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Artificial Intelligence for Healthcare", g.Title)
	assert.Equal(t, "$750,000", g.AwardCeiling)

	g, ok, err = m.GetGrantByID(ctx, "TEST-NOPE-999")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.Grant{}, g)

	// near miss is still absent
	_, ok, err = m.GetGrantByID(ctx, "TEST-AI-00")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = m.GetGrantByID(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRemoveGrants(t *testing.T) {
	ctx := context.Background()
	m := indexedManager(t)

	require.NoError(t, m.RemoveGrants(ctx, []string{"TEST-EDU-004", "", "TEST-NOPE"}))

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalIndexed)

	_, ok, err := m.GetGrantByID(ctx, "TEST-EDU-004")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_ConcurrentReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	m := indexedManager(t)

	original := sampleGrants()[2]
	amended := original
	amended.Title = "Big Data Analytics for Climate Science (Amended)"
	amended.Description = "Amended call: climate data science projects using advanced analytics and predictive modeling at regional scale."
	amended.CloseDate = "2024-10-31"
	amended.AwardCeiling = "$1,250,000"
	versions := []domain.Grant{original, amended}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			results, err := m.SearchGrants(ctx, "climate data", 3)
			assert.NoError(t, err)
			for _, r := range results {
				if r.ID != original.ID {
					continue
				}
				whole := (r.Title == original.Title && r.CloseDate == original.CloseDate && r.AwardCeiling == original.AwardCeiling) ||
					(r.Title == amended.Title && r.CloseDate == amended.CloseDate && r.AwardCeiling == amended.AwardCeiling)
				assert.True(t, whole, "search result mixes versions: %+v", r)
			}
		}()
		go func() {
			defer wg.Done()
			g, ok, err := m.GetGrantByID(ctx, original.ID)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Contains(t, versions, g, "read must return one whole version")
		}()
		go func(v domain.Grant) {
			defer wg.Done()
			assert.True(t, m.IndexGrants(ctx, []domain.Grant{v}))
		}(versions[i%2])
	}
	wg.Wait()

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalIndexed)

	g, ok, err := m.GetGrantByID(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, versions, g)
}

func TestSearchGrants_CancelledCallerDoesNotFailSharedEmbed(t *testing.T) {
	emb := newCountingEmbedder()
	m := newManager(t, emb, Options{})
	require.True(t, m.IndexGrants(context.Background(), sampleGrants()))

	emb.gate = make(chan struct{})
	emb.started = make(chan struct{}, 1)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.SearchGrants(first, "wildfire resilience", 3)
		firstErr <- err
	}()
	<-emb.started

	type outcome struct {
		results []domain.SearchResult
		err     error
	}
	second := make(chan outcome, 1)
	go func() {
		results, err := m.SearchGrants(context.Background(), "wildfire resilience", 3)
		second <- outcome{results, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(emb.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.False(t, emb.sawDone.Load(), "shared embed ran under a cancelled context")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, index.NewMemoryIndex(similarity.Cosine, 0), Options{})
	assert.Error(t, err)
}
