// Package vectorstore embeds, indexes and retrieves grant records.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"grantwatch/internal/adapter/cache"
	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

// Options configures a Manager.
type Options struct {
	// Backend names the index implementation in stats.
	Backend string
	// MaxTopK bounds the number of results a single search may request.
	MaxTopK int
	// MinSimilarity drops results whose normalized score is below it.
	MinSimilarity float64
	// BatchSize is the number of texts sent to the embedder per call.
	BatchSize int
	// Cache memoizes search results. Nil disables caching.
	Cache  *cache.QueryCache
	Logger *slog.Logger
}

// IndexResult reports the outcome of an Index call.
type IndexResult struct {
	Indexed  int
	Rejected []Rejection
}

// Rejection names a record skipped before embedding and why.
type Rejection struct {
	Index  int // position in the input
	ID     string
	Reason string
}

// Manager owns the embedder and the vector index handle.
// Reads run concurrently; writes are serialized.
type Manager struct {
	embedder port.Embedder
	index    port.VectorIndex
	metric   similarity.Metric
	opts     Options
	cache    *cache.QueryCache
	logger   *slog.Logger

	writeMu sync.Mutex
	queries singleflight.Group

	indexCalls    atomic.Int64
	failedIndexes atomic.Int64
	searches      atomic.Int64
	lastIndexed   atomic.Int64 // unix nanos, 0 = never
}

// New creates a Manager over an injected embedder and index.
func New(embedder port.Embedder, index port.VectorIndex, opts Options) (*Manager, error) {
	if embedder == nil || index == nil {
		return nil, errors.New("vectorstore: embedder and index are required")
	}
	metric, err := similarity.ParseMetric(index.Metric())
	if err != nil {
		return nil, err
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 50
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		embedder: embedder,
		index:    index,
		metric:   metric,
		opts:     opts,
		cache:    opts.Cache,
		logger:   opts.Logger.With(slog.String("component", "vectorstore")),
	}, nil
}

// IndexGrants indexes grants and reports success. Failures are logged, never returned.
func (m *Manager) IndexGrants(ctx context.Context, grants []domain.Grant) bool {
	if _, err := m.Index(ctx, grants); err != nil {
		m.logger.Error("index grants failed",
			slog.Int("records", len(grants)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Index embeds and upserts grants atomically. Malformed records are skipped and
// reported in the result; an embedding or index failure writes nothing and
// returns an error wrapping domain.ErrUpstreamUnavailable.
func (m *Manager) Index(ctx context.Context, grants []domain.Grant) (*IndexResult, error) {
	result := &IndexResult{}
	if len(grants) == 0 {
		return result, nil
	}
	m.indexCalls.Add(1)

	var (
		accepted []domain.Grant
		texts    []string
		position = make(map[string]int)
	)
	for i, raw := range grants {
		g := raw.Normalized()
		text := embeddingText(g)
		if reason := rejectReason(g, text); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{Index: i, ID: g.ID, Reason: reason})
			continue
		}
		// last occurrence of a duplicate id wins
		if pos, dup := position[g.ID]; dup {
			accepted[pos] = g
			texts[pos] = text
			continue
		}
		position[g.ID] = len(accepted)
		accepted = append(accepted, g)
		texts = append(texts, text)
	}

	for _, r := range result.Rejected {
		m.logger.Warn("rejected grant record",
			slog.Int("position", r.Index),
			slog.String("id", r.ID),
			slog.String("reason", r.Reason))
	}
	if len(accepted) == 0 {
		return result, nil
	}

	vectors, err := m.embedAll(ctx, texts)
	if err != nil {
		m.failedIndexes.Add(1)
		return nil, err
	}

	entries := make([]port.Entry, len(accepted))
	for i, g := range accepted {
		entries[i] = port.Entry{ID: g.ID, Vector: vectors[i], Grant: g}
	}

	m.writeMu.Lock()
	err = m.index.Upsert(ctx, entries)
	if err == nil && m.cache != nil {
		m.cache.Invalidate()
	}
	m.writeMu.Unlock()

	if err != nil {
		m.failedIndexes.Add(1)
		return nil, upstreamErr("upsert", err)
	}

	m.lastIndexed.Store(time.Now().UnixNano())
	result.Indexed = len(entries)

	m.logger.Info("indexed grants",
		slog.Int("indexed", result.Indexed),
		slog.Int("rejected", len(result.Rejected)))
	return result, nil
}

// embedAll embeds texts in batches and checks every vector before returning.
func (m *Manager) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	dim := m.embedder.Dimension()

	for start := 0; start < len(texts); start += m.opts.BatchSize {
		end := min(start+m.opts.BatchSize, len(texts))
		batch, err := m.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, upstreamErr("embed", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrUpstreamUnavailable, len(batch), end-start)
		}
		for i, v := range batch {
			if !similarity.Valid(v, dim) {
				return nil, fmt.Errorf("%w: malformed vector for record %d", domain.ErrUpstreamUnavailable, start+i)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// SearchGrants returns up to topK grants ranked by similarity to query.
// topK above the configured maximum is clamped; topK <= 0 is rejected.
func (m *Manager) SearchGrants(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	topK = min(topK, m.opts.MaxTopK)
	m.searches.Add(1)

	if m.cache != nil {
		if results, ok := m.cache.Get(query, topK); ok {
			return results, nil
		}
	}
	var gen uint64
	if m.cache != nil {
		gen = m.cache.Generation()
	}

	vector, err := m.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results := []domain.SearchResult{}
	if similarity.IsZero(vector) {
		// nothing in the query to match on
		return results, nil
	}

	matches, err := m.index.Query(ctx, vector, topK)
	if err != nil {
		return nil, upstreamErr("query", err)
	}

	for _, match := range matches {
		score := similarity.Normalize(m.metric, match.Score)
		if score < m.opts.MinSimilarity {
			continue
		}
		results = append(results, domain.ResultFromGrant(match.Grant, score))
		if len(results) == topK {
			break
		}
	}

	if m.cache != nil {
		m.cache.Put(gen, query, topK, results)
	}

	m.logger.Debug("search",
		slog.String("query", query),
		slog.Int("top_k", topK),
		slog.Int("results", len(results)))
	return results, nil
}

// embedQuery embeds a single query; concurrent identical queries share one call.
// The shared call does not inherit any one caller's cancellation; a caller
// whose context ends stops waiting and the others keep the result.
func (m *Manager) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	shared := context.WithoutCancel(ctx)
	ch := m.queries.DoChan(query, func() (any, error) {
		vectors, err := m.embedder.Embed(shared, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
		}
		return vectors[0], nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("embed query: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, upstreamErr("embed query", res.Err)
	}

	vector := res.Val.([]float32)
	if similarity.IsZero(vector) {
		return vector, nil
	}
	if !similarity.Valid(vector, m.embedder.Dimension()) {
		return nil, fmt.Errorf("%w: malformed query vector", domain.ErrUpstreamUnavailable)
	}
	return vector, nil
}

// GetGrantByID looks up a grant by exact identifier. The bool is false when absent.
func (m *Manager) GetGrantByID(ctx context.Context, id string) (domain.Grant, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Grant{}, false, fmt.Errorf("%w: empty identifier", domain.ErrInvalidInput)
	}

	g, ok, err := m.index.Get(ctx, id)
	if err != nil {
		return domain.Grant{}, false, upstreamErr("get", err)
	}
	return g, ok, nil
}

// RemoveGrants deletes grants by identifier. Unknown identifiers are ignored.
func (m *Manager) RemoveGrants(ctx context.Context, ids []string) error {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.index.Delete(ctx, clean); err != nil {
		return upstreamErr("delete", err)
	}
	if m.cache != nil {
		m.cache.Invalidate()
	}
	m.logger.Info("removed grants", slog.Int("count", len(clean)))
	return nil
}

// GetStats reports the index's current count and the manager's counters.
func (m *Manager) GetStats(ctx context.Context) (domain.Stats, error) {
	n, err := m.index.Count(ctx)
	if err != nil {
		return domain.Stats{}, upstreamErr("count", err)
	}

	stats := domain.Stats{
		TotalIndexed:  n,
		Dimension:     m.embedder.Dimension(),
		Model:         m.embedder.ModelName(),
		Backend:       m.opts.Backend,
		Metric:        string(m.metric),
		IndexCalls:    m.indexCalls.Load(),
		FailedIndexes: m.failedIndexes.Load(),
		Searches:      m.searches.Load(),
	}
	if ts := m.lastIndexed.Load(); ts != 0 {
		stats.LastIndexedAt = time.Unix(0, ts)
	}
	return stats, nil
}

func upstreamErr(op string, err error) error {
	if errors.Is(err, domain.ErrUpstreamUnavailable) || errors.Is(err, domain.ErrInvalidInput) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamUnavailable, err)
}
