package index

import (
	"context"
	"sync"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

// MemoryIndex is an exhaustive in-process vector index.
// Thread-safe. Suitable for tests and corpora up to a few tens of thousands of grants.
type MemoryIndex struct {
	mu        sync.RWMutex
	metric    similarity.Metric
	dimension int
	entries   map[string]storedEntry
	nextSeq   uint64
}

type storedEntry struct {
	vector []float32
	grant  domain.Grant
	seq    uint64
}

// NewMemoryIndex creates an empty index. A dimension of 0 adopts the first upserted vector's length.
func NewMemoryIndex(metric similarity.Metric, dimension int) *MemoryIndex {
	return &MemoryIndex{
		metric:    metric,
		dimension: dimension,
		entries:   make(map[string]storedEntry),
		nextSeq:   1,
	}
}

// Upsert stores all entries or none of them.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []port.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim, err := checkEntries(entries, m.dimension)
	if err != nil {
		return err
	}
	m.dimension = dim

	for _, e := range entries {
		seq := m.nextSeq
		if existing, ok := m.entries[e.ID]; ok {
			seq = existing.seq
		} else {
			m.nextSeq++
		}
		m.entries[e.ID] = storedEntry{
			vector: copyVector(e.Vector),
			grant:  e.Grant,
			seq:    seq,
		}
	}
	return nil
}

// Query scores every entry against vector.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if err := checkQuery(vector, m.dimension); err != nil {
		return nil, err
	}

	matches := make([]port.Match, 0, len(m.entries))
	for id, e := range m.entries {
		matches = append(matches, port.Match{
			ID:    id,
			Score: similarity.Score(m.metric, vector, e.vector),
			Seq:   e.seq,
			Grant: e.grant,
		})
	}
	return topK(matches, k), nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (domain.Grant, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Grant{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return domain.Grant{}, false, nil
	}
	return e.grant, true, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Metric() string {
	return string(m.metric)
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error {
	return nil
}
