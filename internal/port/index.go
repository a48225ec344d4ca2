package port

import (
	"context"

	"grantwatch/internal/domain"
)

// VectorIndex stores grant vectors with their payload and answers
// nearest-neighbor and exact-key queries.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Upsert adds or replaces entries keyed by grant ID. A call is atomic:
	// either every entry is stored or none is.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to k matches ordered by descending raw score,
	// ties broken by insertion sequence.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Get returns the payload for id. The bool is false when id is absent.
	Get(ctx context.Context, id string) (domain.Grant, bool, error)

	// Delete removes entries by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Metric names the raw score scale Query returns ("cosine", "dot", "l2").
	Metric() string

	Close() error
}

// Entry is what the index stores for one grant.
type Entry struct {
	ID     string
	Vector []float32
	Grant  domain.Grant
}

// Match is a raw nearest-neighbor hit.
type Match struct {
	ID    string
	Score float64 // raw, in the scale named by Metric
	Seq   uint64  // insertion sequence of the first time ID was stored
	Grant domain.Grant
}
