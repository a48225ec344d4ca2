// Package index provides the vector index backends: in-memory, BoltDB and SQLite.
package index

import (
	"fmt"
	"path/filepath"
	"sort"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

// Open creates the backend named by backend. path is ignored for "memory".
func Open(backend, path string, metric similarity.Metric, dimension int) (port.VectorIndex, error) {
	switch backend {
	case "memory", "":
		return NewMemoryIndex(metric, dimension), nil
	case "bolt":
		return OpenBoltIndex(path, metric, dimension)
	case "sqlite":
		if filepath.Ext(path) == ".db" {
			path = path[:len(path)-3] + ".sqlite"
		}
		return OpenSQLiteIndex(path, metric, dimension)
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
}

// checkEntries validates a whole upsert batch before anything is written
// and returns the dimension the index should carry afterwards. Rejections
// wrap domain.ErrInvalidInput.
func checkEntries(entries []port.Entry, dimension int) (int, error) {
	for _, e := range entries {
		if e.ID == "" {
			return dimension, fmt.Errorf("%w: entry with empty id", domain.ErrInvalidInput)
		}
		if e.ID != e.Grant.ID {
			return dimension, fmt.Errorf("%w: entry id %q does not match payload id %q", domain.ErrInvalidInput, e.ID, e.Grant.ID)
		}
		if dimension == 0 {
			dimension = len(e.Vector)
		}
		if !similarity.Valid(e.Vector, dimension) {
			return dimension, fmt.Errorf("%w: invalid vector for %s: expected %d finite non-zero values, got %d", domain.ErrInvalidInput, e.ID, dimension, len(e.Vector))
		}
	}
	return dimension, nil
}

func checkQuery(vector []float32, dimension int) error {
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: query dimension mismatch: expected %d, got %d", domain.ErrInvalidInput, dimension, len(vector))
	}
	return nil
}

// topK orders matches by descending score, ties by insertion sequence, and truncates to k.
func topK(matches []port.Match, k int) []port.Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Seq < matches[j].Seq
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}

func copyVector(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}
