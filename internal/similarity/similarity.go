// Package similarity scores vector pairs and maps raw backend scores into [0, 1].
package similarity

import (
	"fmt"
	"math"
)

// Metric names a raw score scale.
type Metric string

const (
	// Cosine similarity in [-1, 1], higher is closer.
	Cosine Metric = "cosine"
	// Dot is the inner product, unbounded, higher is closer.
	Dot Metric = "dot"
	// L2 is Euclidean distance in [0, inf), lower is closer.
	L2 Metric = "l2"
)

// ParseMetric validates a metric name.
func ParseMetric(name string) (Metric, error) {
	switch m := Metric(name); m {
	case Cosine, Dot, L2:
		return m, nil
	case "":
		return Cosine, nil
	default:
		return "", fmt.Errorf("unsupported metric: %s", name)
	}
}

// Score computes the raw score of a against b in metric m.
// For L2 the distance is negated so that higher is always closer when ranking raw scores.
func Score(m Metric, a, b []float32) float64 {
	switch m {
	case Dot:
		return dot(a, b)
	case L2:
		return -euclidean(a, b)
	default:
		return cosine(a, b)
	}
}

// Normalize maps a raw score produced by Score into [0, 1], higher = more similar.
// The mapping is monotonic so ranking order is preserved.
func Normalize(m Metric, raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	var s float64
	switch m {
	case Dot:
		// logistic squash of an unbounded inner product
		s = 1 / (1 + math.Exp(-raw))
	case L2:
		// raw is the negated distance
		s = 1 / (1 + math.Abs(raw))
	default:
		s = (raw + 1) / 2
	}
	return clamp01(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Valid reports whether v is usable as an embedding of the given dimension:
// right length, finite, and not all zeros.
func Valid(v []float32, dimension int) bool {
	if len(v) == 0 || (dimension > 0 && len(v) != dimension) {
		return false
	}
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if x != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// IsZero reports whether every component of v is zero.
// An embedder returns the zero vector for text with no content terms.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
