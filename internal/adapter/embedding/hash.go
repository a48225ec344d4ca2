package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"grantwatch/internal/adapter/analyzer"
)

// HashEmbedder is a deterministic, offline embedder. Terms and their
// character trigrams are hashed into a fixed number of signed buckets,
// so texts sharing vocabulary land close together under cosine similarity.
type HashEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

const trigramWeight = 0.35

// NewHashEmbedder creates a HashEmbedder of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &HashEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(true),
	}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	acc := make([]float64, e.dimension)

	tf := make(map[string]int)
	for _, token := range e.tokenizer.Tokenize(text) {
		tf[token]++
	}

	for term, count := range tf {
		weight := 1 + math.Log(float64(count))
		e.add(acc, "w:"+term, weight)

		padded := "^" + term + "$"
		for i := 0; i+3 <= len(padded); i++ {
			e.add(acc, "t:"+padded[i:i+3], weight*trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vector := make([]float32, e.dimension)
	if norm == 0 {
		return vector
	}
	for i, v := range acc {
		vector[i] = float32(v / norm)
	}
	return vector
}

func (e *HashEmbedder) add(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	acc[bucket] += weight
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return "hash"
}
