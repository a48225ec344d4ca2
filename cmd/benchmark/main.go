package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"grantwatch/config"
	"grantwatch/internal/adapter/embedding"
	"grantwatch/internal/adapter/index"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
	"grantwatch/internal/vectorstore"
)

func main() {
	indexPath := flag.String("index", ".", "Path to the directory holding the grantwatch index")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	runs := flag.Int("runs", 20, "Repeated searches used for latency")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -index ./data -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (provider connection, vector index)")
		fmt.Println("  2. Semantic similarity (query vs results)")
		fmt.Println("  3. Search latency (uncached)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	store, closeIndex, err := setupStore(cfg, *indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Semantic search not available: %v\n", err)
		os.Exit(1)
	}
	defer closeIndex()

	ctx := context.Background()
	stats, err := store.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("GRANT SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Grants indexed: %d\n", stats.TotalIndexed)
	fmt.Printf("Model: %s (%s)\n", stats.Model, cfg.Embedding.Provider)
	fmt.Printf("Backend: %s, metric: %s\n", stats.Backend, stats.Metric)
	fmt.Printf("Dimension: %d\n", stats.Dimension)
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	results, err := store.SearchGrants(ctx, *query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	fmt.Printf("Top %d matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		totalScore += r.Similarity

		rating := "LOW"
		if r.Similarity > 0.85 {
			rating = "HIGH"
		} else if r.Similarity > 0.75 {
			rating = "GOOD"
		} else if r.Similarity > 0.6 {
			rating = "OK"
		}

		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating, r.Similarity, r.ID)
		fmt.Printf("   %s | %s\n\n", r.Title, r.Agency)
	}

	var elapsed time.Duration
	for i := 0; i < *runs; i++ {
		start := time.Now()
		if _, err := store.SearchGrants(ctx, *query, *topK); err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			os.Exit(1)
		}
		elapsed += time.Since(start)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Similarity)
	if *runs > 0 {
		fmt.Printf("  Mean latency:       %s over %d runs\n", elapsed/time.Duration(*runs), *runs)
	}

	if avgScore > 0.75 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avgScore > 0.6 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-indexing")
	}
}

// setupStore opens the configured index read path without a cache, so every
// timed search reaches the embedder and the index.
func setupStore(cfg *config.Config, dir string) (*vectorstore.Manager, func(), error) {
	var embedder port.Embedder
	var err error

	opts := embedding.Options{
		APIKeyEnv: cfg.Embedding.APIKeyEnv,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	}
	switch cfg.Embedding.Provider {
	case "hash":
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimension)
	case "ollama":
		embedder, err = embedding.NewOllamaEmbedder(opts)
	case "openai", "compatible":
		embedder, err = embedding.NewOpenAIEmbedder(opts)
	default:
		return nil, nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("embedder init failed: %w", err)
	}

	metric, err := similarity.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Index.Backend == "memory" {
		return nil, nil, fmt.Errorf("the memory backend keeps nothing between runs")
	}
	idx, err := index.Open(cfg.Index.Backend, cfg.IndexPath(dir), metric, embedder.Dimension())
	if err != nil {
		return nil, nil, fmt.Errorf("index open failed: %w", err)
	}

	count, _ := idx.Count(context.Background())
	if count == 0 {
		idx.Close()
		return nil, nil, fmt.Errorf("no grants indexed - run 'grantwatch index' first")
	}

	store, err := vectorstore.New(embedder, idx, vectorstore.Options{
		Backend:       cfg.Index.Backend,
		MaxTopK:       cfg.Search.MaxTopK,
		MinSimilarity: cfg.Search.MinSimilarity,
	})
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	return store, func() { idx.Close() }, nil
}
