package cli

import (
	"fmt"
	"log/slog"

	"grantwatch/config"
	"grantwatch/internal/adapter/cache"
	"grantwatch/internal/adapter/embedding"
	"grantwatch/internal/adapter/index"
	"grantwatch/internal/adapter/planner"
	"grantwatch/internal/adapter/upstream"
	"grantwatch/internal/agent"
	"grantwatch/internal/agent/tools"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
	"grantwatch/internal/vectorstore"
)

// app holds the wired components shared by the commands.
type app struct {
	index port.VectorIndex
	store *vectorstore.Manager
	agent *agent.Agent
}

func (a *app) Close() error {
	return a.index.Close()
}

// newApp wires embedder, index, store, tools, planner and agent from cfg.
func newApp(cfg *config.Config, dir string, logger *slog.Logger) (*app, error) {
	policy := upstream.NewPolicy(
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
		upstream.WithBackoff(cfg.Upstream.Backoff),
		upstream.WithRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.RateBurst),
		upstream.WithLogger(logger),
	)

	emb, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	metric, err := similarity.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	if cfg.Index.Backend != "memory" {
		if err := cfg.EnsureDataDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	idx, err := index.Open(cfg.Index.Backend, cfg.IndexPath(dir), metric, emb.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	var qc *cache.QueryCache
	if cfg.Cache.Enabled {
		qc = cache.NewQueryCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	}

	store, err := vectorstore.New(upstream.NewEmbedder(emb, policy), upstream.NewIndex(idx, policy), vectorstore.Options{
		Backend:       cfg.Index.Backend,
		MaxTopK:       cfg.Search.MaxTopK,
		MinSimilarity: cfg.Search.MinSimilarity,
		BatchSize:     cfg.Embedding.BatchSize,
		Cache:         qc,
		Logger:        logger,
	})
	if err != nil {
		idx.Close()
		return nil, err
	}

	pl, err := newPlanner(cfg.Agent, store)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	toolset := []tools.Tool{
		tools.NewSearchTool(store, cfg.Search.DefaultTopK),
		tools.NewSummarizeTool(store),
	}
	ag, err := agent.New(pl, agent.DefaultRegistry(), toolset, agent.Options{
		Fallback:    planner.NewKeywordPlanner(store),
		MaxSteps:    cfg.Agent.MaxSteps,
		StepTimeout: cfg.Agent.StepTimeout,
		Logger:      logger,
	})
	if err != nil {
		idx.Close()
		return nil, err
	}

	return &app{index: idx, store: store, agent: ag}, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (port.Embedder, error) {
	opts := embedding.Options{
		APIKeyEnv: cfg.APIKeyEnv,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
	}

	switch cfg.Provider {
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimension), nil
	case "openai", "compatible":
		if cfg.Provider == "compatible" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding.base_url is required for the compatible provider")
		}
		return embedding.NewOpenAIEmbedder(opts)
	case "ollama":
		return embedding.NewOllamaEmbedder(opts)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func newPlanner(cfg config.AgentConfig, grants tools.Getter) (port.Planner, error) {
	switch cfg.Planner {
	case "keyword", "":
		return planner.NewKeywordPlanner(grants), nil
	case "llm":
		return planner.NewLLMPlanner(planner.LLMOptions{
			APIKeyEnv:      cfg.APIKeyEnv,
			Model:          cfg.Model,
			BaseURL:        cfg.BaseURL,
			MaxSteps:       cfg.MaxSteps,
			MaxQueryTokens: cfg.MaxQueryTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported planner: %s", cfg.Planner)
	}
}
