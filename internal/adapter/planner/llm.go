package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"grantwatch/internal/adapter/analyzer"
	"grantwatch/internal/domain"
	"grantwatch/internal/port"
)

const promptPlan = `You route questions about government grant opportunities to tools.
Respond with JSON only: {"calls":[{"tool":"<name>","input":"<input>"}]}
Use at most %d calls. Use only the tools below and follow each tool's input format.

Tools:
%s`

// LLMOptions configures an LLMPlanner.
type LLMOptions struct {
	APIKeyEnv string
	Model     string
	BaseURL   string
	MaxSteps  int
	// MaxQueryTokens bounds the estimated size of a question sent to the model.
	MaxQueryTokens int
}

// LLMPlanner asks an OpenAI-compatible chat model for a tool plan.
type LLMPlanner struct {
	client         *openai.Client
	tokenizer      *analyzer.Tokenizer
	model          string
	maxSteps       int
	maxQueryTokens int
}

// NewLLMPlanner creates a planner. The API key is read from opts.APIKeyEnv;
// it may be empty only when a BaseURL for a local server is set.
func NewLLMPlanner(opts LLMOptions) (*LLMPlanner, error) {
	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", opts.APIKeyEnv)
		}
		apiKey = "local"
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 4
	}
	if opts.MaxQueryTokens <= 0 {
		opts.MaxQueryTokens = 512
	}

	return &LLMPlanner{
		client:         openai.NewClientWithConfig(cfg),
		tokenizer:      analyzer.NewTokenizer(false),
		model:          opts.Model,
		maxSteps:       opts.MaxSteps,
		maxQueryTokens: opts.MaxQueryTokens,
	}, nil
}

func (p *LLMPlanner) Name() string { return "llm:" + p.model }

// Plan asks the model for a plan. Questions over the token budget are
// rejected without a request.
func (p *LLMPlanner) Plan(ctx context.Context, query string, catalog []port.ToolSpec) ([]port.PlannedCall, error) {
	if n := p.tokenizer.CountTokens(query); n > p.maxQueryTokens {
		return nil, fmt.Errorf("%w: question is about %d tokens, planner budget is %d", domain.ErrInvalidInput, n, p.maxQueryTokens)
	}

	var sb strings.Builder
	for _, spec := range catalog {
		fmt.Fprintf(&sb, "- %s: %s\n  input: %s\n", spec.Name, spec.Description, spec.Usage)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(promptPlan, p.maxSteps, sb.String())},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("plan request returned no choices")
	}
	return parsePlan(resp.Choices[0].Message.Content)
}

// parsePlan reads the JSON plan, tolerating surrounding prose or code fences.
// A call's input may be a string or a JSON object.
func parsePlan(content string) ([]port.PlannedCall, error) {
	var plan struct {
		Calls []struct {
			Tool  string          `json:"tool"`
			Input json.RawMessage `json:"input"`
		} `json:"calls"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &plan); err != nil {
		return nil, fmt.Errorf("unparseable plan: %w", err)
	}

	calls := make([]port.PlannedCall, 0, len(plan.Calls))
	for _, c := range plan.Calls {
		input := ""
		if len(c.Input) > 0 {
			var s string
			if err := json.Unmarshal(c.Input, &s); err == nil {
				input = s
			} else {
				input = string(c.Input)
			}
		}
		calls = append(calls, port.PlannedCall{Tool: strings.TrimSpace(c.Tool), Input: input})
	}
	return calls, nil
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
