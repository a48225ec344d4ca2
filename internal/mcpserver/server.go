// Package mcpserver exposes the grant tools and the agent over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"grantwatch/internal/agent"
	"grantwatch/internal/agent/tools"
	"grantwatch/internal/domain"
)

// Store is the part of the vector store the server reads.
type Store interface {
	tools.Searcher
	tools.Getter
	GetStats(ctx context.Context) (domain.Stats, error)
}

// Server wraps an MCP server bound to one agent and store.
type Server struct {
	server      *mcp.Server
	agent       *agent.Agent
	store       Store
	defaultTopK int
	logger      *slog.Logger
}

// New registers the grant tools on a fresh MCP server.
func New(name, version string, a *agent.Agent, store Store, defaultTopK int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}

	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    name,
				Version: version,
			},
			nil,
		),
		agent:       a,
		store:       store,
		defaultTopK: defaultTopK,
		logger:      logger.With(slog.String("component", "mcp")),
	}
	s.registerTools()
	return s
}

// Run serves until ctx is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// Connect attaches a single session, mainly for in-process clients.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        tools.SearchToolName,
		Description: "Semantic search over indexed grant opportunities. Returns ranked matches with similarity, close date and award ceiling.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        tools.SummarizeToolName,
		Description: "Summarize one grant opportunity by its exact OPPORTUNITY_ID.",
	}, s.handleSummarize)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_workflow",
		Description: "Run a named multi-step workflow such as targeted_search, search_and_summarize or compare_grants.",
	}, s.handleWorkflow)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a free-form question about grant opportunities by planning and running tool calls.",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "grant_stats",
		Description: "Report vector store statistics.",
	}, s.handleStats)
}

type SearchInput struct {
	Query string `json:"query" jsonschema:"Natural language description of the funding sought"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum number of results. Default: 5"`
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	topK := in.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}
	results, err := s.store.SearchGrants(ctx, in.Query, topK)
	if err != nil {
		return s.failure("search", err), nil, nil
	}
	return text(tools.FormatResults(in.Query, results)), nil, nil
}

type SummarizeInput struct {
	GrantID string `json:"grant_id" jsonschema:"Exact OPPORTUNITY_ID of the grant"`
}

func (s *Server) handleSummarize(ctx context.Context, req *mcp.CallToolRequest, in SummarizeInput) (*mcp.CallToolResult, any, error) {
	g, ok, err := s.store.GetGrantByID(ctx, in.GrantID)
	if err != nil {
		return s.failure("summarize", err), nil, nil
	}
	if !ok {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Grant %q not found.", in.GrantID)}},
		}, nil, nil
	}
	return text(tools.Summarize(g)), nil, nil
}

type WorkflowInput struct {
	Name   string         `json:"name" jsonschema:"Workflow name"`
	Params map[string]any `json:"params,omitempty" jsonschema:"Workflow parameters as an object"`
}

func (s *Server) handleWorkflow(ctx context.Context, req *mcp.CallToolRequest, in WorkflowInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.agent.ExecuteWorkflow(ctx, in.Name, in.Params)
	return s.agentResult("workflow", resp, err), nil, nil
}

type AskInput struct {
	Query string `json:"query" jsonschema:"The question to answer"`
}

func (s *Server) handleAsk(ctx context.Context, req *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.agent.ProcessQuery(ctx, in.Query)
	return s.agentResult("ask", resp, err), nil, nil
}

type StatsInput struct{}

func (s *Server) handleStats(ctx context.Context, req *mcp.CallToolRequest, in StatsInput) (*mcp.CallToolResult, any, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return s.failure("stats", err), nil, nil
	}
	data, err := json.MarshalIndent(stats.Map(), "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return text(string(data)), nil, nil
}

// agentResult marks the result as an error when the call failed outright or every step failed.
func (s *Server) agentResult(op string, resp *agent.Response, err error) *mcp.CallToolResult {
	if err != nil {
		s.logger.Warn("tool call rejected", slog.String("op", op), slog.String("error", err.Error()))
	}
	failed := err != nil || (len(resp.Steps) > 0 && resp.Failures() == len(resp.Steps))
	return &mcp.CallToolResult{
		IsError: failed,
		Content: []mcp.Content{&mcp.TextContent{Text: resp.Text}},
	}
}

func (s *Server) failure(op string, err error) *mcp.CallToolResult {
	s.logger.Warn("tool call failed", slog.String("op", op), slog.String("error", err.Error()))

	msg := err.Error()
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		msg = "The grant index is temporarily unavailable: " + msg
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: s}},
	}
}
