// Package tools holds the string-in, string-out tools the grant agent dispatches.
package tools

import (
	"context"

	"grantwatch/internal/domain"
)

// Tool is a stateless callable unit driven by a planner or a workflow step.
type Tool interface {
	// Name is the identifier planners use to select the tool.
	Name() string

	// Description explains what the tool does.
	Description() string

	// Usage documents the accepted input shape.
	Usage() string

	// Validate checks input shape without calling any upstream.
	Validate(input string) error

	// Run executes the tool. Output is never empty on success.
	Run(ctx context.Context, input string) (string, error)
}

// Searcher is the part of the vector store the search tool needs.
type Searcher interface {
	SearchGrants(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
}

// Getter is the part of the vector store the summarize tool needs.
type Getter interface {
	GetGrantByID(ctx context.Context, id string) (domain.Grant, bool, error)
}
