package port

import "context"

// ToolSpec describes one tool to a planner.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
}

// PlannedCall is a tool invocation chosen by a planner.
type PlannedCall struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// Planner decides which tools answer a free-form query.
type Planner interface {
	Plan(ctx context.Context, query string, catalog []ToolSpec) ([]PlannedCall, error)

	// Name identifies the planner in logs.
	Name() string
}
