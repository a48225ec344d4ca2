package agent

import (
	"fmt"

	"grantwatch/internal/domain"
)

// Caller-recoverable agent failures. Each wraps a domain error so callers can
// branch on either the specific or the general condition.
var (
	// ErrInvalidQuery indicates an empty or whitespace-only query.
	ErrInvalidQuery = fmt.Errorf("invalid query: %w", domain.ErrInvalidInput)

	// ErrInvalidWorkflowParams indicates params that do not satisfy a workflow's schema.
	ErrInvalidWorkflowParams = fmt.Errorf("invalid workflow params: %w", domain.ErrInvalidInput)

	// ErrToolNotFound indicates a planner chose a tool that is not registered.
	ErrToolNotFound = fmt.Errorf("tool not found: %w", domain.ErrNotFound)

	// ErrWorkflowNotFound indicates an unknown workflow name.
	ErrWorkflowNotFound = fmt.Errorf("workflow not found: %w", domain.ErrNotFound)
)
