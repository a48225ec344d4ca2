package domain

import "errors"

// Error taxonomy shared by the vector store, tools and agent.
var (
	// ErrInvalidInput covers empty queries, empty identifiers and malformed parameters.
	// Rejected before any upstream call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers unknown identifiers, workflows and tools.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable indicates the embedding provider or vector index failed after retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInternalToolFailure indicates an unexpected failure inside a tool.
	ErrInternalToolFailure = errors.New("internal tool failure")
)

// IsCallerError reports whether err is recoverable by the caller changing its input.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}
