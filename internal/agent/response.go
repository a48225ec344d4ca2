package agent

import (
	"fmt"
	"strings"
)

// StepResult records one tool invocation within a query.
type StepResult struct {
	Tool    string
	Input   string
	Output  string
	Err     error
	Skipped bool
}

// Failed reports whether the step ran and failed.
func (s StepResult) Failed() bool {
	return s.Err != nil && !s.Skipped
}

// Response is the assembled answer to one query or workflow run.
type Response struct {
	RequestID string
	Text      string
	Steps     []StepResult
}

// Failures counts failed steps.
func (r *Response) Failures() int {
	n := 0
	for _, s := range r.Steps {
		if s.Failed() {
			n++
		}
	}
	return n
}

// assemble renders one section per step. The result is never empty.
func assemble(title string, steps []StepResult) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}

	for i, s := range steps {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, s.Tool)
		if s.Input != "" {
			fmt.Fprintf(&sb, " (%s)", oneLine(s.Input))
		}
		sb.WriteString("\n")

		switch {
		case s.Skipped:
			sb.WriteString("Skipped: an earlier step failed.")
		case s.Err != nil:
			fmt.Fprintf(&sb, "This step failed: %v", s.Err)
		default:
			sb.WriteString(s.Output)
		}
	}

	if sb.Len() == 0 {
		return "No steps were executed."
	}
	return strings.TrimRight(sb.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
