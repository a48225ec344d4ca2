// Package agent answers free-form grant queries by planning tool calls, and
// runs named workflows of fixed tool sequences.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"grantwatch/internal/agent/tools"
	"grantwatch/internal/domain"
	"grantwatch/internal/port"
)

// Options configures an Agent.
type Options struct {
	// Fallback plans when the primary planner fails or returns nothing.
	Fallback port.Planner
	// MaxSteps caps the number of tool calls a planner may request.
	MaxSteps int
	// StepTimeout bounds each tool call.
	StepTimeout time.Duration
	Logger      *slog.Logger
}

// Agent owns the tools and the workflow registry. It keeps no state between calls
// and is safe for concurrent use.
type Agent struct {
	tools       map[string]tools.Tool
	catalog     []port.ToolSpec
	planner     port.Planner
	fallback    port.Planner
	registry    *Registry
	maxSteps    int
	stepTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Agent. Every workflow step must name a registered tool.
func New(planner port.Planner, registry *Registry, toolset []tools.Tool, opts Options) (*Agent, error) {
	if planner == nil {
		return nil, errors.New("agent: planner is required")
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 4
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Agent{
		tools:       make(map[string]tools.Tool, len(toolset)),
		planner:     planner,
		fallback:    opts.Fallback,
		registry:    registry,
		maxSteps:    opts.MaxSteps,
		stepTimeout: opts.StepTimeout,
		logger:      opts.Logger.With(slog.String("component", "agent")),
	}
	for _, t := range toolset {
		if _, dup := a.tools[t.Name()]; dup {
			return nil, fmt.Errorf("agent: tool %s registered twice", t.Name())
		}
		a.tools[t.Name()] = t
		a.catalog = append(a.catalog, port.ToolSpec{Name: t.Name(), Description: t.Description(), Usage: t.Usage()})
	}

	for _, wf := range registry.Workflows() {
		for i, step := range wf.Steps {
			if _, ok := a.tools[step.Tool]; !ok {
				return nil, fmt.Errorf("agent: workflow %s step %d uses unknown tool %s", wf.Name, i+1, step.Tool)
			}
		}
	}
	return a, nil
}

// Catalog describes the registered tools in registration order.
func (a *Agent) Catalog() []port.ToolSpec {
	out := make([]port.ToolSpec, len(a.catalog))
	copy(out, a.catalog)
	return out
}

// Workflows lists the registered workflows.
func (a *Agent) Workflows() []Workflow {
	return a.registry.Workflows()
}

// ProcessQuery plans tool calls for query, validates every call, then runs them in order.
// The returned Response is non-nil even when an error is returned.
func (a *Agent) ProcessQuery(ctx context.Context, query string) (*Response, error) {
	resp := &Response{RequestID: uuid.NewString()}
	logger := a.logger.With(slog.String("request_id", resp.RequestID))

	query = strings.TrimSpace(query)
	if query == "" {
		resp.Text = "Please ask a question about grant opportunities; the query was empty."
		return resp, ErrInvalidQuery
	}

	calls := a.plan(ctx, logger, query)
	if len(calls) == 0 {
		resp.Text = fmt.Sprintf("I could not decide how to answer %q with the available tools.", query)
		return resp, nil
	}
	if len(calls) > a.maxSteps {
		logger.Warn("plan truncated", slog.Int("planned", len(calls)), slog.Int("max_steps", a.maxSteps))
		calls = calls[:a.maxSteps]
	}

	// Validate the whole plan before anything runs.
	for _, call := range calls {
		tool, ok := a.tools[call.Tool]
		if !ok {
			resp.Text = fmt.Sprintf("Cannot answer: the plan uses an unknown tool %q. Available tools: %s.", call.Tool, strings.Join(a.toolNames(), ", "))
			logger.Warn("plan rejected", slog.String("tool", call.Tool), slog.String("reason", "unknown tool"))
			return resp, fmt.Errorf("%w: %q", ErrToolNotFound, call.Tool)
		}
		if err := tool.Validate(call.Input); err != nil {
			resp.Text = fmt.Sprintf("Cannot answer: invalid input for %s: %v. Expected: %s", call.Tool, err, tool.Usage())
			logger.Warn("plan rejected", slog.String("tool", call.Tool), slog.String("reason", err.Error()))
			return resp, fmt.Errorf("%s: %w", call.Tool, err)
		}
	}

	for _, call := range calls {
		resp.Steps = append(resp.Steps, a.invoke(ctx, logger, a.tools[call.Tool], call.Input))
	}
	resp.Text = assemble("", resp.Steps)
	return resp, nil
}

// plan asks the planner, falling back when it fails or returns nothing.
func (a *Agent) plan(ctx context.Context, logger *slog.Logger, query string) []port.PlannedCall {
	calls, err := a.planner.Plan(ctx, query, a.Catalog())
	if err == nil && len(calls) > 0 {
		logger.Info("planned", slog.String("planner", a.planner.Name()), slog.Int("calls", len(calls)))
		return calls
	}

	attrs := []any{slog.String("planner", a.planner.Name())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if a.fallback == nil {
		logger.Warn("planner produced no calls", attrs...)
		return nil
	}
	logger.Warn("planner produced no calls, using fallback", append(attrs, slog.String("fallback", a.fallback.Name()))...)

	calls, err = a.fallback.Plan(ctx, query, a.Catalog())
	if err != nil {
		logger.Error("fallback planner failed", slog.String("error", err.Error()))
		return nil
	}
	return calls
}

// ExecuteWorkflow validates params against the named workflow and runs its steps.
// The returned Response is non-nil even when an error is returned.
func (a *Agent) ExecuteWorkflow(ctx context.Context, name string, params map[string]any) (*Response, error) {
	resp := &Response{RequestID: uuid.NewString()}
	logger := a.logger.With(slog.String("request_id", resp.RequestID), slog.String("workflow", name))

	wf, ok := a.registry.get(name)
	if !ok {
		resp.Text = fmt.Sprintf("Unknown workflow %q. Available workflows: %s.", name, strings.Join(a.registry.Names(), ", "))
		return resp, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}

	bound, err := wf.bind(params)
	if err != nil {
		resp.Text = fmt.Sprintf("Cannot run workflow: %v", err)
		logger.Warn("workflow params rejected", slog.String("error", err.Error()))
		return resp, err
	}

	logger.Info("workflow started", slog.Int("steps", len(wf.Steps)))
	data := templateData{Params: bound}
	aborted := false

	for i, step := range wf.Steps {
		tool := a.tools[step.Tool]
		if aborted {
			resp.Steps = append(resp.Steps, StepResult{Tool: step.Tool, Skipped: true})
			data.Steps = append(data.Steps, "")
			continue
		}

		inputs, err := wf.render(i, data)
		if err != nil {
			resp.Steps = append(resp.Steps, StepResult{
				Tool: step.Tool,
				Err:  fmt.Errorf("%w: rendering input: %v", domain.ErrInternalToolFailure, err),
			})
			data.Steps = append(data.Steps, "")
			aborted = wf.AbortOnFailure
			continue
		}
		if len(inputs) == 0 {
			resp.Steps = append(resp.Steps, StepResult{Tool: step.Tool, Output: "Nothing to process."})
			data.Steps = append(data.Steps, "")
			continue
		}

		var outputs []string
		for _, input := range inputs {
			res := a.invoke(ctx, logger, tool, input)
			resp.Steps = append(resp.Steps, res)
			outputs = append(outputs, res.Output)
			if res.Failed() && wf.AbortOnFailure {
				aborted = true
				break
			}
		}
		data.Steps = append(data.Steps, strings.Join(outputs, "\n"))
	}

	title := fmt.Sprintf("Workflow %s: %d of %d step(s) succeeded.", name, succeeded(resp.Steps), len(resp.Steps))
	resp.Text = assemble(title, resp.Steps)
	logger.Info("workflow finished", slog.Int("steps", len(resp.Steps)), slog.Int("failed", resp.Failures()))
	return resp, nil
}

// invoke runs one tool call with a timeout, converting errors and panics into a failed step.
func (a *Agent) invoke(ctx context.Context, logger *slog.Logger, tool tools.Tool, input string) StepResult {
	res := StepResult{Tool: tool.Name(), Input: input}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := tool.Run(ctx, input)
		done <- outcome{out: out, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: ctx.Err()}
	}

	switch {
	case o.err != nil:
		res.Err = fmt.Errorf("%w: %s: %w", domain.ErrInternalToolFailure, tool.Name(), o.err)
	case strings.TrimSpace(o.out) == "":
		res.Err = fmt.Errorf("%w: %s returned no output", domain.ErrInternalToolFailure, tool.Name())
	default:
		res.Output = o.out
	}

	if res.Err != nil {
		logger.Error("tool call failed",
			slog.String("tool", tool.Name()),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", res.Err.Error()))
	} else {
		logger.Info("tool call",
			slog.String("tool", tool.Name()),
			slog.Duration("duration", time.Since(start)))
	}
	return res
}

func (a *Agent) toolNames() []string {
	names := make([]string, len(a.catalog))
	for i, spec := range a.catalog {
		names[i] = spec.Name
	}
	return names
}

func succeeded(steps []StepResult) int {
	n := 0
	for _, s := range steps {
		if !s.Skipped && s.Err == nil {
			n++
		}
	}
	return n
}
