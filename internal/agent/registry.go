package agent

import (
	"fmt"
	"sort"

	"grantwatch/internal/agent/tools"
)

// Registry maps workflow names to compiled workflows. It is fixed once built.
type Registry struct {
	workflows map[string]*compiled
}

// NewRegistry compiles and registers workflows. Names must be unique.
func NewRegistry(workflows ...Workflow) (*Registry, error) {
	r := &Registry{workflows: make(map[string]*compiled, len(workflows))}
	for _, wf := range workflows {
		if _, dup := r.workflows[wf.Name]; dup {
			return nil, fmt.Errorf("workflow %s registered twice", wf.Name)
		}
		c, err := compile(wf)
		if err != nil {
			return nil, err
		}
		r.workflows[wf.Name] = c
	}
	return r, nil
}

// DefaultRegistry holds the built-in workflows.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinWorkflows()...)
	if err != nil {
		panic(fmt.Sprintf("builtin workflows: %v", err))
	}
	return r
}

func (r *Registry) get(name string) (*compiled, bool) {
	c, ok := r.workflows[name]
	return c, ok
}

// Workflows returns the registered workflows sorted by name.
func (r *Registry) Workflows() []Workflow {
	out := make([]Workflow, 0, len(r.workflows))
	for _, c := range r.workflows {
		out = append(out, c.Workflow)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered workflow names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinWorkflows returns the workflows every agent ships with.
func BuiltinWorkflows() []Workflow {
	return []Workflow{
		{
			Name:        "targeted_search",
			Description: "Search grants for a query and report the top matches.",
			Params: []Param{
				{Name: "query", Type: ParamString, Required: true, Description: "what to search for"},
				{Name: "top_k", Type: ParamInt, Default: 5, Min: 1, Max: 50, Description: "number of results"},
			},
			Steps: []Step{
				{Tool: tools.SearchToolName, Input: `{{ json "query" .Params.query "top_k" .Params.top_k }}`},
			},
		},
		{
			Name:        "search_and_summarize",
			Description: "Search grants, then summarize every grant the search found.",
			Params: []Param{
				{Name: "query", Type: ParamString, Required: true, Description: "what to search for"},
				{Name: "top_k", Type: ParamInt, Default: 3, Min: 1, Max: 10, Description: "number of grants to summarize"},
			},
			Steps: []Step{
				{Tool: tools.SearchToolName, Input: `{{ json "query" .Params.query "top_k" .Params.top_k }}`},
				{Tool: tools.SummarizeToolName, Input: "{{ range ids (index .Steps 0) }}{{ json \"id\" . }}\n{{ end }}", Expand: true},
			},
			AbortOnFailure: true,
		},
		{
			Name:        "compare_grants",
			Description: "Summarize several grants side by side.",
			Params: []Param{
				{Name: "ids", Type: ParamList, Required: true, Description: "comma-separated grant identifiers"},
			},
			Steps: []Step{
				{Tool: tools.SummarizeToolName, Input: "{{ range .Params.ids }}{{ json \"id\" . }}\n{{ end }}", Expand: true},
			},
		},
	}
}
