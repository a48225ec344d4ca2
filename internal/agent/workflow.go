package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
)

// ParamType is the shape a workflow parameter must have.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamList   ParamType = "list" // list of strings; a string is split on commas
)

// Param declares one workflow parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
	Min, Max    int // bounds for ParamInt; zero means unbounded
}

// Step is one tool invocation. Input is a text/template rendered with
// .Params (bound parameters) and .Steps (outputs of earlier steps, in order).
// When Expand is set, each non-empty rendered line becomes its own call.
type Step struct {
	Tool   string
	Input  string
	Expand bool
}

// Workflow is a named, fixed sequence of tool calls.
type Workflow struct {
	Name           string
	Description    string
	Params         []Param
	Steps          []Step
	AbortOnFailure bool
}

// templateData is what step input templates see.
type templateData struct {
	Params map[string]any
	Steps  []string
}

var resultIDPattern = regexp.MustCompile(`(?m)^\d+\. \[([^\]]+)\]`)

var templateFuncs = template.FuncMap{
	// ids extracts grant identifiers from search tool output.
	"ids": func(searchOutput string) []string {
		var ids []string
		for _, m := range resultIDPattern.FindAllStringSubmatch(searchOutput, -1) {
			ids = append(ids, m[1])
		}
		return ids
	},
	// json renders key/value pairs as a JSON object tool input.
	"json": func(pairs ...any) (string, error) {
		if len(pairs)%2 != 0 {
			return "", fmt.Errorf("json needs key/value pairs, got %d arguments", len(pairs))
		}
		obj := make(map[string]any, len(pairs)/2)
		for i := 0; i < len(pairs); i += 2 {
			key, ok := pairs[i].(string)
			if !ok {
				return "", fmt.Errorf("json key %v is not text", pairs[i])
			}
			obj[key] = pairs[i+1]
		}
		data, err := json.Marshal(obj)
		return string(data), err
	},
}

// compiled is a workflow with parsed step templates.
type compiled struct {
	Workflow
	templates []*template.Template
}

func compile(wf Workflow) (*compiled, error) {
	if wf.Name == "" {
		return nil, fmt.Errorf("workflow without a name")
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s has no steps", wf.Name)
	}

	seen := make(map[string]bool)
	for _, p := range wf.Params {
		if seen[p.Name] {
			return nil, fmt.Errorf("workflow %s declares param %s twice", wf.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case ParamString, ParamInt, ParamList:
		default:
			return nil, fmt.Errorf("workflow %s param %s: unsupported type %q", wf.Name, p.Name, p.Type)
		}
	}

	c := &compiled{Workflow: wf}
	for i, step := range wf.Steps {
		tmpl, err := template.New(fmt.Sprintf("%s/%d", wf.Name, i)).
			Funcs(templateFuncs).
			Option("missingkey=error").
			Parse(step.Input)
		if err != nil {
			return nil, fmt.Errorf("workflow %s step %d: %w", wf.Name, i+1, err)
		}
		c.templates = append(c.templates, tmpl)
	}
	return c, nil
}

// render produces the tool inputs for step i.
func (c *compiled) render(i int, data templateData) ([]string, error) {
	var buf bytes.Buffer
	if err := c.templates[i].Execute(&buf, data); err != nil {
		return nil, err
	}
	rendered := strings.TrimSpace(buf.String())

	if !c.Steps[i].Expand {
		return []string{rendered}, nil
	}
	var inputs []string
	for _, line := range strings.Split(rendered, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			inputs = append(inputs, line)
		}
	}
	return inputs, nil
}

// bind validates raw params against the schema and applies defaults.
// Every problem is reported, not just the first.
func (w Workflow) bind(raw map[string]any) (map[string]any, error) {
	var problems []string
	bound := make(map[string]any, len(w.Params))

	declared := make(map[string]bool, len(w.Params))
	for _, p := range w.Params {
		declared[p.Name] = true
	}
	var unknown []string
	for k := range raw {
		if !declared[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		problems = append(problems, fmt.Sprintf("unknown parameter %q", k))
	}

	for _, p := range w.Params {
		v, ok := raw[p.Name]
		if !ok || isBlank(v) {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
				continue
			}
			if p.Default != nil {
				bound[p.Name] = p.Default
			}
			continue
		}

		value, err := coerce(p, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("parameter %q: %v", p.Name, err))
			continue
		}
		bound[p.Name] = value
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidWorkflowParams, w.Name, strings.Join(problems, "; "))
	}
	return bound, nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", v)
		}
		return strings.TrimSpace(s), nil

	case ParamInt:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if p.Min != 0 && n < p.Min {
			return nil, fmt.Errorf("must be at least %d, got %d", p.Min, n)
		}
		if p.Max != 0 && n > p.Max {
			return nil, fmt.Errorf("must be at most %d, got %d", p.Max, n)
		}
		return n, nil

	case ParamList:
		items, err := toList(v)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 && p.Required {
			return nil, fmt.Errorf("must list at least one value")
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported type %q", p.Type)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected a whole number, got %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("expected a whole number, got %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected a whole number, got %T", v)
	}
}

func toList(v any) ([]string, error) {
	var raw []string
	switch x := v.(type) {
	case []string:
		raw = x
	case string:
		raw = strings.Split(x, ",")
	case []any:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list items must be text, got %T", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	items := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return items, nil
}
