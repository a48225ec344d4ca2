// Package planner turns a free-form query into tool calls.
package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"

	"grantwatch/internal/agent/tools"
	"grantwatch/internal/port"
)

var (
	// candidate identifiers look like TEST-AI-002 or HHS-2024-ACF-0042,
	// but so do COVID-19 and K-12; only indexed ones are summarized
	grantIDPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:-[A-Z0-9]+)+\b`)
	topNPattern    = regexp.MustCompile(`(?i)\btop\s+(\d{1,2})\b`)
)

// KeywordPlanner is a deterministic planner: identifiers known to the index
// are summarized, anything else is searched.
type KeywordPlanner struct {
	grants tools.Getter
}

// NewKeywordPlanner creates a planner that checks candidate identifiers
// against grants. A nil Getter disables identifier routing.
func NewKeywordPlanner(grants tools.Getter) *KeywordPlanner {
	return &KeywordPlanner{grants: grants}
}

func (p *KeywordPlanner) Name() string { return "keyword" }

func (p *KeywordPlanner) Plan(ctx context.Context, query string, catalog []port.ToolSpec) ([]port.PlannedCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	available := make(map[string]bool, len(catalog))
	for _, spec := range catalog {
		available[spec.Name] = true
	}

	var calls []port.PlannedCall
	if available[tools.SummarizeToolName] {
		for _, id := range p.knownIDs(ctx, query) {
			calls = append(calls, port.PlannedCall{Tool: tools.SummarizeToolName, Input: id})
		}
	}
	if len(calls) > 0 || !available[tools.SearchToolName] {
		return calls, nil
	}

	args := map[string]any{"query": query}
	if m := topNPattern.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			args["top_k"] = n
		}
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return []port.PlannedCall{{Tool: tools.SearchToolName, Input: string(input)}}, nil
}

// knownIDs returns the identifier-shaped tokens of query that resolve to an
// indexed grant, in order of first appearance. Lookup errors count as unknown.
func (p *KeywordPlanner) knownIDs(ctx context.Context, query string) []string {
	if p.grants == nil {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, id := range grantIDPattern.FindAllString(query, -1) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok, err := p.grants.GetGrantByID(ctx, id); err == nil && ok {
			ids = append(ids, id)
		}
	}
	return ids
}
