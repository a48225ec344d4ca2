package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"grantwatch/internal/domain"
)

// SummarizeToolName is the catalog name of the summarize tool.
const SummarizeToolName = "summarize_grant"

// MaxSummaryLength bounds summaries in characters.
const MaxSummaryLength = 500

// SummarizeTool renders a templated summary of one grant.
type SummarizeTool struct {
	store Getter
}

func NewSummarizeTool(store Getter) *SummarizeTool {
	return &SummarizeTool{store: store}
}

func (t *SummarizeTool) Name() string { return SummarizeToolName }

func (t *SummarizeTool) Description() string {
	return "Summarize one grant opportunity by its exact identifier, including award ceiling and close date."
}

func (t *SummarizeTool) Usage() string {
	return `<OPPORTUNITY_ID>  or  id=<OPPORTUNITY_ID>`
}

func (t *SummarizeTool) Validate(input string) error {
	_, err := t.parse(input)
	return err
}

func (t *SummarizeTool) parse(input string) (string, error) {
	args, err := ParseArgs(input, "id")
	if err != nil {
		return "", err
	}
	id, err := args.Primary("id")
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: summarize needs a grant identifier", domain.ErrInvalidInput)
	}
	if strings.ContainsAny(id, " \t\n") {
		return "", fmt.Errorf("%w: expected a single identifier, got %q", domain.ErrInvalidInput, id)
	}
	return id, nil
}

func (t *SummarizeTool) Run(ctx context.Context, input string) (string, error) {
	id, err := t.parse(input)
	if err != nil {
		return "", err
	}

	g, ok, err := t.store.GetGrantByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Grant %q not found.", id), nil
	}
	return Summarize(g), nil
}

// Summarize builds a deterministic summary of at most MaxSummaryLength characters.
// Award ceiling and close date are always kept when present; the description is
// shortened to make room for them.
func Summarize(g domain.Grant) string {
	var tail []string
	if g.AwardCeiling != "" {
		tail = append(tail, "Award ceiling: "+truncate(g.AwardCeiling, 60)+".")
	}
	if g.CloseDate != "" {
		tail = append(tail, "Close date: "+truncate(g.CloseDate, 40)+".")
	}
	closing := strings.Join(tail, " ")

	var lead []string
	title := g.Title
	if title == "" {
		title = "Untitled grant"
	}
	head := fmt.Sprintf("%s (%s)", truncate(title, 120), g.ID)
	if g.Agency != "" {
		head += " from " + truncate(g.Agency, 80)
	}
	lead = append(lead, head+".")

	var facts []string
	if g.Category != "" {
		facts = append(facts, "Category: "+g.Category)
	}
	if g.InstrumentType != "" {
		facts = append(facts, "Instrument: "+g.InstrumentType)
	}
	if len(facts) > 0 {
		lead = append(lead, strings.Join(facts, ". ")+".")
	}
	if g.Description != "" {
		lead = append(lead, g.Description)
	}

	body := strings.Join(lead, " ")
	budget := MaxSummaryLength
	if closing != "" {
		budget -= utf8.RuneCountInString(closing) + 1
	}
	body = truncate(body, budget)

	if closing == "" {
		return body
	}
	return body + " " + closing
}

// truncate shortens s to at most n runes, cutting at a word boundary when possible.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}

	cut := string([]rune(s)[:n-3])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
