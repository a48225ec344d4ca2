package tools

import (
	"context"
	"fmt"
	"strings"

	"grantwatch/internal/domain"
)

// SearchToolName is the catalog name of the search tool.
const SearchToolName = "search_grants"

// SearchTool runs a similarity search and renders one line per result.
type SearchTool struct {
	store       Searcher
	defaultTopK int
}

// NewSearchTool creates the search tool. defaultTopK applies when the input has no top_k.
func NewSearchTool(store Searcher, defaultTopK int) *SearchTool {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &SearchTool{store: store, defaultTopK: defaultTopK}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Description() string {
	return "Search indexed grant opportunities by meaning. Returns identifier, title, agency, similarity, close date and award ceiling for each match."
}

func (t *SearchTool) Usage() string {
	return `<query text> [top_k=N]  or  query=<text>; top_k=N  or  {"query": "<text>", "top_k": N}`
}

func (t *SearchTool) Validate(input string) error {
	_, _, err := t.parse(input)
	return err
}

func (t *SearchTool) parse(input string) (string, int, error) {
	args, err := ParseArgs(input, "query", "top_k")
	if err != nil {
		return "", 0, err
	}
	query, err := args.Primary("query")
	if err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(query) == "" {
		return "", 0, fmt.Errorf("%w: search needs a query", domain.ErrInvalidInput)
	}
	topK, err := args.PositiveInt("top_k", t.defaultTopK)
	if err != nil {
		return "", 0, err
	}
	return query, topK, nil
}

func (t *SearchTool) Run(ctx context.Context, input string) (string, error) {
	query, topK, err := t.parse(input)
	if err != nil {
		return "", err
	}

	results, err := t.store.SearchGrants(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return FormatResults(query, results), nil
}

// FormatResults renders search results as the search tool reports them.
func FormatResults(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d grant(s) for %q:\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s] %s | %s | similarity %.3f | closes %s | ceiling %s\n",
			i+1, r.ID, r.Title, orNA(r.Agency), r.Similarity, orNA(r.CloseDate), orNA(r.AwardCeiling))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
