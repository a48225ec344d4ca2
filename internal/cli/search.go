package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grantwatch/internal/agent/tools"
)

var (
	searchText string
	searchTopK int
	searchJSON bool
	getJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search indexed grants by similarity",
	Long: `Rank indexed grants by semantic similarity to a query.

Examples:
  grantwatch search -q "climate data analytics"
  grantwatch search -q "AI in healthcare" --top-k 10 --json`,
	RunE: runSearch,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one grant by its OPPORTUNITY_ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove grants from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(searchCmd, getCmd, removeCmd)
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output the raw record as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	a, err := newApp(cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	topK := cfg.Search.DefaultTopK
	if searchTopK != 0 {
		topK = searchTopK
	}

	results, err := a.store.SearchGrants(cmd.Context(), searchText, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Println(tools.FormatResults(strings.TrimSpace(searchText), results))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ok, err := a.store.GetGrantByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("grant %q not found", args[0])
	}

	if getJSON {
		output, _ := json.MarshalIndent(g, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Println(tools.Summarize(g))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.RemoveGrants(cmd.Context(), args); err != nil {
		return err
	}
	fmt.Printf("Removed %d identifier(s).\n", len(args))
	return nil
}
