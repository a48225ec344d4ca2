package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats.Map(), "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Grants indexed:  %d\n", stats.TotalIndexed)
	fmt.Printf("Backend:         %s (%s)\n", stats.Backend, stats.Metric)
	fmt.Printf("Embedding model: %s (%d dims)\n", stats.Model, stats.Dimension)
	if !stats.LastIndexedAt.IsZero() {
		fmt.Printf("Last indexed:    %s\n", stats.LastIndexedAt.Format(time.RFC3339))
	}
	return nil
}
