package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"grantwatch/internal/ingest"
)

var indexBatch int

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index grant records for retrieval",
	Long: `Load grant records from a file or directory and index them.
JSON arrays, JSON lines, YAML lists and CSV exports with the standard column
names are accepted. Records already indexed under the same OPPORTUNITY_ID are
replaced.

Examples:
  grantwatch index .                       # Index every record file here
  grantwatch index exports/grants.csv      # Index one export
  grantwatch index exports --batch 500     # Commit in batches of 500`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().IntVar(&indexBatch, "batch", 0, "records per atomic commit (default: all at once)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	cfg := GetConfig()
	ctx := cmd.Context()

	loader := ingest.NewLoader(ingest.NewWalker(cfg.Ingest.Includes, cfg.Ingest.ExcludePatterns()), cfg.Ingest.Workers, logger)
	fmt.Printf("Scanning %s...\n", path)
	loaded, err := loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("loading records failed: %w", err)
	}
	if len(loaded.Grants) == 0 {
		fmt.Println("No grant records found.")
		return nil
	}

	a, err := newApp(cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	batch := indexBatch
	if batch <= 0 {
		batch = len(loaded.Grants)
	}

	bar := progressbar.NewOptions(len(loaded.Grants),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	var (
		indexed, rejected, failed int
		warnings                  []string
		startTime                 = time.Now()
	)
	for start := 0; start < len(loaded.Grants); start += batch {
		end := min(start+batch, len(loaded.Grants))
		res, err := a.store.Index(ctx, loaded.Grants[start:end])
		if err != nil {
			failed += end - start
			warnings = append(warnings, fmt.Sprintf("records %d-%d not indexed: %v", start+1, end, err))
		} else {
			indexed += res.Indexed
			rejected += len(res.Rejected)
			for _, r := range res.Rejected {
				warnings = append(warnings, fmt.Sprintf("record %d (%s) rejected: %s", start+r.Index+1, r.ID, r.Reason))
			}
		}

		bar.Set(end)
		elapsed := time.Since(startTime)
		if rate := float64(end) / elapsed.Seconds(); rate > 0 && end < len(loaded.Grants) {
			eta := time.Duration(float64(len(loaded.Grants)-end)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
		}
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files read:       %d\n", loaded.Files)
	fmt.Printf("  Records indexed:  %d\n", indexed)
	fmt.Printf("  Records rejected: %d\n", rejected)
	if failed > 0 {
		fmt.Printf("  Records failed:   %d\n", failed)
	}

	for _, f := range loaded.Failed {
		warnings = append(warnings, f.Error())
	}
	if len(warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d record(s) could not be indexed", failed)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
