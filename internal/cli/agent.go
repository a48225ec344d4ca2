package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"grantwatch/internal/agent"
)

var (
	askText        string
	workflowParams []string
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask the agent a question about grants",
	Long: `Plan and run search and summarize calls for a free-form question.

Examples:
  grantwatch ask -q "find the top 3 grants for rural broadband"
  grantwatch ask -q "summarize NSF-24-001"`,
	RunE: runAsk,
}

var workflowCmd = &cobra.Command{
	Use:   "workflow <name>",
	Short: "Run a named workflow",
	Long: `Run a named multi-step workflow. Parameters are given as key=value;
list parameters take comma-separated values.

Examples:
  grantwatch workflow targeted_search --param query="wildfire resilience" --param top_k=3
  grantwatch workflow compare_grants --param ids=NSF-24-001,DOE-2024-0051`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List available workflows and their parameters",
	RunE:  runWorkflows,
}

func init() {
	rootCmd.AddCommand(askCmd, workflowCmd, workflowsCmd)
	askCmd.Flags().StringVarP(&askText, "query", "q", "", "question (required)")
	askCmd.MarkFlagRequired("query")
	workflowCmd.Flags().StringArrayVarP(&workflowParams, "param", "p", nil, "workflow parameter as key=value (repeatable)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.agent.ProcessQuery(cmd.Context(), askText)
	fmt.Println(resp.Text)
	return err
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	params, err := parseParams(workflowParams)
	if err != nil {
		return err
	}

	a, err := newApp(GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.agent.ExecuteWorkflow(cmd.Context(), args[0], params)
	fmt.Println(resp.Text)
	return err
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, wf := range agent.DefaultRegistry().Workflows() {
		fmt.Fprintf(w, "%s\t%s\n", wf.Name, wf.Description)
		for _, p := range wf.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(w, "  --param %s=<%s>\t%s (%s)\n", p.Name, p.Type, p.Description, req)
		}
	}
	return w.Flush()
}

// parseParams turns key=value flags into workflow params. Values stay text;
// the workflow coerces them to their declared types.
func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("parameter %q given twice", key)
		}
		params[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return params, nil
}
