package tools

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/stephnangue/azgraph/cmd/helpers"
	"github.com/stephnangue/azgraph/graph"
)

var (
	ToolsCmd = &cobra.Command{
		Use:           "tools",
		Short:         "Lists the Resource Graph tools azgraph serves",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `
Usage: azgraph tools

  Lists every tool with its description and arguments. Required arguments
  are marked with an asterisk.
`,
		RunE: runTools,
	}
)

func runTools(cmd *cobra.Command, args []string) error {
	headers := []string{"Name", "Arguments", "Description"}
	var data [][]any

	for _, tool := range graph.NewRegistry().List() {
		params := make([]string, 0, len(tool.Parameters))
		for _, p := range tool.Parameters {
			name := p.Name
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		data = append(data, []any{tool.Name, strings.Join(params, ", "), tool.Description})
	}

	helpers.PrintTable(cmd.OutOrStdout(), headers, data)
	return nil
}
