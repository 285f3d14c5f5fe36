package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stephnangue/azgraph/cmd/helpers"
	"github.com/stephnangue/azgraph/graph"
	"github.com/stephnangue/azgraph/logger"
)

const (
	outputTable = "table"
	outputJSON  = "json"

	accessTokenArg = "access_token"
)

var (
	configPath string
	token      string
	arguments  []string
	output     string

	QueryCmd = &cobra.Command{
		Use:           "query <tool>",
		Short:         "Runs one Resource Graph tool and prints its result",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		Long: `
Usage: azgraph query <tool> [options]

  Runs a single tool in-process and prints the rows it returns. In delegated
  mode the caller's access token must be supplied with --token or the
  AZGRAPH_TOKEN environment variable.

  List AKS clusters of one subscription:

      $ azgraph query list-aks-clusters --arg subscriptionId=<guid>

  Run a KQL query read from a file:

      $ azgraph query query-azure-resources --arg query=@resources.kql --arg top=50
`,
		RunE: runQuery,
	}
)

func init() {
	QueryCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	QueryCmd.Flags().StringVar(&token, "token", "", "Access token of the calling user (delegated mode)")
	QueryCmd.Flags().StringArrayVarP(&arguments, "arg", "a", nil, "Tool argument as key=value; value may be @file")
	QueryCmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table or json")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if output != outputTable && output != outputJSON {
		return fmt.Errorf("unsupported output format %q", output)
	}

	toolArgs, err := helpers.ParseArguments(arguments)
	if err != nil {
		return err
	}

	cfg, err := helpers.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := helpers.NewLogger(cfg, cmd.ErrOrStderr())
	defer log.Close()

	ctx := cmd.Context()
	prov, err := helpers.NewGraphProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = prov.Close(closeCtx)
	}()

	log.Debug("running tool",
		logger.String("tool", args[0]),
		logger.Any("arguments", helpers.MaskArguments([]string{accessTokenArg}, toolArgs)),
	)

	accessToken := token
	if v, ok := toolArgs[accessTokenArg].(string); ok && accessToken == "" {
		accessToken = v
	}
	delete(toolArgs, accessTokenArg)
	if accessToken == "" {
		accessToken = os.Getenv("AZGRAPH_TOKEN")
	}
	req, err := prov.NewRequest(accessToken)
	if err != nil {
		return err
	}

	client, err := prov.GetClient(ctx, req, helpers.GraphOptions(cfg))
	if err != nil {
		return err
	}

	result, err := graph.NewRegistry().Call(ctx, client, args[0], toolArgs)
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), result)
}

func printResult(w io.Writer, result *graph.QueryResult) error {
	if output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	headers, data := helpers.RowsToTable(result.Data)
	helpers.PrintTable(w, headers, data)
	fmt.Fprintf(w, "\n%d of %d records", result.Count, result.TotalRecords)
	if result.ResultTruncated || result.SkipToken != "" {
		fmt.Fprint(w, " (more available)")
	}
	fmt.Fprintln(w)
	return nil
}
