package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stephnangue/azgraph/cmd/query"
	"github.com/stephnangue/azgraph/cmd/server"
	"github.com/stephnangue/azgraph/cmd/tools"
)

var (
	azgraphCmd = &cobra.Command{
		Use:   "azgraph",
		Short: "azgraph serves Azure Resource Graph query tools",
		Long: `azgraph exposes Azure Resource Graph queries as named tools. Calls run either
as the service's own identity or on behalf of the calling user, with downstream
credentials and clients cached per identity.`,
		SilenceUsage: true,
	}
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := azgraphCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	azgraphCmd.AddCommand(server.ServerCmd)
	azgraphCmd.AddCommand(query.QueryCmd)
	azgraphCmd.AddCommand(tools.ToolsCmd)
}
