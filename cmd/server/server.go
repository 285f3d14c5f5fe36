package server

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stephnangue/azgraph/cmd/helpers"
	"github.com/stephnangue/azgraph/config"
	azhttp "github.com/stephnangue/azgraph/http"
	"github.com/stephnangue/azgraph/listener"
	"github.com/stephnangue/azgraph/listener/api"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts an azgraph server that responds to API requests",
		Long: `
Usage: azgraph server [options]

  This command starts an azgraph server that serves Resource Graph tools over
  HTTP. Configuration comes from an optional HCL file overlaid with
  environment variables.

  Start a server with a configuration file:

      $ azgraph server --config=/etc/azgraph/azgraph.hcl

  Start a delegated-mode server from the environment only:

      $ AZURE_AUTH_MODE=delegated AZURE_CLIENT_SECRET=... azgraph server
  `,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/azgraph.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := helpers.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log := helpers.NewLogger(cfg, os.Stderr)
	defer log.Close()

	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metricsConf := metrics.DefaultConfig("azgraph")
	metricsConf.EnableHostname = false
	if _, err := metrics.NewGlobal(metricsConf, sink); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	ctx := cmd.Context()

	prov, err := helpers.NewGraphProvider(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize client provider: %w", err)
	}

	handler := azhttp.Handler(&azhttp.HandlerProperties{
		Provider:     prov,
		Logger:       log,
		GraphOptions: helpers.GraphOptions(cfg),
		SysEndpoints: cfg.SysEndpoints,
		Metrics:      sink,
	})

	ln, err := api.NewApiListener(api.ApiListenerConfig{
		Logger:          log,
		Address:         cfg.ListenAddress,
		TLSCertFile:     cfg.TLSCertFile,
		TLSKeyFile:      cfg.TLSKeyFile,
		ShutdownTimeout: shutdownTimeout,
	}, handler)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	printBanner(cmd, cfg, ln)

	var errs *multierror.Error
	if err := ln.Start(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s listener at %s: %w", ln.Type(), ln.Addr(), err))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := prov.Close(closeCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("client provider shutdown failed: %w", err))
	}

	if err := errs.ErrorOrNil(); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Shutdown completed with errors: %v\n", err)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server shutdown completed successfully\n")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config, ln listener.Listener) {
	info := cfg.Display(helpers.MaskValue)
	info["listener"] = fmt.Sprintf("%s (%s)", ln.Addr(), ln.Type())
	delete(info, config.EnvListenAddress)

	keys := make([]string, 0, len(info))
	for k, v := range info {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> azgraph server configuration:\n\n")

	titleCaser := cases.Title(language.English)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%36s: %s\n", titleCaser.String(displayName(k)), info[k])
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> azgraph server started! Log data will stream in below:\n")
}

// displayName turns a setting name such as AZURE_CLIENT_ID into
// "azure client id".
func displayName(setting string) string {
	return strings.ToLower(strings.ReplaceAll(setting, "_", " "))
}
