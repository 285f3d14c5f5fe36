package helpers

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/stephnangue/azgraph/config"
	"github.com/stephnangue/azgraph/graph"
	"github.com/stephnangue/azgraph/helper"
	"github.com/stephnangue/azgraph/logger"
	"github.com/stephnangue/azgraph/provider"
)

// GraphProvider is the client provider every command works with.
type GraphProvider = provider.ClientProvider[*graph.Client, graph.Options]

// LoadConfig loads the optional file at path plus the environment.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from cfg, writing to out.
func NewLogger(cfg *config.Config, out io.Writer) logger.Logger {
	logCfg := logger.ServerConfig(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	logCfg.Outputs = []io.Writer{out}
	return logger.NewZerologLogger(logCfg)
}

// NewGraphProvider wires a Resource Graph client provider for cfg.
func NewGraphProvider(ctx context.Context, cfg *config.Config, log logger.Logger) (*GraphProvider, error) {
	factory := graph.NewFactory(helper.DefaultHTTPClientConfig(), log)
	return provider.New[*graph.Client, graph.Options](ctx, cfg, factory, log)
}

// GraphOptions returns the client options selected by cfg.
func GraphOptions(cfg *config.Config) graph.Options {
	return graph.Options{Endpoint: cfg.ResourceManagerEndpoint}
}
