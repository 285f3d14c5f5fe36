package graph

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/stephnangue/azgraph/helper"
	"github.com/stephnangue/azgraph/logger"
)

// Factory builds Resource Graph clients for the client cache.
type Factory struct {
	httpConfig helper.HTTPClientConfig
	logger     logger.Logger
}

// NewFactory returns a factory using httpConfig for every client.
func NewFactory(httpConfig helper.HTTPClientConfig, log logger.Logger) *Factory {
	if log == nil {
		log = logger.Nop()
	}
	return &Factory{httpConfig: httpConfig, logger: log.WithSubsystem("graph")}
}

func (f *Factory) CreateClient(ctx context.Context, cred azcore.TokenCredential, opts Options) (*Client, error) {
	return NewClient(cred, opts, f.httpConfig, f.logger)
}

// Fingerprint distinguishes clients for non-default endpoints or scopes.
func (f *Factory) Fingerprint(opts Options) (string, bool) {
	opts = opts.normalize()
	if opts.isDefault() {
		return "", false
	}
	return opts.Endpoint + "|" + opts.Scope, true
}
