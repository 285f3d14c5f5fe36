package helper

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/stephnangue/azgraph/logger"
)

// HTTPClientConfig tunes the retrying client shared by outbound callers.
type HTTPClientConfig struct {
	Timeout      time.Duration
	MinRetryWait time.Duration
	MaxRetryWait time.Duration
	MaxRetries   int
}

// DefaultHTTPClientConfig mirrors the retry budget used for Azure endpoints.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:      60 * time.Second,
		MinRetryWait: 1000 * time.Millisecond,
		MaxRetryWait: 1500 * time.Millisecond,
		MaxRetries:   2,
	}
}

// NewRetryableClient returns a retryablehttp client over a pooled transport
// with HTTP/2 enabled, plus the transport so callers can close idle
// connections. Retry diagnostics go to log through the hclog adapter.
func NewRetryableClient(cfg HTTPClientConfig, log logger.Logger) (*retryablehttp.Client, *http.Transport, error) {
	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	client := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: cfg.MinRetryWait,
		RetryWaitMax: cfg.MaxRetryWait,
		RetryMax:     cfg.MaxRetries,
		Backoff:      retryablehttp.RateLimitLinearJitterBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	if log != nil {
		client.Logger = logger.NewHCLogAdapter(log)
	}
	return client, transport, nil
}
