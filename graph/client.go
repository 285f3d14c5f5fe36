package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/stephnangue/azgraph/credential"
	"github.com/stephnangue/azgraph/helper"
	"github.com/stephnangue/azgraph/logger"
)

const (
	// DefaultEndpoint is the public cloud Resource Manager endpoint.
	DefaultEndpoint = "https://management.azure.com"
	// APIVersion of the Microsoft.ResourceGraph resources operation.
	APIVersion = "2022-10-01"

	resourcesPath   = "/providers/Microsoft.ResourceGraph/resources"
	maxResponseSize = int64(32 << 20) // 32MB
	maxTop          = 1000
)

// Options select the Resource Manager endpoint a client talks to.
type Options struct {
	Endpoint string
	// Scope defaults to <Endpoint>/.default.
	Scope string
}

func (o Options) normalize() Options {
	o.Endpoint = strings.TrimRight(strings.TrimSpace(o.Endpoint), "/")
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.Scope == "" {
		if o.Endpoint == DefaultEndpoint {
			o.Scope = credential.ManagementScope
		} else {
			o.Scope = o.Endpoint + "/.default"
		}
	}
	return o
}

func (o Options) isDefault() bool {
	return o.Endpoint == DefaultEndpoint && o.Scope == credential.ManagementScope
}

// QueryRequest is a single Resource Graph query.
type QueryRequest struct {
	Query            string
	Subscriptions    []string
	ManagementGroups []string
	Top              int
	Skip             int
	SkipToken        string
}

// QueryResult is one page of query results.
type QueryResult struct {
	TotalRecords    int64            `json:"total_records"`
	Count           int64            `json:"count"`
	ResultTruncated bool             `json:"result_truncated"`
	SkipToken       string           `json:"skip_token,omitempty"`
	Data            []map[string]any `json:"data"`
}

// ResponseError is a non-2xx answer from Resource Graph.
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("resource graph request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("resource graph request failed with status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

type queryOptions struct {
	ResultFormat string `json:"resultFormat"`
	Top          *int   `json:"$top,omitempty"`
	Skip         *int   `json:"$skip,omitempty"`
	SkipToken    string `json:"$skipToken,omitempty"`
}

type queryBody struct {
	Query            string       `json:"query"`
	Subscriptions    []string     `json:"subscriptions,omitempty"`
	ManagementGroups []string     `json:"managementGroups,omitempty"`
	Options          queryOptions `json:"options"`
}

type queryResponse struct {
	TotalRecords    int64            `json:"totalRecords"`
	Count           int64            `json:"count"`
	ResultTruncated string           `json:"resultTruncated"`
	SkipToken       string           `json:"$skipToken"`
	Data            []map[string]any `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client queries Azure Resource Graph with tokens drawn from one credential.
type Client struct {
	options   Options
	url       string
	http      *retryablehttp.Client
	transport *http.Transport
	logger    logger.Logger
}

// NewClient builds a client authenticating with cred.
func NewClient(cred azcore.TokenCredential, opts Options, httpConfig helper.HTTPClientConfig, log logger.Logger) (*Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	opts = opts.normalize()

	rc, transport, err := helper.NewRetryableClient(httpConfig, log.WithSubsystem("http"))
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	// The token source outlives any single request.
	rc.HTTPClient.Transport = &oauth2.Transport{
		Base:   transport,
		Source: credential.TokenSource(context.Background(), cred, opts.Scope),
	}

	return &Client{
		options:   opts,
		url:       opts.Endpoint + resourcesPath + "?api-version=" + APIVersion,
		http:      rc,
		transport: transport,
		logger:    log,
	}, nil
}

// Options returns the normalized options of the client.
func (c *Client) Options() Options { return c.options }

// Query runs req and returns one page of results.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.Top < 0 || req.Top > maxTop {
		return nil, fmt.Errorf("top must be between 0 and %d", maxTop)
	}

	body := queryBody{
		Query:            req.Query,
		Subscriptions:    req.Subscriptions,
		ManagementGroups: req.ManagementGroups,
		Options: queryOptions{
			ResultFormat: "objectArray",
			SkipToken:    req.SkipToken,
		},
	}
	if req.Top > 0 {
		top := req.Top
		body.Options.Top = &top
	}
	if req.Skip > 0 {
		skip := req.Skip
		body.Options.Skip = &skip
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("resource graph request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read resource graph response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := &ResponseError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			rerr.Code = er.Error.Code
			rerr.Message = er.Error.Message
		}
		c.logger.Debug("resource graph query rejected",
			logger.Int("status", resp.StatusCode),
			logger.String("code", rerr.Code),
		)
		return nil, rerr
	}

	var qr queryResponse
	if err := json.Unmarshal(data, &qr); err != nil {
		return nil, fmt.Errorf("failed to decode resource graph response: %w", err)
	}

	c.logger.Trace("resource graph query completed",
		logger.Int64("count", qr.Count),
		logger.Int64("total_records", qr.TotalRecords),
	)

	return &QueryResult{
		TotalRecords:    qr.TotalRecords,
		Count:           qr.Count,
		ResultTruncated: strings.EqualFold(qr.ResultTruncated, "true"),
		SkipToken:       qr.SkipToken,
		Data:            qr.Data,
	}, nil
}

// Dispose releases pooled connections. The client must not be used
// afterwards.
func (c *Client) Dispose(ctx context.Context) error {
	c.transport.CloseIdleConnections()
	return nil
}
