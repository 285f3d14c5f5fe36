package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/stephnangue/azgraph/helper"
)

// Tool names.
const (
	ToolQueryResources     = "query-azure-resources"
	ToolListSubscriptions  = "list-subscriptions"
	ToolListResourceGroups = "list-resource-groups"
	ToolListAKSClusters    = "list-aks-clusters"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Querier runs Resource Graph queries. *Client implements it.
type Querier interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// HandlerFunc runs a tool against a querier.
type HandlerFunc func(ctx context.Context, q Querier, args map[string]interface{}) (*QueryResult, error)

// Tool is a named, self-describing Resource Graph operation.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     HandlerFunc `json:"-"`
}

// Registry holds the tools exposed to callers.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry returns a registry with the built-in tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range builtinTools() {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the tool called name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools sorted by name.
func (r *Registry) List() []*Tool {
	names := helper.SortedKeys(r.tools)
	out := make([]*Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Call runs the tool called name.
func (r *Registry) Call(ctx context.Context, q Querier, name string, args map[string]interface{}) (*QueryResult, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Handler(ctx, q, args)
}

type queryArgs struct {
	Query         string   `mapstructure:"query"`
	Subscriptions []string `mapstructure:"subscriptions"`
	Top           int      `mapstructure:"top"`
	SkipToken     string   `mapstructure:"skipToken"`
}

type scopeArgs struct {
	SubscriptionID string `mapstructure:"subscriptionId"`
	ResourceGroup  string `mapstructure:"resourceGroup"`
}

func decodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func builtinTools() []*Tool {
	return []*Tool{
		{
			Name:        ToolQueryResources,
			Description: "Run a Kusto (KQL) query against Azure Resource Graph.",
			Parameters: []Parameter{
				{Name: "query", Type: "string", Description: "KQL query text", Required: true},
				{Name: "subscriptions", Type: "array", Description: "Subscription IDs to scope the query to"},
				{Name: "top", Type: "integer", Description: "Maximum number of rows (1-1000)"},
				{Name: "skipToken", Type: "string", Description: "Continuation token from a previous page"},
			},
			Handler: handleQuery,
		},
		{
			Name:        ToolListSubscriptions,
			Description: "List the subscriptions visible to the caller.",
			Handler: func(ctx context.Context, q Querier, args map[string]interface{}) (*QueryResult, error) {
				var a struct{}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return runPredefined(ctx, q, querySubscriptions, QueryVars{})
			},
		},
		{
			Name:        ToolListResourceGroups,
			Description: "List resource groups, optionally within one subscription.",
			Parameters: []Parameter{
				{Name: "subscriptionId", Type: "string", Description: "Subscription ID (GUID)"},
			},
			Handler: func(ctx context.Context, q Querier, args map[string]interface{}) (*QueryResult, error) {
				var a struct {
					SubscriptionID string `mapstructure:"subscriptionId"`
				}
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return runPredefined(ctx, q, queryResourceGroups, QueryVars{SubscriptionID: a.SubscriptionID})
			},
		},
		{
			Name:        ToolListAKSClusters,
			Description: "List AKS clusters, optionally filtered by subscription and resource group.",
			Parameters: []Parameter{
				{Name: "subscriptionId", Type: "string", Description: "Subscription ID (GUID)"},
				{Name: "resourceGroup", Type: "string", Description: "Resource group name"},
			},
			Handler: func(ctx context.Context, q Querier, args map[string]interface{}) (*QueryResult, error) {
				var a scopeArgs
				if err := decodeArgs(args, &a); err != nil {
					return nil, err
				}
				return runPredefined(ctx, q, queryAKSClusters, QueryVars(a))
			},
		},
	}
}

func handleQuery(ctx context.Context, q Querier, args map[string]interface{}) (*QueryResult, error) {
	var a queryArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}
	if a.Top < 0 || a.Top > maxTop {
		return nil, fmt.Errorf("%w: top must be between 1 and %d", ErrInvalidArguments, maxTop)
	}
	for _, s := range a.Subscriptions {
		if !subscriptionIDPattern.MatchString(s) {
			return nil, fmt.Errorf("%w: subscription %q is not a GUID", ErrInvalidArguments, s)
		}
	}
	return q.Query(ctx, QueryRequest{
		Query:         a.Query,
		Subscriptions: a.Subscriptions,
		Top:           a.Top,
		SkipToken:     a.SkipToken,
	})
}

func runPredefined(ctx context.Context, q Querier, name string, vars QueryVars) (*QueryResult, error) {
	query, err := RenderQuery(name, vars)
	if err != nil {
		return nil, err
	}
	req := QueryRequest{Query: query}
	if vars.SubscriptionID != "" {
		req.Subscriptions = []string{vars.SubscriptionID}
	}
	return q.Query(ctx, req)
}
