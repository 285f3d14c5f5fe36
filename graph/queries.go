package graph

import (
	"embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/stephnangue/azgraph/helper"
)

//go:embed queries/*.kql
var queryFS embed.FS

const (
	querySubscriptions  = "queries/list_subscriptions.kql"
	queryResourceGroups = "queries/list_resource_groups.kql"
	queryAKSClusters    = "queries/list_aks_clusters.kql"
)

var (
	subscriptionIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	// Letters, digits, underscores, hyphens, periods and parentheses; no
	// trailing period.
	resourceGroupPattern = regexp.MustCompile(`^[\p{L}\p{N}_\-.()]{1,90}$`)
)

// QueryVars are the values interpolated into predefined queries. Every
// field is validated before rendering.
type QueryVars struct {
	SubscriptionID string
	ResourceGroup  string
}

// Validate rejects values that could escape a KQL string literal.
func (v QueryVars) Validate() error {
	if v.SubscriptionID != "" && !subscriptionIDPattern.MatchString(v.SubscriptionID) {
		return fmt.Errorf("%w: subscriptionId must be a GUID", ErrInvalidArguments)
	}
	if v.ResourceGroup != "" {
		if !resourceGroupPattern.MatchString(v.ResourceGroup) || strings.HasSuffix(v.ResourceGroup, ".") {
			return fmt.Errorf("%w: resourceGroup %q is not a valid resource group name", ErrInvalidArguments, v.ResourceGroup)
		}
	}
	return nil
}

// RenderQuery renders the predefined query at name with vars.
func RenderQuery(name string, vars QueryVars) (string, error) {
	if err := vars.Validate(); err != nil {
		return "", err
	}
	out, err := helper.InterpolateFS(queryFS, name, vars)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
