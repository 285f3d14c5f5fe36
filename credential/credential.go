package credential

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/stephnangue/azgraph/auth"
)

// ManagementScope is the scope of the Azure Resource Manager API, which
// fronts Resource Graph.
const ManagementScope = "https://management.azure.com/.default"

// Credential is a downstream credential handle. The embedded TokenCredential
// refreshes its own tokens; ExpiresAt is the expiry of the token obtained
// when the credential was created, or zero when unknown.
type Credential struct {
	azcore.TokenCredential
	ExpiresAt time.Time
}

// Provider turns an identity into a downstream credential.
type Provider interface {
	Mode() auth.Mode
	CreateCredential(ctx context.Context, identity auth.Identity) (*Credential, error)
}
