package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/logger"
)

// ApplicationProvider hands out the service's own identity. It keeps no
// per-caller state.
type ApplicationProvider struct {
	tenantID      string
	newCredential func() (azcore.TokenCredential, error)
	logger        logger.Logger
}

var _ Provider = (*ApplicationProvider)(nil)

// NewApplicationProvider returns a provider backed by DefaultAzureCredential
// (environment, workload identity, managed identity, then Azure CLI).
func NewApplicationProvider(tenantID string, log logger.Logger) *ApplicationProvider {
	if log == nil {
		log = logger.Nop()
	}
	p := &ApplicationProvider{
		tenantID: tenantID,
		logger:   log.WithSubsystem("credential.application"),
	}
	p.newCredential = func() (azcore.TokenCredential, error) {
		return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			TenantID: p.tenantID,
		})
	}
	return p
}

func (*ApplicationProvider) Mode() auth.Mode { return auth.ModeApplication }

// CreateCredential returns a fresh credential handle. No token is requested
// here; the handle acquires and refreshes tokens on first use.
func (p *ApplicationProvider) CreateCredential(_ context.Context, identity auth.Identity) (*Credential, error) {
	if identity == nil || identity.Mode() != auth.ModeApplication {
		return nil, fmt.Errorf("%w: application provider cannot serve %v", auth.ErrModeMismatch, identity)
	}

	cred, err := p.newCredential()
	if err != nil {
		return nil, fmt.Errorf("failed to create application credential: %w", err)
	}

	p.logger.Debug("created application credential", logger.String("tenant_id", p.tenantID))
	return &Credential{TokenCredential: cred}, nil
}
