package credential

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/hashicorp/go-secure-stdlib/strutil"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/logger"
)

// DelegatedConfig configures the confidential client used for on-behalf-of
// exchanges. Exactly one of ClientSecret or CertificatePath must be set.
type DelegatedConfig struct {
	ClientID            string
	ClientSecret        string
	CertificatePath     string
	CertificatePassword string
	// Scopes requested for the downstream token. Defaults to ManagementScope.
	Scopes []string
}

// oboFactory builds an on-behalf-of credential for one user assertion.
type oboFactory func(tenantID, assertion string) (azcore.TokenCredential, error)

// DelegatedProvider exchanges a caller's validated token for a downstream
// token scoped to the Azure management API.
type DelegatedProvider struct {
	clientID string
	secret   string
	scopes   []string
	newOBO   oboFactory
	logger   logger.Logger
}

var _ Provider = (*DelegatedProvider)(nil)

// NewDelegatedProvider validates cfg and loads the client certificate, if
// any. Configuration problems are reported here, never at call time.
func NewDelegatedProvider(cfg DelegatedConfig, log logger.Logger) (*DelegatedProvider, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ClientID == "" {
		return nil, auth.ConfigError("AZURE_CLIENT_ID", "client id is required for delegated mode")
	}

	hasSecret := cfg.ClientSecret != ""
	hasCert := cfg.CertificatePath != ""
	if hasSecret == hasCert {
		return nil, auth.ConfigError("AZURE_CLIENT_SECRET", "exactly one of client secret or client certificate path must be set for delegated mode")
	}

	scopes := strutil.RemoveDuplicates(cfg.Scopes, false)
	if len(scopes) == 0 {
		scopes = []string{ManagementScope}
	}

	p := &DelegatedProvider{
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		scopes:   scopes,
		logger:   log.WithSubsystem("credential.delegated"),
	}

	if hasSecret {
		p.newOBO = func(tenantID, assertion string) (azcore.TokenCredential, error) {
			return azidentity.NewOnBehalfOfCredentialWithSecret(tenantID, p.clientID, assertion, p.secret, nil)
		}
		return p, nil
	}

	certs, key, err := loadCertificate(cfg.CertificatePath, cfg.CertificatePassword)
	if err != nil {
		return nil, auth.ConfigError("AZURE_CLIENT_CERTIFICATE_PATH", "%v", err)
	}
	p.newOBO = func(tenantID, assertion string) (azcore.TokenCredential, error) {
		return azidentity.NewOnBehalfOfCredentialWithCertificate(tenantID, p.clientID, assertion, certs, key, &azidentity.OnBehalfOfCredentialOptions{
			SendCertificateChain: true,
		})
	}
	return p, nil
}

func loadCertificate(path, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	var pass []byte
	if password != "" {
		pass = []byte(password)
	}
	certs, key, err := azidentity.ParseCertificates(data, pass)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	return certs, key, nil
}

func (*DelegatedProvider) Mode() auth.Mode { return auth.ModeDelegated }

// CreateCredential performs the exchange eagerly so that a rejected assertion
// surfaces here rather than on the first downstream call.
func (p *DelegatedProvider) CreateCredential(ctx context.Context, identity auth.Identity) (*Credential, error) {
	d, ok := identity.(*auth.DelegatedIdentity)
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: delegated provider cannot serve %v", auth.ErrModeMismatch, identity)
	}
	if d.RawToken == "" {
		return nil, &auth.TokenExchangeError{TenantID: d.TenantID, UserObjectID: d.UserObjectID, Err: errors.New("missing user assertion")}
	}

	cred, err := p.newOBO(d.TenantID, d.RawToken)
	if err != nil {
		return nil, &auth.TokenExchangeError{TenantID: d.TenantID, UserObjectID: d.UserObjectID, Err: p.scrub(err, d.RawToken)}
	}

	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: p.scopes})
	if err != nil {
		p.logger.Warn("on-behalf-of exchange failed",
			logger.String("tenant_id", d.TenantID),
			logger.String("user_object_id", d.UserObjectID),
		)
		return nil, &auth.TokenExchangeError{TenantID: d.TenantID, UserObjectID: d.UserObjectID, Err: p.scrub(err, d.RawToken)}
	}

	p.logger.Debug("on-behalf-of exchange succeeded",
		logger.String("tenant_id", d.TenantID),
		logger.String("user_object_id", d.UserObjectID),
		logger.Time("token_expires_at", tok.ExpiresOn),
	)
	return &Credential{TokenCredential: cred, ExpiresAt: tok.ExpiresOn}, nil
}

// scrub drops the original error when its text would disclose the assertion
// or the client secret.
func (p *DelegatedProvider) scrub(err error, assertion string) error {
	msg := err.Error()
	leaked := false
	for _, s := range []string{assertion, p.secret} {
		if s != "" && strings.Contains(msg, s) {
			msg = strings.ReplaceAll(msg, s, "[redacted]")
			leaked = true
		}
	}
	if !leaked {
		return err
	}
	return errors.New(msg)
}
