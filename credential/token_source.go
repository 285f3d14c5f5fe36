package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx    context.Context
	cred   azcore.TokenCredential
	scopes []string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.cred.GetToken(ts.ctx, policy.TokenRequestOptions{Scopes: ts.scopes})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire access token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresOn,
	}, nil
}

// TokenSource adapts an azcore credential to an oauth2.TokenSource. Tokens
// are reused until shortly before expiry, then requested again from cred.
func TokenSource(ctx context.Context, cred azcore.TokenCredential, scopes ...string) oauth2.TokenSource {
	if len(scopes) == 0 {
		scopes = []string{ManagementScope}
	}
	return oauth2.ReuseTokenSource(nil, &tokenSource{ctx: ctx, cred: cred, scopes: scopes})
}
