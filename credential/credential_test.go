package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/azgraph/auth"
)

type fakeCredential struct {
	token  string
	expiry time.Time
	err    error
	calls  atomic.Int32
	scopes []string
}

func (f *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls.Add(1)
	f.scopes = opts.Scopes
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: f.expiry}, nil
}

func delegatedIdentity() *auth.DelegatedIdentity {
	return &auth.DelegatedIdentity{
		TenantID:     "t1",
		UserObjectID: "u1",
		RawToken:     "eyJ.user-assertion.sig",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestApplicationProvider_FreshHandleEachCall(t *testing.T) {
	p := NewApplicationProvider("t1", nil)
	var built atomic.Int32
	p.newCredential = func() (azcore.TokenCredential, error) {
		built.Add(1)
		return &fakeCredential{}, nil
	}

	a, err := p.CreateCredential(context.Background(), auth.ApplicationIdentity{})
	require.NoError(t, err)
	b, err := p.CreateCredential(context.Background(), auth.ApplicationIdentity{})
	require.NoError(t, err)

	assert.NotSame(t, a.TokenCredential, b.TokenCredential)
	assert.EqualValues(t, 2, built.Load())
	assert.True(t, a.ExpiresAt.IsZero())
	assert.Equal(t, auth.ModeApplication, p.Mode())
}

func TestApplicationProvider_Errors(t *testing.T) {
	p := NewApplicationProvider("t1", nil)

	_, err := p.CreateCredential(context.Background(), delegatedIdentity())
	assert.ErrorIs(t, err, auth.ErrModeMismatch)

	p.newCredential = func() (azcore.TokenCredential, error) { return nil, errors.New("no credential chain") }
	_, err = p.CreateCredential(context.Background(), auth.ApplicationIdentity{})
	assert.ErrorContains(t, err, "no credential chain")
}

func TestNewDelegatedProvider_SecretOrCertificate(t *testing.T) {
	certPath := writeTestCertificate(t)

	tests := []struct {
		name    string
		cfg     DelegatedConfig
		wantErr bool
	}{
		{name: "secret", cfg: DelegatedConfig{ClientID: "c", ClientSecret: "s"}},
		{name: "certificate", cfg: DelegatedConfig{ClientID: "c", CertificatePath: certPath}},
		{name: "both", cfg: DelegatedConfig{ClientID: "c", ClientSecret: "s", CertificatePath: certPath}, wantErr: true},
		{name: "neither", cfg: DelegatedConfig{ClientID: "c"}, wantErr: true},
		{name: "no client id", cfg: DelegatedConfig{ClientSecret: "s"}, wantErr: true},
		{name: "unreadable certificate", cfg: DelegatedConfig{ClientID: "c", CertificatePath: filepath.Join(t.TempDir(), "nope.pem")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewDelegatedProvider(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, auth.ErrConfigurationInvalid)
				assert.NotContains(t, err.Error(), "s3cr3t")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{ManagementScope}, p.scopes)
			assert.NotNil(t, p.newOBO)
		})
	}
}

func TestDelegatedProvider_CreateCredential(t *testing.T) {
	p, err := NewDelegatedProvider(DelegatedConfig{ClientID: "c", ClientSecret: "s3cr3t"}, nil)
	require.NoError(t, err)

	expiry := time.Now().Add(50 * time.Minute)
	fake := &fakeCredential{token: "downstream", expiry: expiry}
	var gotTenant, gotAssertion string
	p.newOBO = func(tenantID, assertion string) (azcore.TokenCredential, error) {
		gotTenant, gotAssertion = tenantID, assertion
		return fake, nil
	}

	id := delegatedIdentity()
	cred, err := p.CreateCredential(context.Background(), id)
	require.NoError(t, err)

	assert.Same(t, fake, cred.TokenCredential)
	assert.Equal(t, expiry, cred.ExpiresAt)
	assert.Equal(t, "t1", gotTenant)
	assert.Equal(t, id.RawToken, gotAssertion)
	assert.Equal(t, []string{ManagementScope}, fake.scopes)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestDelegatedProvider_ExchangeFailure(t *testing.T) {
	p, err := NewDelegatedProvider(DelegatedConfig{ClientID: "c", ClientSecret: "s3cr3t"}, nil)
	require.NoError(t, err)

	id := delegatedIdentity()
	p.newOBO = func(string, string) (azcore.TokenCredential, error) {
		return &fakeCredential{err: errors.New("AADSTS500133: assertion " + id.RawToken + " is expired; secret s3cr3t")}, nil
	}

	_, err = p.CreateCredential(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrTokenExchangeFailed)

	var xerr *auth.TokenExchangeError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "t1", xerr.TenantID)
	assert.Equal(t, "u1", xerr.UserObjectID)

	assert.Contains(t, err.Error(), "AADSTS500133")
	assert.NotContains(t, err.Error(), id.RawToken)
	assert.NotContains(t, err.Error(), "s3cr3t")
}

func TestDelegatedProvider_RejectsWrongIdentity(t *testing.T) {
	p, err := NewDelegatedProvider(DelegatedConfig{ClientID: "c", ClientSecret: "s"}, nil)
	require.NoError(t, err)

	_, err = p.CreateCredential(context.Background(), auth.ApplicationIdentity{})
	assert.ErrorIs(t, err, auth.ErrModeMismatch)

	id := delegatedIdentity()
	id.RawToken = ""
	_, err = p.CreateCredential(context.Background(), id)
	assert.ErrorIs(t, err, auth.ErrTokenExchangeFailed)
}

func TestTokenSource(t *testing.T) {
	fake := &fakeCredential{token: "abc", expiry: time.Now().Add(time.Hour)}
	ts := TokenSource(context.Background(), fake)

	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, "abc", tok.AccessToken)
		assert.Equal(t, "Bearer", tok.TokenType)
	}
	// Reused until expiry.
	assert.EqualValues(t, 1, fake.calls.Load())
	assert.Equal(t, []string{ManagementScope}, fake.scopes)

	failing := TokenSource(context.Background(), &fakeCredential{err: errors.New("denied")}, "https://example/.default")
	_, err := failing.Token()
	assert.ErrorContains(t, err, "denied")
}

func writeTestCertificate(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "azgraph-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})...)

	path := filepath.Join(t.TempDir(), "client.pem")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
