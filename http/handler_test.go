// Copyright (c) 2024 Warden Project
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/credential"
	"github.com/stephnangue/azgraph/graph"
	"github.com/stephnangue/azgraph/helper"
	"github.com/stephnangue/azgraph/provider"
)

type staticCredential struct{ user string }

func (s staticCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "arm-" + s.user, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type fakeCredentials struct {
	mode  auth.Mode
	calls atomic.Int32
	fail  bool
}

func (f *fakeCredentials) Mode() auth.Mode { return f.mode }

func (f *fakeCredentials) CreateCredential(_ context.Context, identity auth.Identity) (*credential.Credential, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, &auth.TokenExchangeError{TenantID: "t1", Err: errors.New("AADSTS500133")}
	}
	user := "app"
	if d, ok := identity.(*auth.DelegatedIdentity); ok {
		user = d.UserObjectID
	}
	return &credential.Credential{TokenCredential: staticCredential{user: user}}, nil
}

type fakeValidator struct{}

func (fakeValidator) Validate(_ context.Context, raw string) (*auth.ParsedIdentity, error) {
	if !strings.HasPrefix(raw, "user-token-") {
		return nil, auth.NewValidationError("invalid token", nil)
	}
	return &auth.ParsedIdentity{
		TenantID:     "t1",
		UserObjectID: strings.TrimPrefix(raw, "user-token-"),
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

// armServer fakes Resource Graph and records the bearer tokens it sees.
func armServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body["query"].(string), "bogus") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidQuery","message":"bad query"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalRecords":1,"count":1,"resultTruncated":"false","data":[{"name":"sub-1"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastAuth
}

type testEnv struct {
	server   *httptest.Server
	arm      *httptest.Server
	lastAuth *atomic.Value
	creds    *fakeCredentials
	provider *provider.ClientProvider[*graph.Client, graph.Options]
}

func newTestEnv(t *testing.T, mode auth.Mode, sys bool) *testEnv {
	t.Helper()
	arm, lastAuth := armServer(t)

	creds := &fakeCredentials{mode: mode}
	parts := provider.Components[*graph.Client, graph.Options]{
		Credentials: creds,
		Factory: graph.NewFactory(helper.HTTPClientConfig{
			Timeout:      5 * time.Second,
			MinRetryWait: time.Millisecond,
			MaxRetryWait: time.Millisecond,
		}, nil),
	}
	if mode == auth.ModeDelegated {
		parts.Strategy = auth.NewDelegatedStrategy(fakeValidator{}, nil)
	} else {
		parts.Strategy = auth.ApplicationStrategy{}
	}
	p, err := provider.Assemble(parts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	srv := httptest.NewServer(Handler(&HandlerProperties{
		Provider:     p,
		GraphOptions: graph.Options{Endpoint: arm.URL},
		SysEndpoints: sys,
		Metrics:      metrics.NewInmemSink(10*time.Second, time.Minute),
	}))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, arm: arm, lastAuth: lastAuth, creds: creds, provider: p}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t, auth.ModeApplication, false)
	resp, body := env.do(t, http.MethodGet, "/v1/sys/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application", body["auth_mode"])
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestHandler_ListTools(t *testing.T) {
	env := newTestEnv(t, auth.ModeApplication, false)
	resp, body := env.do(t, http.MethodGet, "/v1/tools", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tools := body["tools"].([]interface{})
	assert.Len(t, tools, 4)
	first := tools[0].(map[string]interface{})
	assert.Equal(t, graph.ToolListAKSClusters, first["name"])
}

func TestHandler_CallTool_Application(t *testing.T) {
	env := newTestEnv(t, auth.ModeApplication, false)

	for i := 0; i < 3; i++ {
		resp, body := env.do(t, http.MethodPost, "/v1/tools/"+graph.ToolListSubscriptions, "", `{"arguments":{}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := body["result"].(map[string]interface{})
		assert.EqualValues(t, 1, result["count"])
	}
	assert.Equal(t, "Bearer arm-app", env.lastAuth.Load())
	assert.EqualValues(t, 1, env.creds.calls.Load())
}

func TestHandler_CallTool_Delegated(t *testing.T) {
	env := newTestEnv(t, auth.ModeDelegated, false)

	resp, _ := env.do(t, http.MethodPost, "/v1/tools/"+graph.ToolQueryResources, "user-token-alice",
		`{"arguments":{"query":"resources | take 1"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer arm-alice", env.lastAuth.Load())

	// Token supplied as an argument instead of a header.
	resp, _ = env.do(t, http.MethodPost, "/v1/tools/"+graph.ToolQueryResources, "",
		`{"arguments":{"query":"resources | take 1","access_token":"user-token-bob"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer arm-bob", env.lastAuth.Load())

	assert.EqualValues(t, 2, env.creds.calls.Load())
	assert.Equal(t, 2, env.provider.Stats().Clients.Size)
}

func TestHandler_CallTool_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mode   auth.Mode
		fail   bool
		tool   string
		token  string
		body   string
		status int
	}{
		{name: "unknown tool", mode: auth.ModeApplication, tool: "drop-everything", body: `{}`, status: http.StatusNotFound},
		{name: "missing token", mode: auth.ModeDelegated, tool: graph.ToolListSubscriptions, body: `{}`, status: http.StatusUnauthorized},
		{name: "invalid token", mode: auth.ModeDelegated, tool: graph.ToolListSubscriptions, token: "forged", body: `{}`, status: http.StatusUnauthorized},
		{name: "exchange failure", mode: auth.ModeDelegated, fail: true, tool: graph.ToolListSubscriptions, token: "user-token-alice", body: `{}`, status: http.StatusBadGateway},
		{name: "bad arguments", mode: auth.ModeApplication, tool: graph.ToolQueryResources, body: `{"arguments":{"top":3}}`, status: http.StatusBadRequest},
		{name: "malformed body", mode: auth.ModeApplication, tool: graph.ToolQueryResources, body: `{"arguments":`, status: http.StatusBadRequest},
		{name: "downstream rejects query", mode: auth.ModeApplication, tool: graph.ToolQueryResources, body: `{"arguments":{"query":"bogus"}}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.mode, false)
			env.creds.fail = tt.fail

			resp, body := env.do(t, http.MethodPost, "/v1/tools/"+tt.tool, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			require.NotEmpty(t, body["errors"])
			for _, e := range body["errors"].([]interface{}) {
				assert.NotContains(t, e.(string), "user-token-alice")
			}
		})
	}
}

func TestHandler_InvalidateClient(t *testing.T) {
	env := newTestEnv(t, auth.ModeDelegated, false)

	resp, _ := env.do(t, http.MethodPost, "/v1/tools/"+graph.ToolListSubscriptions, "user-token-alice", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodDelete, "/v1/cache/client", "user-token-alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["invalidated"])

	_, body = env.do(t, http.MethodDelete, "/v1/cache/client", "user-token-alice", "")
	assert.Equal(t, false, body["invalidated"])

	resp, _ = env.do(t, http.MethodDelete, "/v1/cache/client", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_SysEndpoints(t *testing.T) {
	disabled := newTestEnv(t, auth.ModeApplication, false)
	resp, _ := disabled.do(t, http.MethodGet, "/v1/sys/cache", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env := newTestEnv(t, auth.ModeApplication, true)
	resp, _ = env.do(t, http.MethodPost, "/v1/tools/"+graph.ToolListSubscriptions, "", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/v1/sys/cache", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application", body["mode"])
	clients := body["clients"].(map[string]interface{})
	assert.EqualValues(t, 1, clients["size"])

	resp, body = env.do(t, http.MethodPost, "/v1/sys/cache/clear", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cleared"])
	assert.Zero(t, env.provider.Stats().Clients.Size)
	assert.Zero(t, env.provider.Stats().Credentials.Size)

	resp, _ = env.do(t, http.MethodGet, "/v1/sys/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, auth.ModeApplication, false)
	resp, body := env.do(t, http.MethodGet, "/api/secret", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["errors"])

	resp, _ = env.do(t, http.MethodPut, "/v1/sys/health", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(&auth.AuthenticationError{Err: auth.ErrMissingToken}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&auth.TokenExchangeError{Err: errors.New("x")}))
	assert.Equal(t, http.StatusNotFound, statusFor(graph.ErrUnknownTool))
	assert.Equal(t, http.StatusBadRequest, statusFor(graph.ErrInvalidArguments))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(&graph.ResponseError{StatusCode: 429}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&graph.ResponseError{StatusCode: 403}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
