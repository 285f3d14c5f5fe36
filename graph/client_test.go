package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/azgraph/credential"
	"github.com/stephnangue/azgraph/helper"
)

type fakeCredential struct {
	calls  atomic.Int32
	scopes atomic.Value
	err    error
}

func (f *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls.Add(1)
	f.scopes.Store(opts.Scopes)
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: "arm-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func testHTTPConfig() helper.HTTPClientConfig {
	return helper.HTTPClientConfig{
		Timeout:      5 * time.Second,
		MinRetryWait: time.Millisecond,
		MaxRetryWait: 5 * time.Millisecond,
		MaxRetries:   2,
	}
}

func TestClient_Query(t *testing.T) {
	var got queryBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, resourcesPath, r.URL.Path)
		assert.Equal(t, APIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer arm-token", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"totalRecords": 2,
			"count": 2,
			"resultTruncated": "false",
			"$skipToken": "next-page",
			"data": [{"name": "vm-1"}, {"name": "vm-2"}]
		}`))
	}))
	defer srv.Close()

	cred := &fakeCredential{}
	c, err := NewClient(cred, Options{Endpoint: srv.URL}, testHTTPConfig(), nil)
	require.NoError(t, err)
	defer c.Dispose(context.Background())

	res, err := c.Query(context.Background(), QueryRequest{
		Query:         "resources | project name",
		Subscriptions: []string{"00000000-0000-0000-0000-000000000001"},
		Top:           10,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 2, res.TotalRecords)
	assert.EqualValues(t, 2, res.Count)
	assert.False(t, res.ResultTruncated)
	assert.Equal(t, "next-page", res.SkipToken)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "vm-1", res.Data[0]["name"])

	assert.Equal(t, "resources | project name", got.Query)
	assert.Equal(t, []string{"00000000-0000-0000-0000-000000000001"}, got.Subscriptions)
	assert.Equal(t, "objectArray", got.Options.ResultFormat)
	require.NotNil(t, got.Options.Top)
	assert.Equal(t, 10, *got.Options.Top)
	assert.Nil(t, got.Options.Skip)

	assert.Equal(t, []string{srv.URL + "/.default"}, cred.scopes.Load())
}

func TestClient_ReusesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalRecords":0,"count":0,"resultTruncated":"false","data":[]}`))
	}))
	defer srv.Close()

	cred := &fakeCredential{}
	c, err := NewClient(cred, Options{Endpoint: srv.URL}, testHTTPConfig(), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Query(context.Background(), QueryRequest{Query: "resources"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, cred.calls.Load())
}

func TestClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BadRequest","message":"Query is invalid"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeCredential{}, Options{Endpoint: srv.URL}, testHTTPConfig(), nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QueryRequest{Query: "resources | bogus"})
	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusBadRequest, rerr.StatusCode)
	assert.Equal(t, "BadRequest", rerr.Code)
	assert.Contains(t, rerr.Error(), "Query is invalid")
}

func TestClient_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"totalRecords":1,"count":1,"resultTruncated":"true","data":[{"name":"a"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeCredential{}, Options{Endpoint: srv.URL}, testHTTPConfig(), nil)
	require.NoError(t, err)

	res, err := c.Query(context.Background(), QueryRequest{Query: "resources"})
	require.NoError(t, err)
	assert.True(t, res.ResultTruncated)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_TokenFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(&fakeCredential{err: errors.New("token expired")}, Options{Endpoint: srv.URL}, testHTTPConfig(), nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QueryRequest{Query: "resources"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
	assert.Zero(t, calls.Load())
}

func TestClient_RejectsBadRequests(t *testing.T) {
	c, err := NewClient(&fakeCredential{}, Options{}, testHTTPConfig(), nil)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), QueryRequest{Query: "  "})
	assert.Error(t, err)
	_, err = c.Query(context.Background(), QueryRequest{Query: "resources", Top: 5000})
	assert.Error(t, err)

	_, err = NewClient(nil, Options{}, testHTTPConfig(), nil)
	assert.Error(t, err)
}

func TestOptionsNormalize(t *testing.T) {
	def := Options{}.normalize()
	assert.Equal(t, DefaultEndpoint, def.Endpoint)
	assert.Equal(t, credential.ManagementScope, def.Scope)
	assert.True(t, def.isDefault())

	gov := Options{Endpoint: "https://management.usgovcloudapi.net/"}.normalize()
	assert.Equal(t, "https://management.usgovcloudapi.net", gov.Endpoint)
	assert.Equal(t, "https://management.usgovcloudapi.net/.default", gov.Scope)
}

func TestFactory(t *testing.T) {
	f := NewFactory(testHTTPConfig(), nil)

	_, ok := f.Fingerprint(Options{})
	assert.False(t, ok)
	_, ok = f.Fingerprint(Options{Endpoint: DefaultEndpoint + "/", Scope: credential.ManagementScope})
	assert.False(t, ok)

	fp, ok := f.Fingerprint(Options{Endpoint: "https://management.chinacloudapi.cn"})
	assert.True(t, ok)
	assert.Equal(t, "https://management.chinacloudapi.cn|https://management.chinacloudapi.cn/.default", fp)

	other, ok := f.Fingerprint(Options{Scope: "api://custom/.default"})
	assert.True(t, ok)
	assert.NotEqual(t, fp, other)

	c, err := f.CreateClient(context.Background(), &fakeCredential{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.Options().Endpoint)
	assert.NoError(t, c.Dispose(context.Background()))
}
