package jwt

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/go-jose/go-jose/v4"
	capjwt "github.com/hashicorp/cap/jwt"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stephnangue/azgraph/logger"
)

// maxJWKSBytes bounds the size of a key set document.
const maxJWKSBytes = 1 << 20

// KeySet is a capjwt.KeySet backed by a remote JWKS document. Fetched keys are
// cached for maxAge. A verification failure against cached keys triggers a
// refresh (key rotation), limited to requestsPerMinute refreshes.
type KeySet struct {
	url     string
	client  *retryablehttp.Client
	cache   *ristretto.Cache[string, capjwt.KeySet]
	maxAge  time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	fetches atomic.Int64
	log     logger.Logger
}

var _ capjwt.KeySet = (*KeySet)(nil)

// NewKeySet creates a key set for the JWKS at url. Nothing is fetched until
// the first verification.
func NewKeySet(url string, client *retryablehttp.Client, maxAge time.Duration, requestsPerMinute int, log logger.Logger) (*KeySet, error) {
	if url == "" {
		return nil, errors.New("jwks url is required")
	}
	if maxAge <= 0 {
		return nil, errors.New("jwks cache max age must be positive")
	}
	if requestsPerMinute <= 0 {
		return nil, errors.New("jwks requests per minute must be positive")
	}
	if log == nil {
		log = logger.Nop()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, capjwt.KeySet]{
		NumCounters:        100,
		MaxCost:            10,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key set cache: %w", err)
	}

	return &KeySet{
		url:     url,
		client:  client,
		cache:   cache,
		maxAge:  maxAge,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		log:     log,
	}, nil
}

// VerifySignature implements capjwt.KeySet.
func (k *KeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	keys, err := k.current(ctx)
	if err != nil {
		return nil, err
	}

	claims, verr := keys.VerifySignature(ctx, token)
	if verr == nil {
		return claims, nil
	}

	// The signing key may have rotated since the cached copy was fetched.
	if !k.limiter.Allow() {
		k.log.Debug("jwks refresh rate limited", logger.String("url", k.url))
		return nil, verr
	}
	k.log.Debug("signature did not verify against cached keys, refreshing", logger.String("url", k.url))

	keys, err = k.refresh(ctx)
	if err != nil {
		k.log.Warn("jwks refresh failed", logger.String("url", k.url), logger.Err(err))
		return nil, verr
	}
	return keys.VerifySignature(ctx, token)
}

// Fetches returns how many times the JWKS document was downloaded.
func (k *KeySet) Fetches() int64 {
	return k.fetches.Load()
}

// Close releases the key cache.
func (k *KeySet) Close() {
	k.cache.Close()
}

func (k *KeySet) current(ctx context.Context) (capjwt.KeySet, error) {
	if keys, ok := k.cache.Get(k.url); ok {
		return keys, nil
	}
	return k.refresh(ctx)
}

// refresh downloads the key set; concurrent refreshes share one request.
func (k *KeySet) refresh(ctx context.Context) (capjwt.KeySet, error) {
	ch := k.group.DoChan(k.url, func() (interface{}, error) {
		keys, err := k.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		k.cache.SetWithTTL(k.url, keys, 1, k.maxAge)
		k.cache.Wait()
		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(capjwt.KeySet), nil
	}
}

func (k *KeySet) fetch(ctx context.Context) (capjwt.KeySet, error) {
	k.fetches.Add(1)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read jwks: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}

	var keys []crypto.PublicKey
	for _, key := range set.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if !key.IsPublic() {
			continue
		}
		keys = append(keys, key.Key)
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no signing keys")
	}

	k.log.Debug("fetched jwks", logger.String("url", k.url), logger.Int("keys", len(keys)))
	return capjwt.NewStaticKeySet(keys)
}
