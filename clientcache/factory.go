package clientcache

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ClientFactory builds a downstream client from a credential. Construction
// should be cheap relative to credential acquisition; the client tier does
// not coalesce anything beyond one build per key.
type ClientFactory[C any, O any] interface {
	CreateClient(ctx context.Context, cred azcore.TokenCredential, opts O) (C, error)
}

// Fingerprinter is implemented by factories whose options change the client
// they build. Option sets with different fingerprints never share a cached
// client. ok is false when opts are equivalent to the defaults.
type Fingerprinter[O any] interface {
	Fingerprint(opts O) (fingerprint string, ok bool)
}

// Disposable is implemented by clients holding resources that must be
// released when the client leaves the cache.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// FactoryFunc adapts a function to ClientFactory.
type FactoryFunc[C any, O any] func(ctx context.Context, cred azcore.TokenCredential, opts O) (C, error)

func (f FactoryFunc[C, O]) CreateClient(ctx context.Context, cred azcore.TokenCredential, opts O) (C, error) {
	return f(ctx, cred, opts)
}
