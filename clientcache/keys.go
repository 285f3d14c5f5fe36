package clientcache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/helper"
)

const (
	keySeparator = "::"
	// logKeyLength bounds how much of a cache key appears in logs.
	logKeyLength = 50
)

// KeyComponentsFunc returns the identity-specific parts of a cache key.
type KeyComponentsFunc func(identity auth.Identity) ([]string, error)

// ApplicationKeyComponents contributes nothing: every application call shares
// one slot family.
func ApplicationKeyComponents(identity auth.Identity) ([]string, error) {
	if identity == nil || identity.Mode() != auth.ModeApplication {
		return nil, fmt.Errorf("%w: expected application identity", auth.ErrModeMismatch)
	}
	return nil, nil
}

// DelegatedKeyComponents partitions entries by tenant and user.
func DelegatedKeyComponents(identity auth.Identity) ([]string, error) {
	d, ok := identity.(*auth.DelegatedIdentity)
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: expected delegated identity", auth.ErrModeMismatch)
	}
	if d.TenantID == "" || d.UserObjectID == "" {
		return nil, fmt.Errorf("delegated identity requires tenant and user object id")
	}
	return []string{d.TenantID, d.UserObjectID}, nil
}

// KeyComponentsFor returns the key derivation of mode.
func KeyComponentsFor(mode auth.Mode) (KeyComponentsFunc, error) {
	switch mode {
	case auth.ModeApplication:
		return ApplicationKeyComponents, nil
	case auth.ModeDelegated:
		return DelegatedKeyComponents, nil
	default:
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownAuthMode, mode)
	}
}

// credentialKey is prefix::mode[::component...]. Components are escaped so
// none of them can contain the separator.
func credentialKey(prefix string, mode auth.Mode, components []string) string {
	parts := make([]string, 0, len(components)+2)
	parts = append(parts, prefix, string(mode))
	for _, c := range components {
		parts = append(parts, url.QueryEscape(c))
	}
	return strings.Join(parts, keySeparator)
}

// clientKey extends the credential key with the factory fingerprint and
// hashes the result so identities never appear in the client tier.
func clientKey(credKey, fingerprint string) string {
	raw := credKey
	if fingerprint != "" {
		raw += keySeparator + url.QueryEscape(fingerprint)
	}
	return helper.GetHash(raw)
}
