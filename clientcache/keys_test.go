package clientcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/azgraph/auth"
)

func TestKeyComponentsFor(t *testing.T) {
	fn, err := KeyComponentsFor(auth.ModeApplication)
	require.NoError(t, err)
	comps, err := fn(auth.ApplicationIdentity{})
	require.NoError(t, err)
	assert.Empty(t, comps)

	fn, err = KeyComponentsFor(auth.ModeDelegated)
	require.NoError(t, err)
	comps, err = fn(user("tenant-1", "oid-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1", "oid-1"}, comps)

	_, err = KeyComponentsFor("bogus")
	assert.ErrorIs(t, err, auth.ErrUnknownAuthMode)
}

func TestDelegatedKeyComponents_Rejects(t *testing.T) {
	_, err := DelegatedKeyComponents(auth.ApplicationIdentity{})
	assert.ErrorIs(t, err, auth.ErrModeMismatch)

	_, err = DelegatedKeyComponents(&auth.DelegatedIdentity{TenantID: "t1"})
	assert.Error(t, err)

	_, err = ApplicationKeyComponents(user("t1", "o1"))
	assert.ErrorIs(t, err, auth.ErrModeMismatch)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "azgraph::application", credentialKey("azgraph", auth.ModeApplication, nil))
	assert.Equal(t, "azgraph::delegated::t1::o1", credentialKey("azgraph", auth.ModeDelegated, []string{"t1", "o1"}))

	base := clientKey("azgraph::delegated::t1::o1", "")
	withFP := clientKey("azgraph::delegated::t1::o1", "https://example|scope")
	assert.NotEqual(t, base, withFP)
	assert.Equal(t, base, clientKey("azgraph::delegated::t1::o1", ""))
	assert.Len(t, base, 43)
}

func TestCacheKeys_ComponentsCannotCollide(t *testing.T) {
	a := credentialKey("azgraph", auth.ModeDelegated, []string{"t1::u", "x"})
	b := credentialKey("azgraph", auth.ModeDelegated, []string{"t1", "u::x"})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, clientKey(a, ""), clientKey(b, ""))

	assert.Equal(t, "azgraph::delegated::72f988bf-86f1-41af-91ab-2d7cd011db47::0a1b2c3d",
		credentialKey("azgraph", auth.ModeDelegated, []string{"72f988bf-86f1-41af-91ab-2d7cd011db47", "0a1b2c3d"}))
}
