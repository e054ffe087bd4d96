package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxd/internal/structures"
)

func TestLookupMissingTokenIsEmpty(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)

	token, err := Lookup(ring)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestStoreThenLookup(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)

	require.NoError(t, Store(ring, "s3cret"))

	token, err := Lookup(ring)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", token)
}

func TestTokenPrefersConfig(t *testing.T) {
	conf := &structures.Config{Remote: structures.RemoteConfig{Token: "from-config", KeyringService: "unused"}}

	token, err := Token(conf)
	require.NoError(t, err)
	assert.Equal(t, "from-config", token)
}

func TestTokenWithoutSources(t *testing.T) {
	token, err := Token(&structures.Config{})
	require.NoError(t, err)
	assert.Empty(t, token)
}
