package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type credentialPaths struct {
	TokenPath        string
	ClientSecretPath string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[credentialPaths]()
	c.Store("darkwood-reverie", credentialPaths{
		TokenPath:        "/tokens/darkwood-reverie/token.json",
		ClientSecretPath: "/tokens/client_secret.json",
	})
	v, ok := c.Get("darkwood-reverie")
	require.True(t, ok)
	require.Equal(t, "/tokens/darkwood-reverie/token.json", v.TokenPath)
}

func TestGetMissingKey(t *testing.T) {
	c := New[credentialPaths]()
	_, ok := c.Get("nope")
	require.False(t, ok)
}

func TestStoreAndRemove(t *testing.T) {
	c := New[credentialPaths]()
	c.Store("darkwood-reverie", credentialPaths{TokenPath: "/tokens/darkwood-reverie/token.json"})
	c.Remove("worker-1", "darkwood-reverie")
	_, ok := c.Get("darkwood-reverie")
	require.False(t, ok)
}
