package nostrconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRelayTrimsTrailingSlash(t *testing.T) {
	got, err := NormalizeRelay("wss://relay.example.com/")
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com", got)
}

func TestNormalizeRelayRejectsBadScheme(t *testing.T) {
	_, err := NormalizeRelay("https://relay.example.com")
	require.Error(t, err)
}

func TestNormalizeRelayIsIdempotent(t *testing.T) {
	once, err := NormalizeRelay("wss://relay.example.com/path/")
	require.NoError(t, err)
	twice, err := NormalizeRelay(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestNormalizeRelaysDedupesPreservingOrder(t *testing.T) {
	out, err := NormalizeRelays([]string{
		"wss://a.example.com/",
		"wss://b.example.com",
		"wss://a.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://a.example.com", "wss://b.example.com"}, out)
}

func TestNormalizeRelayRejectsEmpty(t *testing.T) {
	_, err := NormalizeRelay("")
	require.Error(t, err)
}
