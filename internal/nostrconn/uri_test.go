package nostrconn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPubkeyHex = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"

func TestBuildAndParseBunkerURIRoundTrip(t *testing.T) {
	b := BunkerURI{
		SignerPubkeyHex: testPubkeyHex,
		Relays:          []string{"wss://relay.example.com"},
		Secret:          "s3cr3t",
	}
	raw := BuildBunkerURI(b)

	parsed, err := ParseBunkerURI(raw)
	require.NoError(t, err)
	require.Equal(t, b.SignerPubkeyHex, parsed.SignerPubkeyHex)
	require.Equal(t, b.Relays, parsed.Relays)
	require.Equal(t, b.Secret, parsed.Secret)
}

func TestParseBunkerURIRejectsBadPrefix(t *testing.T) {
	_, err := ParseBunkerURI("nostrconnect://" + testPubkeyHex)
	require.Error(t, err)
}

func TestParseBunkerURIRejectsShortPubkey(t *testing.T) {
	_, err := ParseBunkerURI("bunker://abc?relay=wss://r.example.com")
	require.Error(t, err)
}

func TestParseBunkerURIRequiresRelay(t *testing.T) {
	_, err := ParseBunkerURI("bunker://" + testPubkeyHex)
	require.Error(t, err)
}

func TestParseNostrConnectURI(t *testing.T) {
	raw := "nostrconnect://" + testPubkeyHex + "?relay=wss://relay.example.com&secret=abc&metadata=%7B%22name%22%3A%22app%22%7D"
	parsed, err := ParseNostrConnectURI(raw)
	require.NoError(t, err)
	require.Equal(t, testPubkeyHex, parsed.ClientPubkeyHex)
	require.Equal(t, []string{"wss://relay.example.com"}, parsed.Relays)
	require.Equal(t, "abc", parsed.Secret)
}

func TestGenerateSecretIsNonEmptyAndVaries(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
