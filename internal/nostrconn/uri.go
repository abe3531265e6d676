package nostrconn

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// BunkerURI is the parsed form of a bunker://<pubkey>?relay=...&secret=...
// URI, the shape we advertise to clients pairing against us.
type BunkerURI struct {
	SignerPubkeyHex string
	Relays          []string
	Secret          string
}

// BuildBunkerURI renders a BunkerURI back to its wire form.
func BuildBunkerURI(b BunkerURI) string {
	v := url.Values{}
	for _, r := range b.Relays {
		v.Add("relay", r)
	}
	if b.Secret != "" {
		v.Set("secret", b.Secret)
	}
	return fmt.Sprintf("bunker://%s?%s", b.SignerPubkeyHex, v.Encode())
}

// ParseBunkerURI parses a bunker:// URI, the form described in §3/§4.8:
// pubkey in the host position, one or more relay query params, and an
// optional secret. Grounded on the reference NIP-46 client's
// ParseBunkerURL, adapted to the daemon side (the pubkey here is ours).
func ParseBunkerURI(raw string) (BunkerURI, error) {
	if !strings.HasPrefix(raw, "bunker://") {
		return BunkerURI{}, fmt.Errorf("bunker uri must start with bunker://")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return BunkerURI{}, fmt.Errorf("parse bunker uri: %w", err)
	}

	pubkeyHex := u.Host
	if len(pubkeyHex) != 64 {
		return BunkerURI{}, fmt.Errorf("bunker uri pubkey must be 64 hex chars, got %d", len(pubkeyHex))
	}
	if _, err := hex.DecodeString(pubkeyHex); err != nil {
		return BunkerURI{}, fmt.Errorf("bunker uri pubkey is not valid hex: %w", err)
	}

	relays := u.Query()["relay"]
	if len(relays) == 0 {
		return BunkerURI{}, fmt.Errorf("bunker uri must specify at least one relay")
	}
	normalized, err := NormalizeRelays(relays)
	if err != nil {
		return BunkerURI{}, err
	}

	return BunkerURI{
		SignerPubkeyHex: pubkeyHex,
		Relays:          normalized,
		Secret:          u.Query().Get("secret"),
	}, nil
}

// NostrConnectURI is the parsed form of a nostrconnect://<client-pubkey>
// URI the client presents to us to dial.
type NostrConnectURI struct {
	ClientPubkeyHex string
	Relays          []string
	Secret          string
	Metadata        string
}

// ParseNostrConnectURI parses a nostrconnect:// URI supplied by the client.
func ParseNostrConnectURI(raw string) (NostrConnectURI, error) {
	if !strings.HasPrefix(raw, "nostrconnect://") {
		return NostrConnectURI{}, fmt.Errorf("nostrconnect uri must start with nostrconnect://")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return NostrConnectURI{}, fmt.Errorf("parse nostrconnect uri: %w", err)
	}

	pubkeyHex := u.Host
	if len(pubkeyHex) != 64 {
		return NostrConnectURI{}, fmt.Errorf("nostrconnect uri pubkey must be 64 hex chars, got %d", len(pubkeyHex))
	}
	if _, err := hex.DecodeString(pubkeyHex); err != nil {
		return NostrConnectURI{}, fmt.Errorf("nostrconnect uri pubkey is not valid hex: %w", err)
	}

	relays := u.Query()["relay"]
	normalized, err := NormalizeRelays(relays)
	if err != nil {
		return NostrConnectURI{}, err
	}

	return NostrConnectURI{
		ClientPubkeyHex: pubkeyHex,
		Relays:          normalized,
		Secret:          u.Query().Get("secret"),
		Metadata:        u.Query().Get("metadata"),
	}, nil
}

// GenerateSecret produces a random hex pairing secret for bunker sessions
// that don't supply one explicitly.
func GenerateSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PubkeyHexFromPrivate derives the x-only hex public key for a 32-byte
// secp256k1 private key, the form Nostr keys take on the wire.
func PubkeyHexFromPrivate(priv []byte) (string, error) {
	privKey, pubKey := btcec.PrivKeyFromBytes(priv)
	_ = privKey
	serialized := pubKey.SerializeCompressed()
	// Nostr uses the x-only (32-byte) coordinate, dropping the leading
	// 0x02/0x03 parity byte of the compressed SEC1 encoding.
	return hex.EncodeToString(serialized[1:]), nil
}
