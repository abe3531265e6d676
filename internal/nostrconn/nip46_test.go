package nostrconn

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func randomPrivKey(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestNIP04EncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	enc, err := nip04Encrypt("hello bunker", key)
	require.NoError(t, err)
	require.Contains(t, enc, "?iv=")

	dec, err := nip04Decrypt(enc, key)
	require.NoError(t, err)
	require.Equal(t, "hello bunker", dec)
}

func TestNIP04DecryptRejectsMalformedPayload(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	_, err = nip04Decrypt("not-a-valid-payload", key)
	require.Error(t, err)
}

func TestSharedSecretIsSymmetric(t *testing.T) {
	privA := randomPrivKey(t)
	privB := randomPrivKey(t)

	pubAHex, err := PubkeyHexFromPrivate(privA)
	require.NoError(t, err)
	pubBHex, err := PubkeyHexFromPrivate(privB)
	require.NoError(t, err)

	pa := &Provider{privKey: privA, pubkey: pubAHex}
	pb := &Provider{privKey: privB, pubkey: pubBHex}

	secretFromA, err := pa.sharedSecret(pubBHex)
	require.NoError(t, err)
	secretFromB, err := pb.sharedSecret(pubAHex)
	require.NoError(t, err)

	require.Equal(t, secretFromA, secretFromB)
}

func TestComputeEventIDAndSignRoundTrip(t *testing.T) {
	priv := randomPrivKey(t)
	pubHex, err := PubkeyHexFromPrivate(priv)
	require.NoError(t, err)

	evt := &nostrEvent{
		PubKey:    pubHex,
		CreatedAt: 1700000000,
		Kind:      24133,
		Tags:      [][]string{{"p", "abc"}},
		Content:   "encrypted-payload",
	}
	evt.ID = computeEventID(evt)
	require.Len(t, evt.ID, 64)

	sigHex, err := signEventID(priv, evt.ID)
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(sigBytes)
	require.NoError(t, err)

	idBytes, err := hex.DecodeString(evt.ID)
	require.NoError(t, err)

	pubKeyBytes, err := hex.DecodeString(pubHex)
	require.NoError(t, err)
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	require.NoError(t, err)

	require.True(t, sig.Verify(idBytes, pubKey))
}

func TestDispatchGetPublicKeyRespondsOverRelay(t *testing.T) {
	providerConn, clientConn := newWebsocketPipe(t)
	defer providerConn.Close()
	defer clientConn.Close()

	priv := randomPrivKey(t)
	pubHex, err := PubkeyHexFromPrivate(priv)
	require.NoError(t, err)
	p := &Provider{privKey: priv, pubkey: pubHex}

	peerPriv := randomPrivKey(t)
	peerPubHex, err := PubkeyHexFromPrivate(peerPriv)
	require.NoError(t, err)
	peer := &Provider{privKey: peerPriv, pubkey: peerPubHex}

	p.dispatchRequest(providerConn, peerPubHex, rpcRequest{ID: "req-1", Method: "get_public_key"})

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Len(t, frame, 2)
	var label string
	require.NoError(t, json.Unmarshal(frame[0], &label))
	require.Equal(t, "EVENT", label)

	var evt nostrEvent
	require.NoError(t, json.Unmarshal(frame[1], &evt))
	require.Equal(t, pubHex, evt.PubKey)
	require.Equal(t, EventKindConnect, evt.Kind)

	shared, err := peer.sharedSecret(pubHex)
	require.NoError(t, err)
	plaintext, err := nip04Decrypt(evt.Content, shared)
	require.NoError(t, err)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal([]byte(plaintext), &resp))
	require.Equal(t, "req-1", resp.ID)
	require.Equal(t, pubHex, resp.Result)
	require.Empty(t, resp.Error)
}

// newWebsocketPipe spins up a real, local websocket connection pair for
// exercising respond()'s conn.WriteJSON path without a live relay.
func newWebsocketPipe(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		server = c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server != nil }, time.Second, time.Millisecond)
	return server, c
}
