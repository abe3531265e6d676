// Package nostrconn is the Provider Adapter: the on-wire NIP-46 side of
// the daemon. It owns URI parsing/building (uri.go), relay normalization
// (relay.go), the kind-24133 envelope codec and JSON-RPC dispatch
// (nip46.go), and the callback-to-channel adapter below that surfaces
// normalized activity to the Session Manager.
//
// Grounded on the reference NIP-46 client (other_examples' nip46.go) for
// shape: per-session websocket relay connections via
// github.com/gorilla/websocket, event kind 24133 envelopes, and
// secp256k1/schnorr keys via github.com/btcsuite/btcd/btcec/v2 — adapted
// from that file's client-dialing-a-bunker direction to this package's
// being-the-bunker direction.
package nostrconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKindConnect is the NIP-46 envelope kind every request/response
// frame is wrapped in.
const EventKindConnect = 24133

// ActivityKind enumerates the callback variants the adapter normalizes
// the underlying library's events into.
type ActivityKind string

const (
	ActivityConnectRequest     ActivityKind = "connect-request"
	ActivitySignRequest        ActivityKind = "sign-request"
	ActivitySignDecision       ActivityKind = "sign-decision"
	ActivityClientConnected    ActivityKind = "client-connected"
	ActivityClientDisconnected ActivityKind = "client-disconnected"
	ActivityNIP04              ActivityKind = "nip04"
	ActivityNIP44              ActivityKind = "nip44"
)

// ProviderActivity is one normalized callback event, tagged with the peer
// public key that produced it.
type ProviderActivity struct {
	Kind      ActivityKind
	Peer      string
	EventKind int
	Content   string
	Approved  bool
	ReplyFunc func(approved bool) // set only for ActivitySignRequest
}

// Mode distinguishes the two pairing directions.
type Mode int

const (
	ModeBunker Mode = iota
	ModeNostrConnect
)

// Provider is a running pairing provider for one session: either we
// advertise (bunker) or we dial (nostr-connect).
type Provider struct {
	mu        sync.Mutex
	mode      Mode
	relays    []string
	privKey   []byte
	pubkey    string
	secret    string
	events    chan ProviderActivity
	conns     []*websocket.Conn
	dialer    *websocket.Dialer
	stopped   bool
	bunkerURI string
}

// NewProvider constructs a Provider bound to relays, a signer keypair, and
// an optional pairing secret (bunker mode only).
func NewProvider(mode Mode, relays []string, privKey []byte, pubkeyHex, secret string) *Provider {
	return &Provider{
		mode:    mode,
		relays:  relays,
		privKey: privKey,
		pubkey:  pubkeyHex,
		secret:  secret,
		events:  make(chan ProviderActivity, 32),
		dialer:  websocket.DefaultDialer,
	}
}

// Events returns the channel of normalized provider activity. The Session
// Manager ranges over this channel for the lifetime of the provider.
func (p *Provider) Events() <-chan ProviderActivity {
	return p.events
}

// Start binds to relays (bunker) or dials the supplied client URI
// (nostr-connect) and begins listening. For bunker mode it derives and
// stores the advertised URI; for nostr-connect, uri must be the client's
// nostrconnect:// URI and is used to discover which relays to dial.
func (p *Provider) Start(ctx context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	relays := p.relays
	if p.mode == ModeNostrConnect {
		parsed, err := ParseNostrConnectURI(uri)
		if err != nil {
			return fmt.Errorf("start nostr-connect provider: %w", err)
		}
		if len(parsed.Relays) > 0 {
			relays = parsed.Relays
		}
		if parsed.Secret != "" {
			p.secret = parsed.Secret
		}
	} else {
		p.bunkerURI = BuildBunkerURI(BunkerURI{
			SignerPubkeyHex: p.pubkey,
			Relays:          relays,
			Secret:          p.secret,
		})
	}

	for _, relay := range relays {
		conn, _, err := p.dialer.DialContext(ctx, relay, nil)
		if err != nil {
			// Best effort across the relay set: one unreachable relay
			// must not abort pairing on the others.
			continue
		}
		if err := p.subscribe(conn); err != nil {
			conn.Close()
			continue
		}
		p.conns = append(p.conns, conn)
		go p.readLoop(conn, relay)
		go p.pingLoop(conn)
	}

	if len(p.conns) == 0 {
		return fmt.Errorf("could not connect to any configured relay")
	}
	return nil
}

// readLoop pumps frames from one relay connection, decoding kind-24133
// NIP-46 envelopes addressed to us and dispatching their JSON-RPC bodies,
// until the connection closes or Stop is called.
func (p *Provider) readLoop(conn *websocket.Conn, relay string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			stopped := p.stopped
			p.mu.Unlock()
			if !stopped {
				p.emit(ProviderActivity{Kind: ActivityClientDisconnected})
			}
			return
		}
		p.handleRelayMessage(conn, data)
	}
}

// pingLoop keeps relay connections from being reaped by idle-timing
// intermediaries until Stop closes conn out from under it.
func (p *Provider) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

func (p *Provider) emit(a ProviderActivity) {
	select {
	case p.events <- a:
	default:
		// Slow consumer: drop rather than block the relay read loop.
	}
}

// GetBunkerURI returns the currently advertised bunker URI. Only
// meaningful in bunker mode.
func (p *Provider) GetBunkerURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bunkerURI
}

// WaitForClient blocks until the first client completes pairing or ctx is
// done, returning the peer's public key.
func (p *Provider) WaitForClient(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case a := <-p.events:
			if a.Kind == ActivityClientConnected {
				return a.Peer, nil
			}
			p.emit(a) // not ours to consume, requeue for the normal pipeline
		}
	}
}

// ResumeClient rebinds a previously paired client without a fresh
// handshake, used on boot when a session already has a last_client and
// secret recorded.
func (p *Provider) ResumeClient(ctx context.Context, client, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return fmt.Errorf("resume client: provider has no active relay connections")
	}
	p.secret = secret
	return nil
}

// Stop closes every relay connection.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	var firstErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conns = nil
	return firstErr
}

// pingInterval matches the reference client's keepalive cadence.
const pingInterval = 30 * time.Second
