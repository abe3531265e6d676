// Package session implements the Session Manager: the coordinator that
// creates, resumes, mutates, and destroys runtime pairing sessions, binds
// each to a provider, a policy reference, and a key, and routes provider
// callbacks through policy evaluation and the approval flow.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"intercessio/internal/activity"
	"intercessio/internal/approval"
	"intercessio/internal/errs"
	"intercessio/internal/logging"
	"intercessio/internal/metadata"
	"intercessio/internal/nostrconn"
	"intercessio/internal/policy"
	"intercessio/internal/store"
	"intercessio/internal/vault"
)

// policyRef is a mutable handle so update_template takes effect on the
// next request without tearing down the provider.
type policyRef struct {
	mu      sync.Mutex
	current policy.Policy
}

func (p *policyRef) get() policy.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *policyRef) set(pol policy.Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = pol
}

// RuntimeSession is the in-memory half of a running pairing session.
type RuntimeSession struct {
	record   store.SessionRecord
	provider *nostrconn.Provider
	policy   *policyRef
	cancel   context.CancelFunc
}

// Manager is the Session Manager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*RuntimeSession

	store         *store.Store
	vaults        map[metadata.StorageKind]vault.Vault
	metaStore     *metadata.Store
	registry      *policy.Registry
	log           *activity.Log
	approvals     *approval.Manager
	logger        *logging.Logger
	approvalTTLNs atomic.Int64
}

// NewManager wires the coordinator's dependencies. v backs the
// encrypted-file storage kind; a stub native-keyring backend is always
// registered alongside it so a KeyMetadata row naming
// metadata.StorageNativeKeyring fails with a clear "not implemented"
// error instead of silently falling back to the file vault.
func NewManager(
	st *store.Store,
	v vault.Vault,
	metaStore *metadata.Store,
	registry *policy.Registry,
	log *activity.Log,
	approvals *approval.Manager,
	logger *logging.Logger,
	approvalTTL time.Duration,
) *Manager {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	m := &Manager{
		sessions: map[string]*RuntimeSession{},
		store:    st,
		vaults: map[metadata.StorageKind]vault.Vault{
			metadata.StorageEncryptedFile: v,
			metadata.StorageNativeKeyring: &vault.NativeKeyringVault{},
		},
		metaStore: metaStore,
		registry:  registry,
		log:       log,
		approvals: approvals,
		logger:    logger.WithComponent("session"),
	}
	m.approvalTTLNs.Store(int64(approvalTTL))
	return m
}

// resolveKeySecret loads a key's private material through the vault
// backend its KeyMetadata names, defaulting to the encrypted-file
// backend under its own id when no metadata row exists yet (e.g. a key
// whose metadata hasn't been synced).
func (m *Manager) resolveKeySecret(ctx context.Context, keyID string) ([]byte, error) {
	account := keyID
	kind := metadata.StorageEncryptedFile

	if m.metaStore != nil {
		km, ok, err := m.metaStore.GetKey(keyID)
		if err != nil {
			return nil, errs.Wrap(errs.ErrStoreFailure, "look up key metadata", err)
		}
		if ok {
			if km.VaultAccount != "" {
				account = km.VaultAccount
			}
			if km.StorageKind != "" {
				kind = km.StorageKind
			}
		}
	}

	v, ok := m.vaults[kind]
	if !ok || v == nil {
		return nil, fmt.Errorf("key %q: no vault backend registered for storage kind %q", keyID, kind)
	}
	return v.Get(ctx, account)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// UpdateApprovalTTL changes the default TTL used for REFER decisions
// created from this point forward, letting a config hot-reload adjust it
// without a daemon restart. In-flight approvals keep their original
// expiry.
func (m *Manager) UpdateApprovalTTL(ttl time.Duration) {
	m.approvalTTLNs.Store(int64(ttl))
}

func (m *Manager) approvalTTL() time.Duration {
	return time.Duration(m.approvalTTLNs.Load())
}

func (m *Manager) resolvePolicy(templateID string) policy.Policy {
	if templateID == "" {
		pol, _ := m.registry.Lookup(m.registry.DefaultID())
		return pol
	}
	pol, _ := m.registry.Lookup(templateID)
	return pol
}

// StartBunkerParams bundles arguments to StartBunker.
type StartBunkerParams struct {
	KeyID       string
	Alias       string
	Relays      []string
	Secret      string // optional, generated if empty
	AutoApprove bool
	Template    string // optional, registry default if empty or unknown
}

// StartBunker creates and starts a new bunker pairing session, returning
// its id and the advertised bunker URI.
func (m *Manager) StartBunker(ctx context.Context, p StartBunkerParams) (sessionID, bunkerURI string, err error) {
	relays, err := nostrconn.NormalizeRelays(p.Relays)
	if err != nil {
		return "", "", err
	}

	secret := p.Secret
	if secret == "" {
		secret, err = nostrconn.GenerateSecret()
		if err != nil {
			return "", "", err
		}
	}

	keySecret, err := m.resolveKeySecret(ctx, p.KeyID)
	if err != nil {
		return "", "", errs.Wrap(errs.ErrSecretVaultFailure, "load signing key", err)
	}
	pubkeyHex, err := nostrconn.PubkeyHexFromPrivate(keySecret)
	if err != nil {
		return "", "", fmt.Errorf("derive pubkey: %w", err)
	}

	id := uuid.NewString()
	now := nowMillis()
	pol := m.resolvePolicy(p.Template)

	rec := store.SessionRecord{
		ID:          id,
		Type:        store.SessionBunker,
		KeyID:       p.KeyID,
		Alias:       p.Alias,
		Relays:      relays,
		Secret:      secret,
		AutoApprove: p.AutoApprove,
		Status:      store.StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Template:    pol.ID,
	}
	if err := m.store.UpsertSession(rec); err != nil {
		return "", "", err
	}

	provider := nostrconn.NewProvider(nostrconn.ModeBunker, relays, keySecret, pubkeyHex, secret)
	if err := provider.Start(ctx, ""); err != nil {
		return "", "", errs.Wrap(errs.ErrProviderFailure, "start bunker provider", err)
	}

	rec.URI = provider.GetBunkerURI()
	rec.UpdatedAt = nowMillis()
	if err := m.store.UpsertSession(rec); err != nil {
		return "", "", err
	}

	rt := m.register(rec, provider, pol)
	m.runPipeline(rt)

	if rec.LastClient != "" && rec.Secret != "" {
		_ = provider.ResumeClient(ctx, rec.LastClient, rec.Secret)
	}

	m.log.Record(activity.Entry{
		Type: activity.SessionStart, SessionID: id, SessionLabel: p.Alias,
		Summary: fmt.Sprintf("started bunker session %q", p.Alias),
	})

	return id, rec.URI, nil
}

// StartNostrConnectParams bundles arguments to StartNostrConnect.
type StartNostrConnectParams struct {
	KeyID       string
	Alias       string
	Relays      []string
	URI         string
	AutoApprove bool
	Template    string
}

// StartNostrConnect creates and starts a new nostr-connect pairing
// session, returning its id.
func (m *Manager) StartNostrConnect(ctx context.Context, p StartNostrConnectParams) (sessionID string, err error) {
	if p.URI == "" {
		return "", fmt.Errorf("nostr-connect session requires a uri")
	}
	relays, err := nostrconn.NormalizeRelays(p.Relays)
	if err != nil {
		return "", err
	}

	keySecret, err := m.resolveKeySecret(ctx, p.KeyID)
	if err != nil {
		return "", errs.Wrap(errs.ErrSecretVaultFailure, "load signing key", err)
	}
	pubkeyHex, err := nostrconn.PubkeyHexFromPrivate(keySecret)
	if err != nil {
		return "", fmt.Errorf("derive pubkey: %w", err)
	}

	id := uuid.NewString()
	now := nowMillis()
	pol := m.resolvePolicy(p.Template)

	rec := store.SessionRecord{
		ID:          id,
		Type:        store.SessionNostrConnect,
		KeyID:       p.KeyID,
		Alias:       p.Alias,
		Relays:      relays,
		URI:         p.URI,
		AutoApprove: p.AutoApprove,
		Status:      store.StatusConnected,
		CreatedAt:   now,
		UpdatedAt:   now,
		Active:      true,
		Template:    pol.ID,
	}
	if err := m.store.UpsertSession(rec); err != nil {
		return "", err
	}

	provider := nostrconn.NewProvider(nostrconn.ModeNostrConnect, relays, keySecret, pubkeyHex, "")
	if err := provider.Start(ctx, p.URI); err != nil {
		return "", errs.Wrap(errs.ErrProviderFailure, "start nostr-connect provider", err)
	}

	rt := m.register(rec, provider, pol)
	m.runPipeline(rt)

	m.log.Record(activity.Entry{
		Type: activity.SessionStart, SessionID: id, SessionLabel: p.Alias,
		Summary: fmt.Sprintf("started nostr-connect session %q", p.Alias),
	})

	return id, nil
}

func (m *Manager) register(rec store.SessionRecord, provider *nostrconn.Provider, pol policy.Policy) *RuntimeSession {
	ref := &policyRef{current: pol}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &RuntimeSession{record: rec, provider: provider, policy: ref, cancel: cancel}

	m.mu.Lock()
	m.sessions[rec.ID] = rt
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
	}()
	return rt
}

// runPipeline spawns the goroutine that drains a session's provider
// activity channel through the signing pipeline for the lifetime of the
// session.
func (m *Manager) runPipeline(rt *RuntimeSession) {
	go func() {
		for a := range rt.provider.Events() {
			m.handleActivity(rt, a)
		}
	}()
}

func (m *Manager) handleActivity(rt *RuntimeSession, a nostrconn.ProviderActivity) {
	switch a.Kind {
	case nostrconn.ActivityClientConnected:
		m.onClientConnected(rt, a.Peer)
	case nostrconn.ActivityClientDisconnected:
		m.onClientDisconnected(rt, a.Peer)
	case nostrconn.ActivitySignRequest:
		m.onSignRequest(rt, a)
	case nostrconn.ActivityConnectRequest:
		// Authorization for pairing, not for signing: activity only, no
		// SessionRecord mutation (open question (c)).
		m.log.Record(activity.Entry{
			Type: activity.ProviderConnect, SessionID: rt.record.ID, SessionLabel: rt.record.Alias,
			Client: a.Peer, Summary: "pairing connect request",
		})
	case nostrconn.ActivityNIP04:
		m.log.Record(activity.Entry{Type: activity.NIP04, SessionID: rt.record.ID, Client: a.Peer, Summary: "nip04 payload"})
	case nostrconn.ActivityNIP44:
		m.log.Record(activity.Entry{Type: activity.NIP44, SessionID: rt.record.ID, Client: a.Peer, Summary: "nip44 payload"})
	case nostrconn.ActivitySignDecision:
		// Informational only: replyAndRecord already logged this decision
		// synchronously via the ReplyFunc this activity followed.
	}
}

func (m *Manager) onClientConnected(rt *RuntimeSession, peer string) {
	m.mu.Lock()
	rt.record.Status = store.StatusConnected
	rt.record.LastClient = peer
	rt.record.UpdatedAt = nowMillis()
	rt.record.Active = true
	rec := rt.record
	m.mu.Unlock()

	if err := m.store.UpsertSession(rec); err != nil {
		m.logger.Warn("persist client-connected failed", "error", err, "session_id", rec.ID)
	}
	m.log.Record(activity.Entry{
		Type: activity.ProviderConnect, SessionID: rec.ID, SessionLabel: rec.Alias,
		Client: peer, Summary: "client connected",
	})
}

func (m *Manager) onClientDisconnected(rt *RuntimeSession, peer string) {
	// Transient disconnects must survive: activity only, active stays
	// untouched. It flips to inactive only via explicit stop/delete.
	m.log.Record(activity.Entry{
		Type: activity.ProviderDisconnect, SessionID: rt.record.ID, SessionLabel: rt.record.Alias,
		Client: peer, Summary: "client disconnected",
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (m *Manager) onSignRequest(rt *RuntimeSession, a nostrconn.ProviderActivity) {
	m.log.Record(activity.Entry{
		Type: activity.SignRequest, SessionID: rt.record.ID, SessionLabel: rt.record.Alias,
		Client: a.Peer, Summary: fmt.Sprintf("sign-request kind %d: %s", a.EventKind, truncate(a.Content, 80)),
	})

	decision := m.evaluatePolicy(rt, a)

	switch decision {
	case policy.Sign:
		m.replyAndRecord(rt, a, true)
	case policy.Reject:
		m.replyAndRecord(rt, a, false)
	case policy.Refer:
		m.referAndAwait(rt, a)
	}
}

// evaluatePolicy evaluates the session's current policy, converting any
// panic into REJECT so the daemon never crashes on a misbehaving policy.
func (m *Manager) evaluatePolicy(rt *RuntimeSession, a nostrconn.ProviderActivity) (decision policy.Decision) {
	pol := rt.policy.get()
	ctx := policy.Context{
		EventKind: a.EventKind,
		Content:   a.Content,
		Peer:      a.Peer,
		Session:   policy.SessionSummary{ID: rt.record.ID, Alias: rt.record.Alias, Type: string(rt.record.Type)},
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("policy evaluation panicked, treating as reject", "error", r, "session_id", rt.record.ID)
			decision = policy.Reject
		}
	}()
	return pol.Evaluate(ctx)
}

func (m *Manager) replyAndRecord(rt *RuntimeSession, a nostrconn.ProviderActivity, approved bool) {
	if a.ReplyFunc != nil {
		a.ReplyFunc(approved)
	}
	m.log.Record(activity.Entry{
		Type: activity.SignResult, SessionID: rt.record.ID, SessionLabel: rt.record.Alias,
		Client: a.Peer, Summary: fmt.Sprintf("sign-result approved=%v", approved),
		Metadata: map[string]interface{}{"approved": approved},
	})
}

func (m *Manager) referAndAwait(rt *RuntimeSession, a nostrconn.ProviderActivity) {
	pol := rt.policy.get()
	draft, _ := json.Marshal(map[string]interface{}{"kind": a.EventKind, "content": a.Content})

	_, await, err := m.approvals.Create(context.Background(), approval.CreateParams{
		SessionID:    rt.record.ID,
		SessionAlias: rt.record.Alias,
		SessionType:  rt.record.Type,
		Client:       a.Peer,
		EventKind:    a.EventKind,
		EventSummary: truncate(a.Content, 80),
		DraftJSON:    string(draft),
		PolicyID:     pol.ID,
		PolicyLabel:  pol.Label,
		TTL:          m.approvalTTL(),
	})
	if err != nil {
		m.logger.Error("failed to create approval task", "error", err, "session_id", rt.record.ID)
		m.replyAndRecord(rt, a, false)
		return
	}

	approved := await(context.Background())
	m.replyAndRecord(rt, a, approved)
}

// Stop stops rt's provider, rejects its pending approvals, marks it
// inactive, and optionally deletes its row. Idempotent.
func (m *Manager) Stop(sessionID string, remove bool) error {
	m.mu.Lock()
	rt, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		rt.cancel()
		if err := rt.provider.Stop(); err != nil {
			m.logger.Warn("provider stop failed", "error", err, "session_id", sessionID)
		}
	}

	if err := m.approvals.RejectForSession(sessionID); err != nil {
		m.logger.Warn("reject pending approvals failed", "error", err, "session_id", sessionID)
	}

	if remove {
		if err := m.store.DeleteSession(sessionID); err != nil {
			return err
		}
	} else {
		rec, err := m.store.GetSession(sessionID)
		if err != nil {
			if errs.Is(err, errs.ErrNotFound) {
				return nil
			}
			return err
		}
		rec.Active = false
		rec.UpdatedAt = nowMillis()
		if err := m.store.UpsertSession(rec); err != nil {
			return err
		}
	}

	m.log.Record(activity.Entry{Type: activity.SessionStop, SessionID: sessionID, Summary: "session stopped"})
	return nil
}

// Rename updates a session's alias, both the persisted record and the
// running copy.
func (m *Manager) Rename(sessionID, alias string) error {
	rec, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	rec.Alias = alias
	rec.UpdatedAt = nowMillis()
	if err := m.store.UpsertSession(rec); err != nil {
		return err
	}

	m.mu.Lock()
	if rt, ok := m.sessions[sessionID]; ok {
		rt.record.Alias = alias
	}
	m.mu.Unlock()

	m.log.Record(activity.Entry{Type: activity.SessionUpdate, SessionID: sessionID, Summary: fmt.Sprintf("renamed to %q", alias)})
	return nil
}

// UpdateTemplate resolves templateID strictly (unknown ids are rejected,
// unlike the implicit fallback used for persisted records), persists it,
// and swaps the running policy reference. The in-flight REFER tasks keep
// their original policy label; only the next request observes the change.
func (m *Manager) UpdateTemplate(sessionID, templateID string) error {
	pol, ok := m.registry.Get(templateID)
	if !ok {
		return fmt.Errorf("template %q: %w", templateID, errs.ErrUnknownPolicy)
	}

	rec, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	rec.Template = pol.ID
	rec.UpdatedAt = nowMillis()
	if err := m.store.UpsertSession(rec); err != nil {
		return err
	}

	m.mu.Lock()
	if rt, ok := m.sessions[sessionID]; ok {
		rt.policy.set(pol)
	}
	m.mu.Unlock()

	m.log.Record(activity.Entry{Type: activity.SessionUpdate, SessionID: sessionID, Summary: fmt.Sprintf("template set to %q", pol.ID)})
	return nil
}

// List returns persisted session rows, optionally filtered to active ones.
func (m *Manager) List(activeOnly bool) ([]store.SessionRecord, error) {
	return m.store.ListSessions(activeOnly)
}

// RestoreOnBoot reads every active=true row and re-registers it with a
// freshly started provider. A failure on one record is logged and
// skipped; the rest proceed.
func (m *Manager) RestoreOnBoot(ctx context.Context) error {
	rows, err := m.store.ListSessions(true)
	if err != nil {
		return err
	}

	for _, rec := range rows {
		if err := m.restoreOne(ctx, rec); err != nil {
			m.logger.Error("failed to restore session on boot, skipping", "error", err, "session_id", rec.ID)
		}
	}
	return nil
}

// keyExists reports whether keyID still resolves in the Metadata Store,
// the condition invariant 1 requires before a record is eligible for
// boot restoration.
func (m *Manager) keyExists(keyID string) bool {
	keys, err := m.metaStore.ListKeys()
	if err != nil {
		m.logger.Warn("failed to list keys while checking restore eligibility", "error", err)
		return false
	}
	for _, k := range keys {
		if k.ID == keyID {
			return true
		}
	}
	return false
}

func (m *Manager) restoreOne(ctx context.Context, rec store.SessionRecord) error {
	if !m.keyExists(rec.KeyID) {
		return fmt.Errorf("key_id %q no longer resolves in the metadata store", rec.KeyID)
	}

	keySecret, err := m.resolveKeySecret(ctx, rec.KeyID)
	if err != nil {
		return errs.Wrap(errs.ErrSecretVaultFailure, "load signing key for restore", err)
	}
	pubkeyHex, err := nostrconn.PubkeyHexFromPrivate(keySecret)
	if err != nil {
		return err
	}

	pol := m.resolvePolicy(rec.Template)

	mode := nostrconn.ModeBunker
	startURI := ""
	if rec.Type == store.SessionNostrConnect {
		mode = nostrconn.ModeNostrConnect
		startURI = rec.URI
	}

	provider := nostrconn.NewProvider(mode, rec.Relays, keySecret, pubkeyHex, rec.Secret)
	if err := provider.Start(ctx, startURI); err != nil {
		return errs.Wrap(errs.ErrProviderFailure, "restart provider", err)
	}

	if rec.LastClient != "" && rec.Secret != "" {
		_ = provider.ResumeClient(ctx, rec.LastClient, rec.Secret)
	}

	rt := m.register(rec, provider, pol)
	m.runPipeline(rt)
	return nil
}
