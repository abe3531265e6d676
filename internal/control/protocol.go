// Package control implements the Control Plane: a local filesystem socket
// accepting newline-delimited JSON requests, dispatching to the Session
// Manager, Approval Manager, and read-only stores.
//
// Grounded on the teacher's internal/ipc/protocol.go + server.go shape
// (MkdirAll the socket directory, remove a stale socket, net.Listen on
// "unix", chmod 0600, one goroutine per connection), with framing
// simplified from the teacher's binary length-prefixed messages to plain
// newline-terminated JSON per the external interface contract: one
// request, one response, per connection.
package control

import "encoding/json"

// Request is the tagged-union envelope every control-plane line decodes
// into. Tag selects which Payload fields are meaningful.
type Request struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request tags, one per external interface entry.
const (
	TagPing                  = "ping"
	TagListSessions          = "list-sessions"
	TagListActivity          = "list-activity"
	TagListApprovals         = "list-approvals"
	TagResolveApproval       = "resolve-approval"
	TagStopSession           = "stop-session"
	TagDeleteSession         = "delete-session"
	TagRenameSession         = "rename-session"
	TagUpdateSessionTemplate = "update-session-template"
	TagStartBunker           = "start-bunker"
	TagStartNostrConnect     = "start-nostr-connect"
	TagShutdown              = "shutdown"
)

// ResolveApprovalPayload is the canonical shape for resolve-approval, per
// the external interface contract ({id, decision}). The alternate shape
// mentioned as an open question ({approvalId, approved}) is intentionally
// not accepted: one canonical shape, rejected otherwise.
type ResolveApprovalPayload struct {
	ID       string `json:"id"`
	Decision string `json:"decision"` // "approve" | "reject"
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

type RenameSessionPayload struct {
	SessionID string `json:"sessionId"`
	Alias     string `json:"alias"`
}

type UpdateTemplatePayload struct {
	SessionID string `json:"sessionId"`
	Template  string `json:"template"`
}

type StartBunkerPayload struct {
	KeyID       string   `json:"keyId"`
	Alias       string   `json:"alias"`
	Relays      []string `json:"relays"`
	Secret      string   `json:"secret,omitempty"`
	AutoApprove bool     `json:"autoApprove"`
	Template    string   `json:"template,omitempty"`
}

type StartNostrConnectPayload struct {
	KeyID       string   `json:"keyId"`
	Alias       string   `json:"alias"`
	Relays      []string `json:"relays"`
	URI         string   `json:"uri"`
	AutoApprove bool     `json:"autoApprove"`
	Template    string   `json:"template,omitempty"`
}

// Response is the tagged-union reply. Only the optional payload fields
// relevant to the request tag are populated (start-bunker sets both
// SessionID and BunkerURI; most tags set one or none).
type Response struct {
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	BunkerURI string         `json:"bunkerUri,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Sessions  []SessionView  `json:"sessions,omitempty"`
	Activity  []ActivityView `json:"activity,omitempty"`
	Approvals []ApprovalView `json:"approvals,omitempty"`
	Pong      *PongView      `json:"pong,omitempty"`
}

// SessionView is the control-plane projection of a SessionRecord. No
// secret material is ever included.
type SessionView struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	KeyID       string   `json:"keyId"`
	Alias       string   `json:"alias"`
	Relays      []string `json:"relays"`
	URI         string   `json:"uri,omitempty"`
	AutoApprove bool     `json:"autoApprove"`
	Status      string   `json:"status"`
	LastClient  string   `json:"lastClient,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
	Active      bool     `json:"active"`
	Template    string   `json:"template"`
}

// ActivityView is the control-plane projection of an activity.Entry.
type ActivityView struct {
	ID           string                 `json:"id"`
	Timestamp    int64                  `json:"timestamp"`
	Type         string                 `json:"type"`
	Summary      string                 `json:"summary"`
	SessionID    string                 `json:"sessionId,omitempty"`
	SessionLabel string                 `json:"sessionLabel,omitempty"`
	Client       string                 `json:"client,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ApprovalView is the control-plane projection of a store.ApprovalTask.
type ApprovalView struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	SessionAlias string `json:"sessionAlias"`
	SessionType  string `json:"sessionType"`
	Client       string `json:"client"`
	EventKind    int    `json:"eventKind"`
	EventSummary string `json:"eventSummary"`
	PolicyID     string `json:"policyId"`
	PolicyLabel  string `json:"policyLabel"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
	Status       string `json:"status"`
}

// PongView extends ping's response with daemon health details, a
// supplemented feature beyond the bare {ok:true} the external interface
// mandates as a floor.
type PongView struct {
	StartedAt int64 `json:"startedAt"`
	UptimeMs  int64 `json:"uptimeMs"`
}

func ok() Response                 { return Response{OK: true} }
func errResponse(msg string) Response { return Response{OK: false, Error: msg} }
