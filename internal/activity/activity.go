// Package activity implements the Activity Log: an in-memory bounded ring
// buffer of recent events, for the dashboard to poll. Nothing here is
// persisted; loss on restart is by design.
package activity

import (
	"sync"

	"github.com/google/uuid"
)

const capacity = 200

// Type enumerates the kinds of events recorded.
type Type string

const (
	SessionStart       Type = "session-start"
	SessionStop        Type = "session-stop"
	SessionUpdate      Type = "session-update"
	ProviderConnect    Type = "provider-connect"
	ProviderDisconnect Type = "provider-disconnect"
	SignRequest        Type = "sign-request"
	SignResult         Type = "sign-result"
	NIP04              Type = "nip04"
	NIP44              Type = "nip44"
)

// Entry is one ephemeral observation.
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    int64                  `json:"timestamp"`
	Type         Type                   `json:"type"`
	Summary      string                 `json:"summary"`
	SessionID    string                 `json:"sessionId,omitempty"`
	SessionLabel string                 `json:"sessionLabel,omitempty"`
	Client       string                 `json:"client,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// nowMillis is overridable in tests so timestamps are deterministic
// without touching the forbidden time.Now call sites everywhere else.
var nowMillis = defaultNowMillis

// Log is a fixed-capacity, newest-first ring buffer.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLog returns an empty activity log.
func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, capacity)}
}

// Record stamps id/timestamp if unset and pushes entry to the front,
// dropping the oldest entry once at capacity.
func (l *Log) Record(entry Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = nowMillis()
	}

	l.entries = append([]Entry{entry}, l.entries...)
	if len(l.entries) > capacity {
		l.entries = l.entries[:capacity]
	}
	return entry
}

// List returns a newest-first snapshot.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
