// Package store implements the Session Store: the embedded SQL database
// that is the sole source of truth for resumable daemon state across
// restarts.
//
// Grounded on the teacher's internal/store/sqlite.go + migrations.go
// shape: a const schema applied with CREATE TABLE IF NOT EXISTS, an
// additive schema_migrations table, database/sql with
// github.com/mattn/go-sqlite3 as the driver, and WAL journaling for
// concurrent readers during a write.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"intercessio/internal/errs"
)

// SessionType enumerates pairing modes.
type SessionType string

const (
	SessionBunker       SessionType = "bunker"
	SessionNostrConnect SessionType = "nostr-connect"
)

// SessionStatus enumerates the pairing lifecycle.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusConnected SessionStatus = "connected"
)

// ApprovalStatus enumerates the REFER lifecycle.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// SessionRecord is the durable row for one pairing session.
type SessionRecord struct {
	ID          string
	Type        SessionType
	KeyID       string
	Alias       string
	Relays      []string
	Secret      string
	URI         string
	AutoApprove bool
	Status      SessionStatus
	LastClient  string
	CreatedAt   int64
	UpdatedAt   int64
	Active      bool
	Template    string
}

// ApprovalTask is the durable row for one suspended REFER decision.
type ApprovalTask struct {
	ID           string
	SessionID    string
	SessionAlias string
	SessionType  SessionType
	Client       string
	EventKind    int
	EventSummary string
	PolicyID     string
	PolicyLabel  string
	DraftJSON    string
	CreatedAt    int64
	ExpiresAt    int64
	Status       ApprovalStatus
}

// Store wraps a SQLite database implementing the session/approval schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errs.Wrap(errs.ErrStoreFailure, "create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "open database", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.ErrStoreFailure, "apply schema", err)
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.ErrStoreFailure, "apply migrations", err)
	}

	return &Store{db: db}, nil
}

// SetBusyTimeout adjusts the busy_timeout pragma, used by daemon wiring to
// honor a configured value instead of the Open default.
func (s *Store) SetBusyTimeout(ms int) error {
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertSession inserts or replaces a session row keyed by id.
func (s *Store) UpsertSession(r SessionRecord) error {
	relaysJSON, err := json.Marshal(r.Relays)
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "marshal relays", err)
	}

	_, err = s.db.Exec(`
INSERT INTO sessions (id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	type=excluded.type, key_id=excluded.key_id, alias=excluded.alias, relays_json=excluded.relays_json,
	secret=excluded.secret, uri=excluded.uri, auto_approve=excluded.auto_approve, status=excluded.status,
	last_client=excluded.last_client, updated_at=excluded.updated_at, active=excluded.active, template=excluded.template
`,
		r.ID, string(r.Type), r.KeyID, r.Alias, string(relaysJSON), nullableString(r.Secret), nullableString(r.URI),
		boolToInt(r.AutoApprove), string(r.Status), nullableString(r.LastClient), r.CreatedAt, r.UpdatedAt,
		boolToInt(r.Active), r.Template,
	)
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "upsert session", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetSession returns the session row with id, or errs.ErrNotFound.
func (s *Store) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(`
SELECT id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template
FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, fmt.Errorf("session %q: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return SessionRecord{}, errs.Wrap(errs.ErrStoreFailure, "get session", err)
	}
	return r, nil
}

// ListSessions returns all rows, optionally filtered to active ones.
func (s *Store) ListSessions(activeOnly bool) ([]SessionRecord, error) {
	query := `SELECT id, type, key_id, alias, relays_json, secret, uri, auto_approve, status, last_client, created_at, updated_at, active, template FROM sessions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "list sessions", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, errs.Wrap(errs.ErrStoreFailure, "scan session", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes the row with id. Idempotent.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "delete session", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (SessionRecord, error) {
	var r SessionRecord
	var relaysJSON string
	var secret, uri, lastClient sql.NullString
	var autoApprove, active int
	var typ, status string

	err := sc.Scan(&r.ID, &typ, &r.KeyID, &r.Alias, &relaysJSON, &secret, &uri, &autoApprove, &status,
		&lastClient, &r.CreatedAt, &r.UpdatedAt, &active, &r.Template)
	if err != nil {
		return SessionRecord{}, err
	}

	r.Type = SessionType(typ)
	r.Status = SessionStatus(status)
	r.Secret = secret.String
	r.URI = uri.String
	r.LastClient = lastClient.String
	r.AutoApprove = autoApprove != 0
	r.Active = active != 0

	if relaysJSON != "" {
		if err := json.Unmarshal([]byte(relaysJSON), &r.Relays); err != nil {
			return SessionRecord{}, fmt.Errorf("unmarshal relays: %w", err)
		}
	}
	return r, nil
}

// InsertApprovalTask inserts a new pending approval row.
func (s *Store) InsertApprovalTask(t ApprovalTask) error {
	_, err := s.db.Exec(`
INSERT INTO approval_tasks (id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.SessionAlias, string(t.SessionType), t.Client, t.EventKind, t.EventSummary,
		t.PolicyID, t.PolicyLabel, t.DraftJSON, t.CreatedAt, t.ExpiresAt, string(t.Status),
	)
	if err != nil {
		return errs.Wrap(errs.ErrStoreFailure, "insert approval task", err)
	}
	return nil
}

// UpdateApprovalStatus sets status for task id, returning the number of
// rows affected (0 means the id did not exist).
func (s *Store) UpdateApprovalStatus(id string, status ApprovalStatus) (int64, error) {
	res, err := s.db.Exec(`UPDATE approval_tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return 0, errs.Wrap(errs.ErrStoreFailure, "update approval status", err)
	}
	return res.RowsAffected()
}

// UpdatePendingStatusForSession transitions every pending task of session
// sessionID to status, returning their ids.
func (s *Store) UpdatePendingStatusForSession(sessionID string, status ApprovalStatus) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM approval_tasks WHERE session_id = ? AND status = ?`, sessionID, string(ApprovalPending))
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "select pending approvals", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.ErrStoreFailure, "scan approval id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "iterate pending approvals", err)
	}

	if len(ids) == 0 {
		return ids, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err = s.db.Exec(fmt.Sprintf(`UPDATE approval_tasks SET status = ? WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "bulk update approvals", err)
	}
	return ids, nil
}

// GetApprovalTask returns the row with id, or errs.ErrNotFound.
func (s *Store) GetApprovalTask(id string) (ApprovalTask, error) {
	row := s.db.QueryRow(`
SELECT id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status
FROM approval_tasks WHERE id = ?`, id)
	t, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return ApprovalTask{}, fmt.Errorf("approval task %q: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return ApprovalTask{}, errs.Wrap(errs.ErrStoreFailure, "get approval task", err)
	}
	return t, nil
}

// ListApprovalTasks returns all rows, optionally filtered by status.
func (s *Store) ListApprovalTasks(status ApprovalStatus) ([]ApprovalTask, error) {
	query := `SELECT id, session_id, session_alias, session_type, client, event_kind, event_summary, policy_id, policy_label, draft_json, created_at, expires_at, status FROM approval_tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStoreFailure, "list approval tasks", err)
	}
	defer rows.Close()

	var out []ApprovalTask
	for rows.Next() {
		t, err := scanApproval(rows)
		if err != nil {
			return nil, errs.Wrap(errs.ErrStoreFailure, "scan approval task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanApproval(sc scanner) (ApprovalTask, error) {
	var t ApprovalTask
	var sessionType, status string
	err := sc.Scan(&t.ID, &t.SessionID, &t.SessionAlias, &sessionType, &t.Client, &t.EventKind, &t.EventSummary,
		&t.PolicyID, &t.PolicyLabel, &t.DraftJSON, &t.CreatedAt, &t.ExpiresAt, &status)
	if err != nil {
		return ApprovalTask{}, err
	}
	t.SessionType = SessionType(sessionType)
	t.Status = ApprovalStatus(status)
	return t, nil
}
